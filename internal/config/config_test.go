package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Sync.Concurrency != 4 || cfg.Server.BasePath != "/v1" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("sync:\n  concurrency: 8\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Sync.Concurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.Sync.Concurrency)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":      "database:\n  driver: mysql\n",
		"postgres":    "database:\n  driver: postgres\n",
		"level":       "log:\n  level: loud\n",
		"format":      "log:\n  format: xml\n",
		"concurrency": "sync:\n  concurrency: 0\n",
		"base_path":   "server:\n  base_path: v1\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load optional: %v", err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "adoptline.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestDBConfig(t *testing.T) {
	cfg, err := FromYAML([]byte("database:\n  driver: postgresql\n  dsn: postgres://localhost/x\n"))
	if err != nil {
		t.Fatal(err)
	}
	dc, err := cfg.DBConfig("ws")
	if err != nil {
		t.Fatal(err)
	}
	if dc.Driver != "postgres" || dc.DSN != "postgres://localhost/x" || dc.Workspace != "ws" {
		t.Fatalf("unexpected db config: %+v", dc)
	}
}
