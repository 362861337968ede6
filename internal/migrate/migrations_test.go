package migrate

import (
	"context"
	"testing"

	"adoptline/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	h, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	ctx := context.Background()

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	want := migrations[len(migrations)-1].Version

	for i := 0; i < 2; i++ {
		got, err := Migrate(ctx, h)
		if err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("run %d: version %d, want %d", i, got, want)
		}
	}
	for _, table := range []string{"products", "task_templates", "template_attributes", "entitlements", "adoption_plans", "task_instances", "customer_attributes", "telemetry_values"} {
		var n int
		if err := h.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			t.Fatalf("table %s: %v", table, err)
		}
	}
}
