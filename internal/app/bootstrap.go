package app

import (
	"context"
	"fmt"
	"log/slog"

	"adoptline/internal/config"
	"adoptline/internal/db"
	"adoptline/internal/engine"
	"adoptline/internal/migrate"
)

// Runtime is an opened store plus the engine built on top of it.
type Runtime struct {
	Handle db.Handle
	Engine engine.Engine
	Config *config.Config
}

func (r Runtime) Close() error {
	if r.Handle.DB == nil {
		return nil
	}
	return r.Handle.Close()
}

// Open connects to the configured database, applies pending migrations and
// returns a ready engine. The caller owns Close.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *slog.Logger) (Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	dbCfg, err := cfg.DBConfig(workspace)
	if err != nil {
		return Runtime{}, err
	}
	h, err := db.Open(dbCfg)
	if err != nil {
		return Runtime{}, fmt.Errorf("open %s database: %w", dbCfg.Driver, err)
	}
	version, err := migrate.Migrate(ctx, h)
	if err != nil {
		h.Close()
		return Runtime{}, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(h, cfg)
	if log != nil {
		eng.Log = log
		log.Debug("database ready", "driver", h.Dialect, "schema_version", version)
	}
	return Runtime{Handle: h, Engine: eng, Config: cfg}, nil
}
