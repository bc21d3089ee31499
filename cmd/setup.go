package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/materialize"
	"github.com/sells-group/feature-store/internal/model"
	"github.com/sells-group/feature-store/internal/offline"
	"github.com/sells-group/feature-store/internal/online"
	"github.com/sells-group/feature-store/internal/registry"
)

// storePool connects to the configured Postgres database.
func storePool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("no database_url configured (set store.database_url or FEATURESTORE_STORE_DATABASE_URL)")
	}
	return db.Connect(ctx, cfg.Store.DatabaseURL, nil)
}

// openOffline opens the configured offline store driver. For sqlite the
// schema is created on open.
func openOffline(ctx context.Context, pool db.Pool) (offline.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return offline.NewPostgres(pool), nil
	case "sqlite":
		s, err := offline.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("unknown offline driver %q", cfg.Store.Driver)
	}
}

// openOnline opens the configured online store driver.
func openOnline(ctx context.Context, pool db.Pool) (online.Store, error) {
	switch cfg.Online.Driver {
	case "postgres":
		return online.NewPostgres(pool), nil
	case "redis":
		return online.NewRedis(ctx, cfg.Online.RedisAddr, cfg.Online.RedisPassword, cfg.Online.RedisDB)
	default:
		return nil, eris.Errorf("unknown online driver %q", cfg.Online.Driver)
	}
}

// activeFeatureIDs lists the feature_ids of all active definitions.
func activeFeatureIDs(ctx context.Context, reg *registry.Registry) ([]string, error) {
	defs, err := reg.List(ctx, true)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		ids = append(ids, def.FeatureID)
	}
	return ids, nil
}

// streamingFeatures returns the library's streaming implementations.
func streamingFeatures(lib *materialize.Library) []*materialize.SQLFeature {
	var out []*materialize.SQLFeature
	for _, f := range lib.All() {
		if f.Mode() != model.ModeStreaming {
			continue
		}
		if sf, ok := f.(*materialize.SQLFeature); ok {
			out = append(out, sf)
		}
	}
	return out
}
