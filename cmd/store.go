package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-memory/internal/pipeline"
	"github.com/sells-group/invoice-memory/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "invoice-memory.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline opens the store, runs migrations and builds the pipeline.
// The caller owns closing the returned store.
func initPipeline(ctx context.Context) (store.Store, *pipeline.Pipeline, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}
	return st, pipeline.New(st, cfg.Confidence, cfg.Pipeline.Options()), nil
}
