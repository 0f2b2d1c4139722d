//go:build testutil

// Package testdb starts a throwaway Postgres with the sandbox schema applied.
package testdb

import (
	"context"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"academy/internal/sandbox/migrations"
	"academy/internal/store"
)

type DBHandle struct {
	*store.DB
	stop func(context.Context) error
}

// Close closes the pool and terminates the container.
func (h *DBHandle) Close() {
	_ = h.DB.Close()
	if h.stop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.stop(ctx)
	}
}

// Start runs postgres:16-alpine and applies migrations.
func Start(ctx context.Context) (*DBHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("academy"),
		postgres.WithUsername("academy"),
		postgres.WithPassword("academy"),
		tc.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		return nil, err
	}

	uri, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pg.Terminate(context.Background())
		return nil, err
	}
	db, err := store.NewDB(ctx, uri)
	if err != nil {
		_ = pg.Terminate(context.Background())
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		_ = db.Close()
		_ = pg.Terminate(context.Background())
		return nil, err
	}
	return &DBHandle{DB: db, stop: pg.Terminate}, nil
}
