package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// fondosPool creates a pgxpool.Pool from cfg.Store.DatabaseURL and verifies
// connectivity before handing it out.
func fondosPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.Store.DatabaseURL
	if dsn == "" {
		return nil, eris.New("fondos: no database_url configured (set store.database_url)")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "fondos: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "fondos: ping database")
	}

	fmt.Println("Connected to database")
	return pool, nil
}
