package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Pool bounds the connection pool Open configures.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

var DefaultPool = Pool{
	MaxOpen:     20,
	MaxIdle:     10,
	MaxLifetime: 30 * time.Minute,
	MaxIdleTime: 5 * time.Minute,
}

func Open(ctx context.Context, databaseURL string, pool Pool) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(pool.MaxIdleTime)
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetMaxOpenConns(pool.MaxOpen)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
