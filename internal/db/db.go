package db

import (
    "context"
    "database/sql"
    "embed"
    "fmt"
    "time"

    _ "github.com/lib/pq"

    "github.com/unclebandit/portal-dispatch/internal/config"
)

// MigrationFS holds the versioned schema applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
    conn, err := sql.Open("postgres", cfg.DSN())
    if err != nil {
        return nil, fmt.Errorf("failed to connect to DB: %w", err)
    }

    conn.SetMaxOpenConns(25)
    conn.SetMaxIdleConns(5)
    conn.SetConnMaxLifetime(30 * time.Minute)

    pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    if err := conn.PingContext(pingCtx); err != nil {
        conn.Close()
        return nil, fmt.Errorf("failed to ping DB: %w", err)
    }
    return conn, nil
}
