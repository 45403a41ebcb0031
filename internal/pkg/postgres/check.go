package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Diagnostics describes the server behind a pool.
type Diagnostics struct {
	ServerVersion string
	Tables        []string
}

// Check reports the server version and the tables in the public schema.
func Check(ctx context.Context, pool *pgxpool.Pool) (*Diagnostics, error) {
	var d Diagnostics
	if err := pool.QueryRow(ctx, `SELECT version()`).Scan(&d.ServerVersion); err != nil {
		return nil, fmt.Errorf("query server version: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	d.Tables, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan tables: %w", err)
	}
	return &d, nil
}
