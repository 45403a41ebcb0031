package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/respondr-uk/respondr/internal/pkg/postgres"
)

// StartPostgres starts a PostgreSQL container, applies the embedded
// migrations and opens a pool. Call the returned func to release both.
func StartPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	container, err := NewPostgresContainer(ctx)
	if err != nil {
		return nil, nil, err
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	migrator, err := postgres.NewMigrator(container.ConnectionString)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	err = migrator.Up()
	_ = migrator.Close()
	if err != nil {
		terminate()
		return nil, nil, err
	}

	pool, err := pgxpool.New(ctx, container.ConnectionString)
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("create test db pool: %w", err)
	}

	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

// TruncateAll empties every application table and resets the incident
// number sequence.
func TruncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	for _, stmt := range []string{
		`TRUNCATE notification_queue, incident_activity, incident_comments, incidents`,
		`ALTER SEQUENCE incident_number_seq RESTART WITH 1`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("reset database: %v", err)
		}
	}
}

// NewRedisClient starts a Redis container for the test and returns a client
// connected to it.
func NewRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := NewRedisContainer(ctx)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: container.Addr})
	t.Cleanup(func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return client
}
