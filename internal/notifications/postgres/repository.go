// Package postgres provides PostgreSQL implementation of the notification queue.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/respondr-uk/respondr/internal/notifications"
)

var _ notifications.Repository = (*Repository)(nil)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const queueColumns = `id, incident_id, channel_type, target, message_type, payload, status,
	attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at, sent_at`

// Enqueue inserts items in a single batch.
func (r *Repository) Enqueue(ctx context.Context, items []*notifications.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO notification_queue (id, incident_id, channel_type, target, message_type, payload,
			status, max_attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	batch := &pgx.Batch{}
	for _, item := range items {
		payload, err := json.Marshal(item.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		batch.Queue(query,
			item.ID,
			item.IncidentID,
			item.ChannelType,
			item.Target,
			item.MessageType,
			payload,
			item.Status,
			item.MaxAttempts,
			item.NextAttemptAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	for _, item := range items {
		if err := results.QueryRow().Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
			_ = results.Close()
			return fmt.Errorf("enqueue %s: %w", item.ID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

// FetchPendingNotifications claims due items and marks them as processing.
// Rows locked by another worker are skipped.
func (r *Repository) FetchPendingNotifications(ctx context.Context, limit int) ([]*notifications.QueueItem, error) {
	query := `
		UPDATE notification_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending notifications: %w", err)
	}
	defer rows.Close()

	items := make([]*notifications.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending notifications: %w", err)
	}

	return items, nil
}

func scanQueueItem(row pgx.Row) (*notifications.QueueItem, error) {
	var (
		item      notifications.QueueItem
		payload   []byte
		lastError *string
	)
	err := row.Scan(
		&item.ID,
		&item.IncidentID,
		&item.ChannelType,
		&item.Target,
		&item.MessageType,
		&payload,
		&item.Status,
		&item.Attempts,
		&item.MaxAttempts,
		&item.NextAttemptAt,
		&lastError,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	if err := json.Unmarshal(payload, &item.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload of %s: %w", item.ID, err)
	}
	if lastError != nil {
		item.LastError = *lastError
	}
	return &item, nil
}

// MarkAsSent marks an item as delivered.
func (r *Repository) MarkAsSent(ctx context.Context, id string) error {
	query := `
		UPDATE notification_queue
		SET status = 'sent', attempts = attempts + 1, sent_at = NOW(), updated_at = NOW(), last_error = NULL
		WHERE id = $1
	`
	return r.exec(ctx, "mark as sent", query, id)
}

// MarkAsFailed marks an item as permanently failed.
func (r *Repository) MarkAsFailed(ctx context.Context, id string, cause error) error {
	query := `
		UPDATE notification_queue
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "mark as failed", query, id, cause.Error())
}

// MarkForRetry returns an item to the queue for another attempt.
func (r *Repository) MarkForRetry(ctx context.Context, id string, cause error, nextAttempt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'pending', attempts = attempts + 1, last_error = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "mark for retry", query, id, cause.Error(), nextAttempt)
}

func (r *Repository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrQueueItemNotFound
	}
	return nil
}

// RecoverStuckProcessing returns items left in processing by a crashed
// worker to the queue.
func (r *Repository) RecoverStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("recover stuck notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetQueueStats counts items per status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM notification_queue
	`
	var stats notifications.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Sent, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}
