// Package notifications delivers incident change notifications to the
// configured channels through a persistent queue.
package notifications

import (
	"context"
	"time"
)

// Repository defines the interface for the notification queue.
type Repository interface {
	Enqueue(ctx context.Context, items []*QueueItem) error
	// FetchPendingNotifications claims up to limit due items and marks them
	// processing. Concurrent callers never receive the same item.
	FetchPendingNotifications(ctx context.Context, limit int) ([]*QueueItem, error)
	MarkAsSent(ctx context.Context, id string) error
	MarkAsFailed(ctx context.Context, id string, cause error) error
	MarkForRetry(ctx context.Context, id string, cause error, nextAttempt time.Time) error
	// RecoverStuckProcessing returns items left in processing for longer
	// than olderThan to pending, after a worker died mid-send.
	RecoverStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}
