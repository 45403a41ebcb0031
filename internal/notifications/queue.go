package notifications

import (
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
)

// QueueStatus is the delivery state of a queued notification.
type QueueStatus string

// Queue statuses. An item moves pending -> processing -> sent | failed, and
// back to pending when a retryable send error schedules another attempt.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueItem is one incident notification addressed to one channel target.
type QueueItem struct {
	ID            string
	IncidentID    string
	ChannelType   domain.ChannelType
	Target        string
	MessageType   MessageType
	Payload       NotificationPayload
	Status        QueueStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

// Exhausted reports whether the attempt in progress is the last one allowed.
func (q *QueueItem) Exhausted() bool {
	return q.Attempts+1 >= q.MaxAttempts
}

// QueueStats counts queue items by status.
type QueueStats struct {
	Pending    int
	Processing int
	Sent       int
	Failed     int
}

// ByStatus returns the counters keyed by queue status.
func (s *QueueStats) ByStatus() map[QueueStatus]int {
	return map[QueueStatus]int{
		QueueStatusPending:    s.Pending,
		QueueStatusProcessing: s.Processing,
		QueueStatusSent:       s.Sent,
		QueueStatusFailed:     s.Failed,
	}
}

// Backlog is the number of items not yet delivered or given up on.
func (s *QueueStats) Backlog() int {
	return s.Pending + s.Processing
}
