package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueItem_Exhausted(t *testing.T) {
	item := &QueueItem{MaxAttempts: 3}

	item.Attempts = 1
	assert.False(t, item.Exhausted())

	item.Attempts = 2
	assert.True(t, item.Exhausted())
}

func TestQueueStats(t *testing.T) {
	stats := &QueueStats{Pending: 4, Processing: 1, Sent: 10, Failed: 2}

	assert.Equal(t, 5, stats.Backlog())
	assert.Equal(t, map[QueueStatus]int{
		QueueStatusPending:    4,
		QueueStatusProcessing: 1,
		QueueStatusSent:       10,
		QueueStatusFailed:     2,
	}, stats.ByStatus())
}
