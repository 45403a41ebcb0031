package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_CalculateNextAttempt(t *testing.T) {
	config := WorkerConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}

	worker := &Worker{config: config}

	tests := []struct {
		name            string
		attempt         int
		expectedBackoff time.Duration
	}{
		{"first retry", 1, 1 * time.Second},
		{"second retry", 2, 2 * time.Second},
		{"third retry", 3, 4 * time.Second},
		{"fourth retry", 4, 8 * time.Second},
		{"fifth retry", 5, 16 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			result := worker.calculateNextAttempt(tt.attempt)
			after := time.Now()

			// Result should be between now+expectedBackoff and after+expectedBackoff
			expectedMin := before.Add(tt.expectedBackoff)
			expectedMax := after.Add(tt.expectedBackoff)

			assert.True(t, result.After(expectedMin) || result.Equal(expectedMin),
				"result %v should be >= %v", result, expectedMin)
			assert.True(t, result.Before(expectedMax) || result.Equal(expectedMax),
				"result %v should be <= %v", result, expectedMax)
		})
	}
}

func TestWorker_CalculateNextAttempt_MaxBackoff(t *testing.T) {
	config := WorkerConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	worker := &Worker{config: config}

	// After many attempts, backoff should be capped at MaxBackoff
	before := time.Now()
	result := worker.calculateNextAttempt(100)

	expectedBackoff := config.MaxBackoff
	expectedMin := before.Add(expectedBackoff)

	assert.True(t, result.After(expectedMin) || result.Equal(expectedMin),
		"result should be at least %v after now", expectedBackoff)

	// Should not exceed MaxBackoff significantly
	expectedMax := time.Now().Add(expectedBackoff + time.Second)
	assert.True(t, result.Before(expectedMax),
		"result should not exceed MaxBackoff")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable error",
			err:      NewRetryableError(errors.New("temporary error")),
			expected: true,
		},
		{
			name:     "non-retryable error",
			err:      NewNonRetryableError(errors.New("permanent error")),
			expected: false,
		},
		{
			name:     "generic error defaults to retryable",
			err:      errors.New("unknown error"),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRetryable(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRetryableError(t *testing.T) {
	originalErr := errors.New("original error")

	t.Run("retryable error", func(t *testing.T) {
		err := NewRetryableError(originalErr)

		assert.Equal(t, "original error", err.Error())
		assert.True(t, err.IsRetryable())
		assert.Equal(t, originalErr, errors.Unwrap(err))
	})

	t.Run("non-retryable error", func(t *testing.T) {
		err := NewNonRetryableError(originalErr)

		assert.Equal(t, "original error", err.Error())
		assert.False(t, err.IsRetryable())
		assert.Equal(t, originalErr, errors.Unwrap(err))
	})
}

func TestDefaultWorkerConfig(t *testing.T) {
	config := DefaultWorkerConfig()

	assert.Equal(t, 100, config.BatchSize)
	assert.Equal(t, 5*time.Second, config.PollInterval)
	assert.Equal(t, 1*time.Second, config.InitialBackoff)
	assert.Equal(t, 5*time.Minute, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffMultiplier)
	assert.Equal(t, 5, config.NumWorkers)
	assert.Equal(t, 10*time.Minute, config.StuckAfter)
}

type delayedError struct {
	delay time.Duration
}

func (e *delayedError) Error() string             { return "slow down" }
func (e *delayedError) IsRetryable() bool         { return true }
func (e *delayedError) RetryDelay() time.Duration { return e.delay }

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, time.Minute, retryAfter(fmt.Errorf("wrapped: %w", &delayedError{delay: time.Minute})))
	assert.Zero(t, retryAfter(errors.New("plain")))
}

type mockSender struct {
	channel domain.ChannelType
	mu      sync.Mutex
	sent    []Notification
	err     error
}

func (s *mockSender) Type() domain.ChannelType { return s.channel }

func (s *mockSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func newTestWorker(t *testing.T, repo Repository, senders ...Sender) *Worker {
	t.Helper()
	renderer, err := NewRenderer()
	require.NoError(t, err)

	config := DefaultWorkerConfig()
	config.InitialBackoff = time.Minute
	return NewWorker(config, repo, NewDispatcher(senders...), renderer)
}

func enqueueTestItem(t *testing.T, repo *mockRepository, channel domain.ChannelType, maxAttempts int) {
	t.Helper()
	n := NewNotifier(repo, NotifierConfig{
		Channels:    []domain.NotificationChannel{{Type: channel, Target: "target-1"}},
		MaxAttempts: maxAttempts,
	}, nil)
	require.NoError(t, n.OnIncidentCreated(context.Background(), testIncident()))
}

func TestWorker_ProcessBatch_Success(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{channel: domain.ChannelTypeMattermost}
	enqueueTestItem(t, repo, domain.ChannelTypeMattermost, 3)

	w := newTestWorker(t, repo, sender)
	assert.Equal(t, 1, w.ProcessBatch(context.Background(), 0))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "target-1", sender.sent[0].To)
	assert.Equal(t, "[INC-007 Critical] Checkout latency", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Body, "Checkout latency")

	items := repo.all()
	assert.Equal(t, QueueStatusSent, items[0].Status)
	assert.NotNil(t, items[0].SentAt)

	assert.Zero(t, w.ProcessBatch(context.Background(), 0))
}

func TestWorker_ProcessBatch_Retry(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{channel: domain.ChannelTypeEmail, err: NewRetryableError(errors.New("smtp busy"))}
	enqueueTestItem(t, repo, domain.ChannelTypeEmail, 3)

	w := newTestWorker(t, repo, sender)
	before := time.Now()
	w.ProcessBatch(context.Background(), 0)

	items := repo.all()
	assert.Equal(t, QueueStatusPending, items[0].Status)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, "smtp busy", items[0].LastError)
	assert.False(t, items[0].NextAttemptAt.Before(before.Add(time.Minute)))

	// Not due yet.
	assert.Zero(t, w.ProcessBatch(context.Background(), 0))
}

func TestWorker_ProcessBatch_RetryDelayFromSender(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{channel: domain.ChannelTypeTelegram, err: &delayedError{delay: time.Hour}}
	enqueueTestItem(t, repo, domain.ChannelTypeTelegram, 3)

	w := newTestWorker(t, repo, sender)
	before := time.Now()
	w.ProcessBatch(context.Background(), 0)

	items := repo.all()
	assert.Equal(t, QueueStatusPending, items[0].Status)
	assert.False(t, items[0].NextAttemptAt.Before(before.Add(time.Hour)))
}

func TestWorker_ProcessBatch_PermanentFailure(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{channel: domain.ChannelTypeEmail, err: NewNonRetryableError(errors.New("mailbox unavailable"))}
	enqueueTestItem(t, repo, domain.ChannelTypeEmail, 3)

	w := newTestWorker(t, repo, sender)
	w.ProcessBatch(context.Background(), 0)

	items := repo.all()
	assert.Equal(t, QueueStatusFailed, items[0].Status)
	assert.Equal(t, "mailbox unavailable", items[0].LastError)
}

func TestWorker_ProcessBatch_MaxAttempts(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{channel: domain.ChannelTypeEmail, err: NewRetryableError(errors.New("timeout"))}
	enqueueTestItem(t, repo, domain.ChannelTypeEmail, 1)

	w := newTestWorker(t, repo, sender)
	w.ProcessBatch(context.Background(), 0)

	items := repo.all()
	assert.Equal(t, QueueStatusFailed, items[0].Status)
	assert.Contains(t, items[0].LastError, "max attempts exceeded")
}

func TestWorker_ProcessBatch_NoSender(t *testing.T) {
	repo := newMockRepository()
	enqueueTestItem(t, repo, domain.ChannelTypeTelegram, 3)

	w := newTestWorker(t, repo)
	w.ProcessBatch(context.Background(), 0)

	items := repo.all()
	assert.Equal(t, QueueStatusFailed, items[0].Status)
	assert.Contains(t, items[0].LastError, "no sender")
}

func TestWorker_StartStop(t *testing.T) {
	repo := newMockRepository()
	repo.recovered = 2
	sender := &mockSender{channel: domain.ChannelTypeMattermost}
	enqueueTestItem(t, repo, domain.ChannelTypeMattermost, 3)

	w := newTestWorker(t, repo, sender)
	w.config.PollInterval = 10 * time.Millisecond
	w.config.NumWorkers = 1

	w.Start(context.Background())
	assert.Eventually(t, func() bool {
		return repo.all()[0].Status == QueueStatusSent
	}, time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()
}
