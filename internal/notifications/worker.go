package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	NumWorkers        int
	// StuckAfter is how long an item may stay in processing before it is
	// returned to the queue on start.
	StuckAfter time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         100,
		PollInterval:      5 * time.Second,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		NumWorkers:        5,
		StuckAfter:        10 * time.Minute,
	}
}

// Worker processes notifications from the queue.
type Worker struct {
	config     WorkerConfig
	repo       Repository
	dispatcher *Dispatcher
	renderer   *Renderer

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new notification worker.
func NewWorker(config WorkerConfig, repo Repository, dispatcher *Dispatcher, renderer *Renderer) *Worker {
	return &Worker{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
		renderer:   renderer,
		stopCh:     make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
	)

	if w.config.StuckAfter > 0 {
		n, err := w.repo.RecoverStuckProcessing(ctx, w.config.StuckAfter)
		if err != nil {
			slog.Error("failed to recover stuck notifications", "error", err)
		} else if n > 0 {
			recovered.Add(float64(n))
			slog.Warn("recovered stuck notifications", "count", n)
		}
	}

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		slog.Info("notification worker stopped")
	})
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.ProcessBatch(ctx, workerID)
		}
	}
}

// ProcessBatch claims one batch of due items and delivers them. It returns
// the number of items claimed.
func (w *Worker) ProcessBatch(ctx context.Context, workerID int) int {
	items, err := w.repo.FetchPendingNotifications(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch pending notifications", "worker", workerID, "error", err)
		return 0
	}

	if len(items) == 0 {
		return 0
	}

	slog.Debug("processing notifications", "worker", workerID, "count", len(items))
	claimed.Add(float64(len(items)))

	for _, item := range items {
		w.processItem(ctx, item)
	}
	return len(items)
}

func (w *Worker) processItem(ctx context.Context, item *QueueItem) {
	start := time.Now()

	subject, body, err := w.renderer.Render(item.ChannelType, item.Payload)
	if err != nil {
		slog.Error("failed to render", "item_id", item.ID, "error", err)
		w.markFailed(ctx, item, err)
		return
	}

	err = w.dispatcher.SendToChannel(ctx, item.ChannelType, Notification{
		To:      item.Target,
		Subject: subject,
		Body:    body,
	})
	duration := time.Since(start)

	if err != nil {
		w.handleSendError(ctx, item, err)
		return
	}

	if err := w.repo.MarkAsSent(ctx, item.ID); err != nil {
		slog.Error("failed to mark as sent", "item_id", item.ID, "error", err)
	}

	recordDelivery(item, outcomeSent)
	recordDeliveryDuration(item.ChannelType, duration)

	slog.Debug("notification sent",
		"item_id", item.ID,
		"incident_id", item.IncidentID,
		"channel_type", item.ChannelType,
		"duration", duration,
	)
}

func (w *Worker) handleSendError(ctx context.Context, item *QueueItem, err error) {
	slog.Warn("send failed",
		"item_id", item.ID,
		"incident_id", item.IncidentID,
		"channel_type", item.ChannelType,
		"attempt", item.Attempts+1,
		"max_attempts", item.MaxAttempts,
		"error", err,
	)

	if !isRetryable(err) {
		w.markFailed(ctx, item, err)
		return
	}

	if item.Exhausted() {
		w.markFailed(ctx, item, fmt.Errorf("max attempts exceeded: %w", err))
		return
	}

	nextAttempt := w.calculateNextAttempt(item.Attempts + 1)
	if after := retryAfter(err); after > 0 && time.Now().Add(after).After(nextAttempt) {
		nextAttempt = time.Now().Add(after)
	}
	if markErr := w.repo.MarkForRetry(ctx, item.ID, err, nextAttempt); markErr != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", markErr)
	}
	recordDelivery(item, outcomeRetry)

	slog.Info("notification scheduled for retry",
		"item_id", item.ID,
		"next_attempt", nextAttempt,
	)
}

func (w *Worker) markFailed(ctx context.Context, item *QueueItem, cause error) {
	if markErr := w.repo.MarkAsFailed(ctx, item.ID, cause); markErr != nil {
		slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
	}
	recordDelivery(item, outcomeFailed)
}

func (w *Worker) calculateNextAttempt(attempt int) time.Time {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Now().Add(time.Duration(backoff))
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// retryAfter returns the delay a sender asked for, if any.
func retryAfter(err error) time.Duration {
	type delayed interface {
		RetryDelay() time.Duration
	}
	var d delayed
	if errors.As(err, &d) {
		return d.RetryDelay()
	}
	return 0
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
