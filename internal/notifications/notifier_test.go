package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository implements Repository in memory.
type mockRepository struct {
	mu         sync.Mutex
	items      map[string]*QueueItem
	order      []string
	enqueueErr error
	recovered  int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{items: make(map[string]*QueueItem)}
}

func (m *mockRepository) Enqueue(_ context.Context, items []*QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	for _, item := range items {
		c := *item
		m.items[item.ID] = &c
		m.order = append(m.order, item.ID)
	}
	return nil
}

func (m *mockRepository) FetchPendingNotifications(_ context.Context, limit int) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*QueueItem
	for _, id := range m.order {
		item := m.items[id]
		if item.Status != QueueStatusPending || item.NextAttemptAt.After(time.Now()) {
			continue
		}
		item.Status = QueueStatusProcessing
		c := *item
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockRepository) MarkAsSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return ErrQueueItemNotFound
	}
	now := time.Now()
	item.Status = QueueStatusSent
	item.Attempts++
	item.SentAt = &now
	return nil
}

func (m *mockRepository) MarkAsFailed(_ context.Context, id string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return ErrQueueItemNotFound
	}
	item.Status = QueueStatusFailed
	item.Attempts++
	item.LastError = cause.Error()
	return nil
}

func (m *mockRepository) MarkForRetry(_ context.Context, id string, cause error, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return ErrQueueItemNotFound
	}
	item.Status = QueueStatusPending
	item.Attempts++
	item.LastError = cause.Error()
	item.NextAttemptAt = next
	return nil
}

func (m *mockRepository) RecoverStuckProcessing(_ context.Context, _ time.Duration) (int64, error) {
	return m.recovered, nil
}

func (m *mockRepository) GetQueueStats(_ context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats QueueStats
	for _, item := range m.items {
		switch item.Status {
		case QueueStatusPending:
			stats.Pending++
		case QueueStatusProcessing:
			stats.Processing++
		case QueueStatusSent:
			stats.Sent++
		case QueueStatusFailed:
			stats.Failed++
		}
	}
	return &stats, nil
}

func (m *mockRepository) all() []QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueItem, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.items[id])
	}
	return out
}

func testIncident() *domain.Incident {
	created := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	assignee := "erin"
	return &domain.Incident{
		ID:          "INC-007",
		Title:       "Checkout latency",
		Description: "p99 above 3s",
		Status:      domain.IncidentStatusInvestigating,
		Priority:    domain.LevelCritical,
		Impact:      domain.LevelHigh,
		AssignedTo:  &assignee,
		Reporter:    "alice",
		Components:  []string{"checkout", "payments"},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

var testChannels = []domain.NotificationChannel{
	{Type: domain.ChannelTypeMattermost, Target: "https://mm.example.com/hooks/abc"},
	{Type: domain.ChannelTypeEmail, Target: "oncall@example.com"},
	{Type: domain.ChannelTypeTelegram, Target: "-100123"},
}

func TestNotifier_OnIncidentCreated(t *testing.T) {
	repo := newMockRepository()
	n := NewNotifier(repo, NotifierConfig{
		Channels:    testChannels,
		BaseURL:     "https://respondr.example.com/",
		MaxAttempts: 5,
	}, nil)

	require.NoError(t, n.OnIncidentCreated(context.Background(), testIncident()))

	items := repo.all()
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, "INC-007", item.IncidentID)
		assert.Equal(t, testChannels[i].Type, item.ChannelType)
		assert.Equal(t, testChannels[i].Target, item.Target)
		assert.Equal(t, MessageTypeInitial, item.MessageType)
		assert.Equal(t, QueueStatusPending, item.Status)
		assert.Equal(t, 5, item.MaxAttempts)
		assert.Equal(t, "https://respondr.example.com/incidents/INC-007", item.Payload.IncidentURL)
		assert.Equal(t, "erin", item.Payload.Incident.AssignedTo)
		assert.NotEmpty(t, item.ID)
	}
}

func TestNotifier_OnStatusChanged(t *testing.T) {
	channels := testChannels[:1]

	t.Run("update", func(t *testing.T) {
		repo := newMockRepository()
		n := NewNotifier(repo, NotifierConfig{Channels: channels}, nil)

		inc := testIncident()
		inc.Status = domain.IncidentStatusIdentified
		require.NoError(t, n.OnStatusChanged(context.Background(), inc, domain.IncidentStatusInvestigating, "bob"))

		items := repo.all()
		require.Len(t, items, 1)
		assert.Equal(t, MessageTypeUpdate, items[0].MessageType)
		require.NotNil(t, items[0].Payload.Changes)
		assert.Equal(t, StatusChange{StatusFrom: "investigating", StatusTo: "identified", Actor: "bob"}, *items[0].Payload.Changes)
		assert.Nil(t, items[0].Payload.Resolution)
		assert.Empty(t, items[0].Payload.IncidentURL)
	})

	t.Run("resolved", func(t *testing.T) {
		repo := newMockRepository()
		n := NewNotifier(repo, NotifierConfig{Channels: channels}, nil)

		inc := testIncident()
		resolvedAt := inc.CreatedAt.Add(90 * time.Minute)
		inc.Status = domain.IncidentStatusResolved
		inc.ResolvedAt = &resolvedAt
		require.NoError(t, n.OnStatusChanged(context.Background(), inc, domain.IncidentStatusMonitoring, "bob"))

		items := repo.all()
		require.Len(t, items, 1)
		assert.Equal(t, MessageTypeResolved, items[0].MessageType)
		require.NotNil(t, items[0].Payload.Resolution)
		assert.Equal(t, 90*time.Minute, items[0].Payload.Resolution.Duration)
	})
}

func TestNotifier_OnUpdatePosted(t *testing.T) {
	repo := newMockRepository()
	n := NewNotifier(repo, NotifierConfig{Channels: testChannels[:1]}, nil)

	posted := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	err := n.OnUpdatePosted(context.Background(), testIncident(), domain.Comment{
		ID:        "c1",
		Author:    "carol",
		Content:   "Rolled back the release",
		CreatedAt: posted,
		IsUpdate:  true,
	})
	require.NoError(t, err)

	items := repo.all()
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Payload.Update)
	assert.Equal(t, UpdateNote{Author: "carol", Content: "Rolled back the release", PostedAt: posted}, *items[0].Payload.Update)
}

func TestNotifier_SkipsUnsupportedChannels(t *testing.T) {
	repo := newMockRepository()
	supported := func(t domain.ChannelType) bool { return t == domain.ChannelTypeMattermost }
	n := NewNotifier(repo, NotifierConfig{Channels: testChannels}, supported)

	require.NoError(t, n.OnIncidentCreated(context.Background(), testIncident()))
	items := repo.all()
	require.Len(t, items, 1)
	assert.Equal(t, domain.ChannelTypeMattermost, items[0].ChannelType)
}

func TestNotifier_NoChannels(t *testing.T) {
	repo := newMockRepository()
	repo.enqueueErr = errors.New("must not be called")
	n := NewNotifier(repo, NotifierConfig{}, nil)

	assert.NoError(t, n.OnIncidentCreated(context.Background(), testIncident()))
}

func TestNotifier_EnqueueError(t *testing.T) {
	repo := newMockRepository()
	repo.enqueueErr = errors.New("connection reset")
	n := NewNotifier(repo, NotifierConfig{Channels: testChannels}, nil)

	err := n.OnIncidentCreated(context.Background(), testIncident())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
