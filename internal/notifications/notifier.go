package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/respondr-uk/respondr/internal/incidents"
	"github.com/respondr-uk/respondr/internal/pkg/ctxlog"
)

var _ incidents.ChangeNotifier = (*Notifier)(nil)

// NotifierConfig contains notifier configuration.
type NotifierConfig struct {
	// Channels receive every notification.
	Channels []domain.NotificationChannel
	// BaseURL of the dashboard, used to link incidents. Empty omits links.
	BaseURL     string
	MaxAttempts int
}

// Notifier turns incident changes into queue items, one per channel.
type Notifier struct {
	repo     Repository
	channels []domain.NotificationChannel
	baseURL  string
	attempts int
	now      func() time.Time
}

// NewNotifier creates a new Notifier. Channels whose type has no sender in
// supported are dropped with a warning.
func NewNotifier(repo Repository, config NotifierConfig, supported func(domain.ChannelType) bool) *Notifier {
	channels := make([]domain.NotificationChannel, 0, len(config.Channels))
	for _, ch := range config.Channels {
		if supported != nil && !supported(ch.Type) {
			slog.Warn("notification channel has no enabled sender, skipping", "channel_type", ch.Type)
			continue
		}
		channels = append(channels, ch)
	}

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}

	return &Notifier{
		repo:     repo,
		channels: channels,
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		attempts: attempts,
		now:      time.Now,
	}
}

// OnIncidentCreated queues the initial notification.
func (n *Notifier) OnIncidentCreated(ctx context.Context, incident *domain.Incident) error {
	payload := NewInitialPayload(NewIncidentData(incident), n.incidentURL(incident.ID), n.now())
	return n.enqueue(ctx, incident.ID, payload)
}

// OnStatusChanged queues an update, or a resolution when the incident
// moved to resolved.
func (n *Notifier) OnStatusChanged(ctx context.Context, incident *domain.Incident, from domain.IncidentStatus, actor string) error {
	data := NewIncidentData(incident)
	changes := StatusChange{
		StatusFrom: string(from),
		StatusTo:   string(incident.Status),
		Actor:      actor,
	}

	var payload NotificationPayload
	if incident.Status.IsResolved() {
		resolvedAt := incident.UpdatedAt
		if incident.ResolvedAt != nil {
			resolvedAt = *incident.ResolvedAt
		}
		payload = NewResolvedPayload(data, changes, Resolution{
			ResolvedAt: resolvedAt,
			Duration:   resolvedAt.Sub(incident.CreatedAt),
		}, n.incidentURL(incident.ID), n.now())
	} else {
		payload = NewStatusPayload(data, changes, n.incidentURL(incident.ID), n.now())
	}

	return n.enqueue(ctx, incident.ID, payload)
}

// OnUpdatePosted queues a status narrative.
func (n *Notifier) OnUpdatePosted(ctx context.Context, incident *domain.Incident, update domain.Comment) error {
	payload := NewUpdatePayload(NewIncidentData(incident), UpdateNote{
		Author:   update.Author,
		Content:  update.Content,
		PostedAt: update.CreatedAt,
	}, n.incidentURL(incident.ID), n.now())
	return n.enqueue(ctx, incident.ID, payload)
}

func (n *Notifier) enqueue(ctx context.Context, incidentID string, payload NotificationPayload) error {
	if len(n.channels) == 0 {
		ctxlog.FromContext(ctx).Debug("no notification channels configured", "incident_id", incidentID)
		return nil
	}

	now := n.now()
	items := make([]*QueueItem, 0, len(n.channels))
	for _, ch := range n.channels {
		items = append(items, &QueueItem{
			ID:            uuid.New().String(),
			IncidentID:    incidentID,
			ChannelType:   ch.Type,
			Target:        ch.Target,
			MessageType:   payload.MessageType,
			Payload:       payload,
			Status:        QueueStatusPending,
			MaxAttempts:   n.attempts,
			NextAttemptAt: now,
		})
	}

	if err := n.repo.Enqueue(ctx, items); err != nil {
		return fmt.Errorf("enqueue notifications: %w", err)
	}

	ctxlog.FromContext(ctx).Info("notifications queued",
		"incident_id", incidentID,
		"message_type", payload.MessageType,
		"channels", len(items),
	)
	return nil
}

func (n *Notifier) incidentURL(id string) string {
	if n.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/incidents/%s", n.baseURL, id)
}
