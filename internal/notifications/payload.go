package notifications

import (
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
)

// MessageType defines the type of notification.
type MessageType string

// Message types.
const (
	MessageTypeInitial  MessageType = "initial"  // Incident reported
	MessageTypeUpdate   MessageType = "update"   // Status changed or narrative posted
	MessageTypeResolved MessageType = "resolved" // Incident resolved
)

// MessageTypes lists every message type with a template.
var MessageTypes = []MessageType{MessageTypeInitial, MessageTypeUpdate, MessageTypeResolved}

// NotificationPayload contains data for rendering a notification.
type NotificationPayload struct {
	MessageType MessageType   `json:"message_type"`
	Incident    IncidentData  `json:"incident"`
	Changes     *StatusChange `json:"changes,omitempty"`
	Update      *UpdateNote   `json:"update,omitempty"`
	Resolution  *Resolution   `json:"resolution,omitempty"`
	IncidentURL string        `json:"incident_url,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// IncidentData is the incident snapshot carried by a notification.
type IncidentData struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Impact      string    `json:"impact"`
	AssignedTo  string    `json:"assigned_to,omitempty"`
	Reporter    string    `json:"reporter"`
	Components  []string  `json:"components,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusChange describes a status transition.
type StatusChange struct {
	StatusFrom string `json:"status_from"`
	StatusTo   string `json:"status_to"`
	Actor      string `json:"actor"`
}

// UpdateNote is a posted status narrative.
type UpdateNote struct {
	Author   string    `json:"author"`
	Content  string    `json:"content"`
	PostedAt time.Time `json:"posted_at"`
}

// Resolution contains resolution information.
type Resolution struct {
	ResolvedAt time.Time     `json:"resolved_at"`
	Duration   time.Duration `json:"duration"`
}

// NewIncidentData snapshots an incident for a payload.
func NewIncidentData(incident *domain.Incident) IncidentData {
	data := IncidentData{
		ID:          incident.ID,
		Title:       incident.Title,
		Description: incident.Description,
		Status:      string(incident.Status),
		Priority:    string(incident.Priority),
		Impact:      string(incident.Impact),
		Reporter:    incident.Reporter,
		Components:  incident.Components,
		CreatedAt:   incident.CreatedAt,
	}
	if incident.AssignedTo != nil {
		data.AssignedTo = *incident.AssignedTo
	}
	return data
}

// NewInitialPayload creates a payload for a newly reported incident.
func NewInitialPayload(incident IncidentData, incidentURL string, now time.Time) NotificationPayload {
	return NotificationPayload{
		MessageType: MessageTypeInitial,
		Incident:    incident,
		IncidentURL: incidentURL,
		GeneratedAt: now,
	}
}

// NewStatusPayload creates a payload for a status transition.
func NewStatusPayload(incident IncidentData, changes StatusChange, incidentURL string, now time.Time) NotificationPayload {
	return NotificationPayload{
		MessageType: MessageTypeUpdate,
		Incident:    incident,
		Changes:     &changes,
		IncidentURL: incidentURL,
		GeneratedAt: now,
	}
}

// NewUpdatePayload creates a payload for a posted status narrative.
func NewUpdatePayload(incident IncidentData, update UpdateNote, incidentURL string, now time.Time) NotificationPayload {
	return NotificationPayload{
		MessageType: MessageTypeUpdate,
		Incident:    incident,
		Update:      &update,
		IncidentURL: incidentURL,
		GeneratedAt: now,
	}
}

// NewResolvedPayload creates a payload for an incident resolution.
func NewResolvedPayload(incident IncidentData, changes StatusChange, resolution Resolution, incidentURL string, now time.Time) NotificationPayload {
	return NotificationPayload{
		MessageType: MessageTypeResolved,
		Incident:    incident,
		Changes:     &changes,
		Resolution:  &resolution,
		IncidentURL: incidentURL,
		GeneratedAt: now,
	}
}
