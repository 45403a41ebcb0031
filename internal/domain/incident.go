package domain

import (
	"slices"
	"time"
)

// IncidentStatus represents the current status of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusIdentified    IncidentStatus = "identified"
	IncidentStatusMonitoring    IncidentStatus = "monitoring"
	IncidentStatusResolved      IncidentStatus = "resolved"
)

// IncidentStatuses lists all statuses in display order.
var IncidentStatuses = []IncidentStatus{
	IncidentStatusInvestigating,
	IncidentStatusIdentified,
	IncidentStatusMonitoring,
	IncidentStatusResolved,
}

// IsValid checks if the status is valid.
func (s IncidentStatus) IsValid() bool {
	return slices.Contains(IncidentStatuses, s)
}

// IsResolved checks if the status closes the incident.
func (s IncidentStatus) IsResolved() bool {
	return s == IncidentStatusResolved
}

// Level is shared by priority and impact.
type Level string

// Levels.
const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// IsValid checks if the level is valid.
func (l Level) IsValid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// IsHigh reports whether the level counts as high priority on the dashboard.
func (l Level) IsHigh() bool {
	return l == LevelHigh || l == LevelCritical
}

// Incident is the aggregate root for a tracked issue.
type Incident struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Status       IncidentStatus     `json:"status"`
	Priority     Level              `json:"priority"`
	Impact       Level              `json:"impact"`
	AssignedTo   *string            `json:"assigned_to"`
	Reporter     string             `json:"reporter"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	DueDate      *time.Time         `json:"due_date"`
	ResolvedAt   *time.Time         `json:"resolved_at"`
	Components   []string           `json:"components"`
	Tags         []string           `json:"tags"`
	Comments     []Comment          `json:"comments"`
	ActivityLogs []ActivityLogEntry `json:"activity_logs"`
}

// Comment is a remark or status narrative attached to an incident.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsUpdate  bool      `json:"is_update"`
}

// ActivityLogEntry is an immutable audit record of one change to an incident.
type ActivityLogEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Details   *string   `json:"details,omitempty"`
}

// IncidentSummary is the list read model of an incident.
type IncidentSummary struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Status     IncidentStatus `json:"status"`
	Priority   Level          `json:"priority"`
	Impact     Level          `json:"impact"`
	AssignedTo *string        `json:"assigned_to"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Summary returns the list read model of the incident.
func (i *Incident) Summary() IncidentSummary {
	return IncidentSummary{
		ID:         i.ID,
		Title:      i.Title,
		Status:     i.Status,
		Priority:   i.Priority,
		Impact:     i.Impact,
		AssignedTo: i.AssignedTo,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	c := *i
	c.AssignedTo = clonePtr(i.AssignedTo)
	c.DueDate = clonePtr(i.DueDate)
	c.ResolvedAt = clonePtr(i.ResolvedAt)
	c.Components = slices.Clone(i.Components)
	c.Tags = slices.Clone(i.Tags)
	c.Comments = slices.Clone(i.Comments)
	c.ActivityLogs = make([]ActivityLogEntry, len(i.ActivityLogs))
	for n, e := range i.ActivityLogs {
		e.Details = clonePtr(e.Details)
		c.ActivityLogs[n] = e
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// DashboardStats aggregates incident counters for the dashboard.
type DashboardStats struct {
	Active        int `json:"active"`
	HighPriority  int `json:"high_priority"`
	ResolvedToday int `json:"resolved_today"`
	Total         int `json:"total"`
}
