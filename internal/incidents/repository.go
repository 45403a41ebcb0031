// Package incidents implements the incident record manager: the incident
// aggregate, its mutation rules and the HTTP handlers exposing them.
package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
)

// MutateFunc changes an incident in place. Returning an error aborts the
// mutation and nothing is persisted.
type MutateFunc func(incident *domain.Incident) error

// Repository defines the interface for incident storage.
//
// Mutate must load the incident under an exclusive per-incident lock, apply
// fn and persist the result atomically. Comments and activity entries are
// append-only: implementations persist only the entries appended by fn.
type Repository interface {
	Create(ctx context.Context, incident *domain.Incident) error
	Get(ctx context.Context, id string) (*domain.Incident, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Incident, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]domain.IncidentSummary, int, error)
	Stats(ctx context.Context, resolvedSince time.Time) (*domain.DashboardStats, error)
}

// ChangeNotifier receives incident lifecycle changes after they are committed.
type ChangeNotifier interface {
	OnIncidentCreated(ctx context.Context, incident *domain.Incident) error
	OnStatusChanged(ctx context.Context, incident *domain.Incident, from domain.IncidentStatus, actor string) error
	OnUpdatePosted(ctx context.Context, incident *domain.Incident, update domain.Comment) error
}

// DefaultIDPrefix is prepended to the incident number.
const DefaultIDPrefix = "INC"

// FormatID builds an incident identifier from its sequence number.
func FormatID(prefix string, n int64) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}
