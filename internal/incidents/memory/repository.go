// Package memory provides an in-process implementation of incidents.Repository.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/respondr-uk/respondr/internal/incidents"
)

var errTruncated = errors.New("comments and activity log are append-only")

// Repository keeps incidents in a map guarded by a single mutex.
// It is meant for tests and single-instance demos; data is lost on restart.
type Repository struct {
	mu        sync.Mutex
	prefix    string
	seq       int64
	incidents map[string]*domain.Incident
}

// NewRepository creates an empty repository.
func NewRepository(idPrefix string) *Repository {
	if idPrefix == "" {
		idPrefix = incidents.DefaultIDPrefix
	}
	return &Repository{
		prefix:    idPrefix,
		incidents: make(map[string]*domain.Incident),
	}
}

// Create stores a new incident and assigns its ID.
func (r *Repository) Create(ctx context.Context, incident *domain.Incident) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	incident.ID = incidents.FormatID(r.prefix, r.seq)
	r.incidents[incident.ID] = incident.Clone()
	return nil
}

// Get returns a copy of the incident.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.incidents[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	return stored.Clone(), nil
}

// Mutate applies fn to a copy and swaps it in only when fn succeeds.
func (r *Repository) Mutate(ctx context.Context, id string, fn incidents.MutateFunc) (*domain.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.incidents[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}

	working := stored.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	if len(working.Comments) < len(stored.Comments) || len(working.ActivityLogs) < len(stored.ActivityLogs) {
		return nil, errTruncated
	}

	// Only appended entries are kept, as in the SQL gateway.
	working.ID = stored.ID
	working.Reporter = stored.Reporter
	working.CreatedAt = stored.CreatedAt
	working.Comments = append(slices.Clone(stored.Comments), working.Comments[len(stored.Comments):]...)
	working.ActivityLogs = append(slices.Clone(stored.ActivityLogs), working.ActivityLogs[len(stored.ActivityLogs):]...)

	r.incidents[id] = working
	return working.Clone(), nil
}

// Delete removes an incident.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.incidents[id]; !ok {
		return incidents.ErrIncidentNotFound
	}
	delete(r.incidents, id)
	return nil
}

// List returns a page of matching incidents, newest first.
func (r *Repository) List(ctx context.Context, filter incidents.ListFilter) ([]domain.IncidentSummary, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	r.mu.Lock()
	matched := make([]domain.IncidentSummary, 0, len(r.incidents))
	for _, inc := range r.incidents {
		if filter.Matches(inc.ID, inc.Title, inc.Status) {
			matched = append(matched, inc.Summary())
		}
	}
	r.mu.Unlock()

	slices.SortFunc(matched, func(a, b domain.IncidentSummary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

// Stats computes dashboard counters.
func (r *Repository) Stats(ctx context.Context, resolvedSince time.Time) (*domain.DashboardStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &domain.DashboardStats{Total: len(r.incidents)}
	for _, inc := range r.incidents {
		if !inc.Status.IsResolved() {
			stats.Active++
			if inc.Priority.IsHigh() {
				stats.HighPriority++
			}
			continue
		}
		if inc.ResolvedAt != nil && !inc.ResolvedAt.Before(resolvedSince) {
			stats.ResolvedToday++
		}
	}
	return stats, nil
}
