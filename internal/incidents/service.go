package incidents

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/respondr-uk/respondr/internal/pkg/ctxlog"
)

// exportPageSize is the gateway page size used by AllIncidents.
const exportPageSize = 100

// Config controls mutation rules that the product owner may tune.
type Config struct {
	// LogNoOpTransitions records a status change entry even when the new
	// status equals the current one.
	LogNoOpTransitions bool
	// Transitions restricts the status graph. Empty allows everything.
	Transitions TransitionPolicy
	// Clock returns the current time. Nil means time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the rules observed in the dashboard.
func DefaultConfig() Config {
	return Config{LogNoOpTransitions: true}
}

// Service implements incident business logic.
type Service struct {
	repo     Repository
	notifier ChangeNotifier
	config   Config

	now   func() time.Time
	newID func() string
}

// NewService creates a new incident service. notifier may be nil.
func NewService(repo Repository, notifier ChangeNotifier, config Config) *Service {
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		config:   config,
		now:      now,
		newID:    func() string { return uuid.New().String() },
	}
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	Title       string
	Description string
	Priority    domain.Level
	Impact      domain.Level
	AssignedTo  *string
	DueDate     *time.Time
	Components  []string
	Tags        []string
}

func (in CreateIncidentInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title", "must not be empty")
	}
	if strings.TrimSpace(in.Description) == "" {
		return invalid("description", "must not be empty")
	}
	if !in.Priority.IsValid() {
		return invalid("priority", fmt.Sprintf("unknown level %q", in.Priority))
	}
	if !in.Impact.IsValid() {
		return invalid("impact", fmt.Sprintf("unknown level %q", in.Impact))
	}
	return nil
}

// CreateIncident creates a new incident in the investigating state.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput, reporter string) (*domain.Incident, error) {
	if err := input.validate(); err != nil {
		recordOperation(opCreate, err)
		return nil, err
	}
	if err := requireUser("reporter", reporter); err != nil {
		recordOperation(opCreate, err)
		return nil, err
	}

	now := s.timestamp()

	var assignee *string
	if input.AssignedTo != nil {
		if a := strings.TrimSpace(*input.AssignedTo); a != "" {
			assignee = &a
		}
	}

	var due *time.Time
	if input.DueDate != nil {
		d := input.DueDate.UTC().Truncate(time.Microsecond)
		due = &d
	}

	incident := &domain.Incident{
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Status:      domain.IncidentStatusInvestigating,
		Priority:    input.Priority,
		Impact:      input.Impact,
		AssignedTo:  assignee,
		Reporter:    reporter,
		CreatedAt:   now,
		UpdatedAt:   now,
		DueDate:     due,
		Components:  normalizeLabels(input.Components),
		Tags:        normalizeLabels(input.Tags),
		Comments:    []domain.Comment{},
		ActivityLogs: []domain.ActivityLogEntry{{
			ID:        s.newID(),
			Action:    ActionIncidentCreated,
			User:      reporter,
			Timestamp: now,
		}},
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		err = persistenceErr("create incident", err)
		recordOperation(opCreate, err)
		return nil, err
	}
	recordOperation(opCreate, nil)

	if s.notifier != nil {
		if err := s.notifier.OnIncidentCreated(ctx, incident); err != nil {
			ctxlog.FromContext(ctx).Error("failed to queue incident notifications",
				"incident_id", incident.ID, "error", err)
		}
	}

	return incident, nil
}

// GetIncident retrieves an incident by ID.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, persistenceErr("get incident", err)
	}
	return incident, nil
}

// errUnchanged aborts a mutation that turned out to be a no-op.
var errUnchanged = errors.New("incident unchanged")

// ChangeStatus moves an incident to a new status and records the transition.
func (s *Service) ChangeStatus(ctx context.Context, id string, newStatus domain.IncidentStatus, actor string) (*domain.Incident, error) {
	if !newStatus.IsValid() {
		err := invalid("status", fmt.Sprintf("unknown status %q", newStatus))
		recordOperation(opChangeStatus, err)
		return nil, err
	}
	if err := requireUser("actor", actor); err != nil {
		recordOperation(opChangeStatus, err)
		return nil, err
	}

	var (
		oldStatus domain.IncidentStatus
		unchanged *domain.Incident
	)

	incident, err := s.repo.Mutate(ctx, id, func(inc *domain.Incident) error {
		oldStatus = inc.Status
		if !s.config.Transitions.Allows(inc.Status, newStatus) {
			return fmt.Errorf("%w: %s to %s", ErrTransitionNotAllowed, inc.Status, newStatus)
		}
		if inc.Status == newStatus && !s.config.LogNoOpTransitions {
			unchanged = inc.Clone()
			return errUnchanged
		}

		now := s.mutationTime(inc)
		inc.Status = newStatus
		inc.UpdatedAt = now
		switch {
		case newStatus.IsResolved() && inc.ResolvedAt == nil:
			inc.ResolvedAt = &now
		case !newStatus.IsResolved():
			inc.ResolvedAt = nil
		}
		s.appendActivity(inc, ActionStatusChanged, actor, now,
			fmt.Sprintf("Status changed from %s to %s", oldStatus, newStatus))
		return nil
	})
	if errors.Is(err, errUnchanged) {
		recordOperation(opChangeStatus, nil)
		return unchanged, nil
	}
	if err != nil {
		err = persistenceErr("change status", err)
		recordOperation(opChangeStatus, err)
		return nil, err
	}
	recordOperation(opChangeStatus, nil)

	if s.notifier != nil && oldStatus != newStatus {
		if err := s.notifier.OnStatusChanged(ctx, incident, oldStatus, actor); err != nil {
			ctxlog.FromContext(ctx).Error("failed to queue status notifications",
				"incident_id", incident.ID, "error", err)
		}
	}

	return incident, nil
}

// AddComment appends a plain comment to an incident.
func (s *Service) AddComment(ctx context.Context, id, content, author string) (*domain.Incident, error) {
	incident, _, err := s.appendComment(ctx, id, content, author, false)
	recordOperation(opAddComment, err)
	return incident, err
}

// PostUpdate appends a status narrative comment and notifies channels.
func (s *Service) PostUpdate(ctx context.Context, id, content, author string) (*domain.Incident, error) {
	incident, comment, err := s.appendComment(ctx, id, content, author, true)
	recordOperation(opPostUpdate, err)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.OnUpdatePosted(ctx, incident, comment); err != nil {
			ctxlog.FromContext(ctx).Error("failed to queue update notifications",
				"incident_id", incident.ID, "error", err)
		}
	}

	return incident, nil
}

func (s *Service) appendComment(ctx context.Context, id, content, author string, isUpdate bool) (*domain.Incident, domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.Comment{}, invalid("content", "must not be empty")
	}
	if err := requireUser("author", author); err != nil {
		return nil, domain.Comment{}, err
	}

	action := ActionCommentAdded
	if isUpdate {
		action = ActionUpdatePosted
	}

	var comment domain.Comment
	incident, err := s.repo.Mutate(ctx, id, func(inc *domain.Incident) error {
		now := s.mutationTime(inc)
		comment = domain.Comment{
			ID:        s.newID(),
			Author:    author,
			Content:   content,
			CreatedAt: now,
			IsUpdate:  isUpdate,
		}
		inc.Comments = append(inc.Comments, comment)
		inc.UpdatedAt = now
		s.appendActivity(inc, action, author, now, "")
		return nil
	})
	if err != nil {
		return nil, domain.Comment{}, persistenceErr("add comment", err)
	}
	return incident, comment, nil
}

// EditIncident applies a partial update and records one activity entry per
// changed field.
func (s *Service) EditIncident(ctx context.Context, id string, input EditInput, actor string) (*domain.Incident, error) {
	if err := input.validate(); err != nil {
		recordOperation(opEdit, err)
		return nil, err
	}
	if err := requireUser("actor", actor); err != nil {
		recordOperation(opEdit, err)
		return nil, err
	}

	incident, err := s.repo.Mutate(ctx, id, func(inc *domain.Incident) error {
		now := s.mutationTime(inc)
		for _, change := range applyEdit(inc, input) {
			s.appendActivity(inc, change.action, actor, now, change.details)
		}
		inc.UpdatedAt = now
		return nil
	})
	if err != nil {
		err = persistenceErr("edit incident", err)
		recordOperation(opEdit, err)
		return nil, err
	}
	recordOperation(opEdit, nil)
	return incident, nil
}

// DeleteIncident removes an incident with its comments and activity log.
func (s *Service) DeleteIncident(ctx context.Context, id, actor string) error {
	if err := requireUser("actor", actor); err != nil {
		recordOperation(opDelete, err)
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		err = persistenceErr("delete incident", err)
		recordOperation(opDelete, err)
		return err
	}
	recordOperation(opDelete, nil)

	ctxlog.FromContext(ctx).Info("incident deleted", "incident_id", id, "actor", actor)
	return nil
}

// ListIncidents returns one page of matching incidents and the total match count.
func (s *Service) ListIncidents(ctx context.Context, filter ListFilter) ([]domain.IncidentSummary, int, error) {
	items, total, err := s.repo.List(ctx, filter.normalized())
	if err != nil {
		return nil, 0, persistenceErr("list incidents", err)
	}
	return items, total, nil
}

// AllIncidents yields every incident matching the filter, fetching pages
// lazily. The sequence can be ranged over again to restart from the top.
// Limit and Offset of the filter are ignored.
func (s *Service) AllIncidents(ctx context.Context, filter ListFilter) iter.Seq2[domain.IncidentSummary, error] {
	return func(yield func(domain.IncidentSummary, error) bool) {
		page := filter
		page.Limit = exportPageSize
		page.Offset = 0

		for {
			items, _, err := s.repo.List(ctx, page)
			if err != nil {
				yield(domain.IncidentSummary{}, persistenceErr("list incidents", err))
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if len(items) < page.Limit {
				return
			}
			page.Offset += len(items)
		}
	}
}

// DashboardStats returns counters for the dashboard.
func (s *Service) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	stats, err := s.repo.Stats(ctx, midnight)
	if err != nil {
		return nil, persistenceErr("incident stats", err)
	}
	return stats, nil
}

// requireUser rejects a blank reporter, author or actor name.
func requireUser(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid(field, "must not be empty")
	}
	return nil
}

func (s *Service) appendActivity(inc *domain.Incident, action, user string, at time.Time, details string) {
	entry := domain.ActivityLogEntry{
		ID:        s.newID(),
		Action:    action,
		User:      user,
		Timestamp: at,
	}
	if details != "" {
		entry.Details = &details
	}
	inc.ActivityLogs = append(inc.ActivityLogs, entry)
}

// timestamp returns the current time at storage precision.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// mutationTime never goes behind the incident's last update, so updatedAt
// and the activity log stay monotonic under clock skew.
func (s *Service) mutationTime(inc *domain.Incident) time.Time {
	now := s.timestamp()
	if now.Before(inc.UpdatedAt) {
		return inc.UpdatedAt
	}
	return now
}
