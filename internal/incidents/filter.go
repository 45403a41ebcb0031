package incidents

import (
	"strings"

	"github.com/respondr-uk/respondr/internal/domain"
)

// Pagination defaults.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// StatusAll disables status filtering.
const StatusAll = "all"

// ListFilter holds filter options for listing incidents.
type ListFilter struct {
	SearchText string
	Status     *domain.IncidentStatus
	Limit      int
	Offset     int
}

// NewListFilter builds a filter from raw query values. An empty status or
// "all" means no status filter.
func NewListFilter(searchText, status string, limit, offset int) (ListFilter, error) {
	filter := ListFilter{
		SearchText: strings.TrimSpace(searchText),
		Limit:      limit,
		Offset:     offset,
	}

	if status != "" && status != StatusAll {
		s := domain.IncidentStatus(status)
		if !s.IsValid() {
			return ListFilter{}, invalid("status", "unknown status "+status)
		}
		filter.Status = &s
	}

	if filter.Offset < 0 {
		return ListFilter{}, invalid("offset", "must not be negative")
	}

	return filter.normalized(), nil
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether an incident passes the filter. The search text is
// a case-insensitive substring of the id or the title; the status must match
// exactly. Both predicates are ANDed.
func (f ListFilter) Matches(id, title string, status domain.IncidentStatus) bool {
	if f.Status != nil && *f.Status != status {
		return false
	}
	if f.SearchText == "" {
		return true
	}
	needle := strings.ToLower(f.SearchText)
	return strings.Contains(strings.ToLower(id), needle) ||
		strings.Contains(strings.ToLower(title), needle)
}
