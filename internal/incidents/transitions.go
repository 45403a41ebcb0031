package incidents

import (
	"fmt"
	"slices"

	"github.com/respondr-uk/respondr/internal/domain"
)

// TransitionPolicy lists the statuses reachable from each status.
// A nil or empty policy allows every transition.
type TransitionPolicy map[domain.IncidentStatus][]domain.IncidentStatus

// NewTransitionPolicy parses a status graph from configuration.
func NewTransitionPolicy(raw map[string][]string) (TransitionPolicy, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	policy := make(TransitionPolicy, len(raw))
	for from, targets := range raw {
		fromStatus := domain.IncidentStatus(from)
		if !fromStatus.IsValid() {
			return nil, fmt.Errorf("transitions: unknown status %q", from)
		}
		allowed := make([]domain.IncidentStatus, 0, len(targets))
		for _, to := range targets {
			toStatus := domain.IncidentStatus(to)
			if !toStatus.IsValid() {
				return nil, fmt.Errorf("transitions: unknown target status %q for %q", to, from)
			}
			allowed = append(allowed, toStatus)
		}
		policy[fromStatus] = allowed
	}
	return policy, nil
}

// Allows reports whether from may move to to. Same-status changes are always
// allowed; whether they are logged is decided separately.
func (p TransitionPolicy) Allows(from, to domain.IncidentStatus) bool {
	if len(p) == 0 || from == to {
		return true
	}
	return slices.Contains(p[from], to)
}
