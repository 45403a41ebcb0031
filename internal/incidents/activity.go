package incidents

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
)

// Activity log actions.
const (
	ActionIncidentCreated    = "Incident created"
	ActionStatusChanged      = "Status changed"
	ActionCommentAdded       = "Comment added"
	ActionUpdatePosted       = "Update posted"
	ActionTitleUpdated       = "Title updated"
	ActionDescriptionUpdated = "Description updated"
	ActionPriorityUpdated    = "Priority updated"
	ActionImpactUpdated      = "Impact updated"
	ActionAssigned           = "Assigned to"
	ActionUnassigned         = "Unassigned"
	ActionDueDateUpdated     = "Due date updated"
	ActionComponentsUpdated  = "Components updated"
	ActionTagsUpdated        = "Tags updated"
)

const dueDateLayout = "2006-01-02 15:04 UTC"

// EditInput holds a partial update. Nil fields are left untouched.
type EditInput struct {
	Title           *string
	Description     *string
	Priority        *domain.Level
	Impact          *domain.Level
	AssignedTo      *string
	ClearAssignedTo bool
	DueDate         *time.Time
	ClearDueDate    bool
	Components      *[]string
	Tags            *[]string
}

// IsEmpty reports whether the input changes nothing.
func (in EditInput) IsEmpty() bool {
	return in.Title == nil && in.Description == nil &&
		in.Priority == nil && in.Impact == nil &&
		in.AssignedTo == nil && !in.ClearAssignedTo &&
		in.DueDate == nil && !in.ClearDueDate &&
		in.Components == nil && in.Tags == nil
}

func (in EditInput) validate() error {
	if in.IsEmpty() {
		return invalid("", "no fields to update")
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return invalid("title", "must not be empty")
	}
	if in.Description != nil && strings.TrimSpace(*in.Description) == "" {
		return invalid("description", "must not be empty")
	}
	if in.Priority != nil && !in.Priority.IsValid() {
		return invalid("priority", fmt.Sprintf("unknown level %q", *in.Priority))
	}
	if in.Impact != nil && !in.Impact.IsValid() {
		return invalid("impact", fmt.Sprintf("unknown level %q", *in.Impact))
	}
	if in.AssignedTo != nil && in.ClearAssignedTo {
		return invalid("assigned_to", "cannot set and clear at the same time")
	}
	if in.DueDate != nil && in.ClearDueDate {
		return invalid("due_date", "cannot set and clear at the same time")
	}
	return nil
}

// fieldChange is one observed difference produced by an edit.
type fieldChange struct {
	action  string
	details string
}

// applyEdit writes the input onto the incident and returns one change per
// field whose value actually differs.
func applyEdit(inc *domain.Incident, in EditInput) []fieldChange {
	var changes []fieldChange

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title != inc.Title {
			changes = append(changes, fieldChange{ActionTitleUpdated, fmt.Sprintf("Title changed from %q to %q", inc.Title, title)})
			inc.Title = title
		}
	}

	if in.Description != nil && *in.Description != inc.Description {
		changes = append(changes, fieldChange{ActionDescriptionUpdated, "Description updated"})
		inc.Description = *in.Description
	}

	if in.Priority != nil && *in.Priority != inc.Priority {
		changes = append(changes, fieldChange{ActionPriorityUpdated, fmt.Sprintf("Priority changed from %s to %s", inc.Priority, *in.Priority)})
		inc.Priority = *in.Priority
	}

	if in.Impact != nil && *in.Impact != inc.Impact {
		changes = append(changes, fieldChange{ActionImpactUpdated, fmt.Sprintf("Impact changed from %s to %s", inc.Impact, *in.Impact)})
		inc.Impact = *in.Impact
	}

	switch {
	case in.ClearAssignedTo && inc.AssignedTo != nil:
		changes = append(changes, fieldChange{ActionUnassigned, fmt.Sprintf("Unassigned from %s", *inc.AssignedTo)})
		inc.AssignedTo = nil
	case in.AssignedTo != nil:
		assignee := strings.TrimSpace(*in.AssignedTo)
		if assignee == "" {
			if inc.AssignedTo != nil {
				changes = append(changes, fieldChange{ActionUnassigned, fmt.Sprintf("Unassigned from %s", *inc.AssignedTo)})
				inc.AssignedTo = nil
			}
		} else if inc.AssignedTo == nil || *inc.AssignedTo != assignee {
			changes = append(changes, fieldChange{ActionAssigned, fmt.Sprintf("Assigned to %s", assignee)})
			inc.AssignedTo = &assignee
		}
	}

	switch {
	case in.ClearDueDate && inc.DueDate != nil:
		changes = append(changes, fieldChange{ActionDueDateUpdated, "Due date removed"})
		inc.DueDate = nil
	case in.DueDate != nil:
		due := in.DueDate.UTC().Truncate(time.Microsecond)
		if inc.DueDate == nil || !inc.DueDate.Equal(due) {
			changes = append(changes, fieldChange{ActionDueDateUpdated, fmt.Sprintf("Due date set to %s", due.Format(dueDateLayout))})
			inc.DueDate = &due
		}
	}

	if in.Components != nil {
		components := normalizeLabels(*in.Components)
		if !sameLabels(inc.Components, components) {
			changes = append(changes, fieldChange{ActionComponentsUpdated, labelDetails("Components", components)})
		}
		// Display order may change without an entry.
		inc.Components = components
	}

	if in.Tags != nil {
		tags := normalizeLabels(*in.Tags)
		if !sameLabels(inc.Tags, tags) {
			changes = append(changes, fieldChange{ActionTagsUpdated, labelDetails("Tags", tags)})
		}
		// Display order may change without an entry.
		inc.Tags = tags
	}

	return changes
}

// normalizeLabels trims labels and drops blanks and duplicates, keeping the
// first occurrence order.
func normalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// sameLabels compares label sets ignoring order.
func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := slices.Clone(a), slices.Clone(b)
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}

func labelDetails(name string, labels []string) string {
	if len(labels) == 0 {
		return name + " cleared"
	}
	return fmt.Sprintf("%s set to %s", name, strings.Join(labels, ", "))
}
