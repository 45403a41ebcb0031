package incidents

import (
	"testing"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestApplyEdit(t *testing.T) {
	assignee := "erin"
	due := time.Date(2024, 3, 20, 17, 0, 0, 0, time.UTC)

	base := func() *domain.Incident {
		return &domain.Incident{
			Title:       "API latency",
			Description: "p99 above 2s",
			Priority:    domain.LevelMedium,
			Impact:      domain.LevelLow,
			AssignedTo:  &assignee,
			DueDate:     &due,
			Components:  []string{"api", "gateway"},
			Tags:        []string{"perf"},
		}
	}

	str := func(s string) *string { return &s }
	level := func(l domain.Level) *domain.Level { return &l }
	list := func(s ...string) *[]string { return &s }

	tests := []struct {
		name    string
		input   EditInput
		changes []fieldChange
	}{
		{
			name:    "same title is not a change",
			input:   EditInput{Title: str(" API latency ")},
			changes: nil,
		},
		{
			name:  "title",
			input: EditInput{Title: str("API outage")},
			changes: []fieldChange{
				{ActionTitleUpdated, `Title changed from "API latency" to "API outage"`},
			},
		},
		{
			name:  "priority and impact",
			input: EditInput{Priority: level(domain.LevelCritical), Impact: level(domain.LevelLow)},
			changes: []fieldChange{
				{ActionPriorityUpdated, "Priority changed from medium to critical"},
			},
		},
		{
			name:    "empty assignee unassigns",
			input:   EditInput{AssignedTo: str("")},
			changes: []fieldChange{{ActionUnassigned, "Unassigned from erin"}},
		},
		{
			name:    "reassign",
			input:   EditInput{AssignedTo: str("frank")},
			changes: []fieldChange{{ActionAssigned, "Assigned to frank"}},
		},
		{
			name:    "due date removed",
			input:   EditInput{ClearDueDate: true},
			changes: []fieldChange{{ActionDueDateUpdated, "Due date removed"}},
		},
		{
			name:    "due date same instant in other zone",
			input:   EditInput{DueDate: func() *time.Time { d := due.In(time.FixedZone("BST", 3600)); return &d }()},
			changes: nil,
		},
		{
			name:    "components reordered",
			input:   EditInput{Components: list("gateway", "api", "api", " ")},
			changes: nil,
		},
		{
			name:    "tags cleared",
			input:   EditInput{Tags: list()},
			changes: []fieldChange{{ActionTagsUpdated, "Tags cleared"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc := base()
			changes := applyEdit(inc, tt.input)
			assert.Equal(t, tt.changes, changes)
		})
	}
}

func TestApplyEdit_ReorderKeepsNewOrder(t *testing.T) {
	inc := &domain.Incident{Components: []string{"api", "gateway"}}
	changes := applyEdit(inc, EditInput{Components: &[]string{"gateway", "api"}})

	assert.Empty(t, changes)
	assert.Equal(t, []string{"gateway", "api"}, inc.Components)
}

func TestListFilter_Matches(t *testing.T) {
	resolved := domain.IncidentStatusResolved

	tests := []struct {
		name   string
		filter ListFilter
		id     string
		title  string
		status domain.IncidentStatus
		want   bool
	}{
		{"empty filter", ListFilter{}, "INC-001", "Anything", domain.IncidentStatusIdentified, true},
		{"title substring", ListFilter{SearchText: "LaTeNcY"}, "INC-001", "API latency", domain.IncidentStatusIdentified, true},
		{"id substring", ListFilter{SearchText: "c-00"}, "INC-001", "API latency", domain.IncidentStatusIdentified, true},
		{"status mismatch", ListFilter{Status: &resolved}, "INC-001", "API latency", domain.IncidentStatusIdentified, false},
		{"both required", ListFilter{SearchText: "api", Status: &resolved}, "INC-001", "API latency", domain.IncidentStatusResolved, true},
		{"text mismatch", ListFilter{SearchText: "db"}, "INC-001", "API latency", domain.IncidentStatusResolved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.id, tt.title, tt.status))
		})
	}
}

func TestListFilter_Normalized(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ListFilter{}.normalized().Limit)
	assert.Equal(t, MaxListLimit, ListFilter{Limit: 10_000}.normalized().Limit)
	assert.Equal(t, 0, ListFilter{Offset: -3}.normalized().Offset)
}
