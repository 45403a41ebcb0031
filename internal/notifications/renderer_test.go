package notifications

import (
	"testing"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var renderNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func initialPayload() NotificationPayload {
	data := NewIncidentData(testIncident())
	return NewInitialPayload(data, "https://respondr.example.com/incidents/INC-007", renderNow)
}

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Len(t, r.templates, len(channelTypes)*len(MessageTypes))
}

func TestRenderer_RenderInitial(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.Render(domain.ChannelTypeEmail, initialPayload())
	require.NoError(t, err)

	assert.Equal(t, "[INC-007 Critical] Checkout latency", subject)
	assert.Contains(t, body, "Incident: Checkout latency")
	assert.Contains(t, body, "Status: Investigating")
	assert.Contains(t, body, "Impact: High")
	assert.Contains(t, body, "Assigned to: erin")
	assert.Contains(t, body, "Components: checkout, payments")
	assert.Contains(t, body, "Opened: Mar 15, 2024 09:00 UTC")
	assert.Contains(t, body, "p99 above 3s")
	assert.Contains(t, body, "View incident: https://respondr.example.com/incidents/INC-007")
}

func TestRenderer_RenderStatusUpdate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	inc := testIncident()
	inc.Status = domain.IncidentStatusIdentified
	payload := NewStatusPayload(NewIncidentData(inc), StatusChange{
		StatusFrom: "investigating",
		StatusTo:   "identified",
		Actor:      "bob",
	}, "", renderNow)

	subject, body, err := r.Render(domain.ChannelTypeEmail, payload)
	require.NoError(t, err)

	assert.Equal(t, "[INC-007 Update] Checkout latency", subject)
	assert.Contains(t, body, "Status changed from Investigating to Identified by bob.")
	assert.Contains(t, body, "Current status: Identified")
	assert.NotContains(t, body, "View incident")
}

func TestRenderer_RenderPostedUpdate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := NewUpdatePayload(NewIncidentData(testIncident()), UpdateNote{
		Author:   "carol",
		Content:  "Rolled back the release",
		PostedAt: renderNow,
	}, "", renderNow)

	_, body, err := r.Render(domain.ChannelTypeMattermost, payload)
	require.NoError(t, err)

	assert.Contains(t, body, "**Update:** Checkout latency `INC-007`")
	assert.Contains(t, body, "> Rolled back the release")
	assert.Contains(t, body, "_carol, Mar 15, 2024 09:30 UTC_")
	assert.NotContains(t, body, "~~")
}

func TestRenderer_RenderResolved(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	inc := testIncident()
	inc.Status = domain.IncidentStatusResolved
	resolvedAt := inc.CreatedAt.Add(26 * time.Hour)
	payload := NewResolvedPayload(NewIncidentData(inc), StatusChange{
		StatusFrom: "monitoring",
		StatusTo:   "resolved",
		Actor:      "bob",
	}, Resolution{ResolvedAt: resolvedAt, Duration: 26 * time.Hour}, "", renderNow)

	subject, body, err := r.Render(domain.ChannelTypeEmail, payload)
	require.NoError(t, err)

	assert.Equal(t, "[INC-007 Resolved] Checkout latency", subject)
	assert.Contains(t, body, "This incident has been resolved by bob.")
	assert.Contains(t, body, "Duration: 1d 2h")
	assert.Contains(t, body, "Resolved at: Mar 16, 2024 11:00 UTC")
}

func TestRenderer_TelegramEscapesHTML(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := initialPayload()
	payload.Incident.Title = "Errors in <checkout> & cart"
	payload.Incident.Description = "<script>alert(1)</script>"

	_, body, err := r.Render(domain.ChannelTypeTelegram, payload)
	require.NoError(t, err)

	assert.Contains(t, body, "<b>Errors in &lt;checkout&gt; &amp; cart</b>")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, `<a href="https://respondr.example.com/incidents/INC-007">INC-007</a>`)
}

func TestRenderer_MattermostFormat(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, body, err := r.Render(domain.ChannelTypeMattermost, initialPayload())
	require.NoError(t, err)

	assert.Contains(t, body, "**Checkout latency** `INC-007`")
	assert.Contains(t, body, "| 🔴 Critical | High | Investigating | alice |")
	assert.Contains(t, body, "Assigned to **erin**")
	assert.Contains(t, body, "[Open incident](https://respondr.example.com/incidents/INC-007)")
}

func TestRenderer_EmptyOptionalFields(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	inc := testIncident()
	inc.AssignedTo = nil
	inc.Components = nil
	payload := NewInitialPayload(NewIncidentData(inc), "", renderNow)

	for _, channel := range channelTypes {
		_, body, err := r.Render(channel, payload)
		require.NoError(t, err, channel)
		assert.NotContains(t, body, "erin", channel)
		assert.NotContains(t, body, "Components", channel)
		assert.NotContains(t, body, "<no value>", channel)
	}
}

func TestRenderer_AllChannelTypes(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payloads := map[MessageType]NotificationPayload{
		MessageTypeInitial: initialPayload(),
		MessageTypeUpdate: NewStatusPayload(NewIncidentData(testIncident()), StatusChange{
			StatusFrom: "investigating", StatusTo: "monitoring", Actor: "bob",
		}, "", renderNow),
		MessageTypeResolved: NewResolvedPayload(NewIncidentData(testIncident()), StatusChange{
			StatusFrom: "monitoring", StatusTo: "resolved", Actor: "bob",
		}, Resolution{ResolvedAt: renderNow, Duration: 30 * time.Minute}, "", renderNow),
	}

	for _, channel := range channelTypes {
		for msgType, payload := range payloads {
			t.Run(string(channel)+"_"+string(msgType), func(t *testing.T) {
				subject, body, err := r.Render(channel, payload)
				require.NoError(t, err)
				assert.NotEmpty(t, subject)
				assert.Contains(t, body, "Checkout latency")
			})
		}
	}
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := initialPayload()
	payload.MessageType = "digest"

	_, _, err = r.Render(domain.ChannelTypeEmail, payload)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "template not found")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{45 * time.Minute, "45m"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{48 * time.Hour, "2d"},
		{50 * time.Hour, "2d 2h"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d), tt.d.String())
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "Mar 15, 2024 09:30 UTC", formatTime(renderNow))
	assert.Empty(t, formatTime(time.Time{}))
}

func TestStatusEmoji(t *testing.T) {
	assert.Equal(t, "🔍", statusEmoji("investigating"))
	assert.Equal(t, "✅", statusEmoji("RESOLVED"))
	assert.Equal(t, "📋", statusEmoji("unknown"))
}

func TestLevelEmoji(t *testing.T) {
	assert.Equal(t, "🔴", levelEmoji("critical"))
	assert.Equal(t, "🟢", levelEmoji("low"))
	assert.Equal(t, "⚪", levelEmoji(""))
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Investigating", titleCase("investigating"))
	assert.Equal(t, "Partial Outage", titleCase("partial_outage"))
}
