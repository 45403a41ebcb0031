package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// channelTypes lists every channel type with templates.
var channelTypes = []domain.ChannelType{
	domain.ChannelTypeEmail,
	domain.ChannelTypeTelegram,
	domain.ChannelTypeMattermost,
}

// Renderer renders notifications from templates.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":          titleCase,
		"upper":          strings.ToUpper,
		"join":           strings.Join,
		"formatTime":     formatTime,
		"formatDuration": formatDuration,
		"statusEmoji":    statusEmoji,
		"levelEmoji":     levelEmoji,
		"escapeHTML":     html.EscapeString,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}

	for _, channel := range channelTypes {
		for _, msg := range MessageTypes {
			name := templateName(channel, msg)
			filename := fmt.Sprintf("templates/%s.tmpl", name)

			content, err := templatesFS.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", filename, err)
			}

			tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
			if err != nil {
				return nil, fmt.Errorf("parse template %s: %w", name, err)
			}

			r.templates[name] = tmpl
		}
	}

	return r, nil
}

func templateName(channel domain.ChannelType, msg MessageType) string {
	return fmt.Sprintf("%s_%s", channel, msg)
}

// Render renders a notification payload for the specified channel type.
// Returns subject and body.
func (r *Renderer) Render(channelType domain.ChannelType, payload NotificationPayload) (subject, body string, err error) {
	name := templateName(channelType, payload.MessageType)
	tmpl, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return renderSubject(payload), strings.TrimSpace(buf.String()), nil
}

func renderSubject(payload NotificationPayload) string {
	var prefix string
	switch payload.MessageType {
	case MessageTypeInitial:
		prefix = fmt.Sprintf("%s %s", payload.Incident.ID, titleCase(payload.Incident.Priority))
	case MessageTypeUpdate:
		prefix = payload.Incident.ID + " Update"
	case MessageTypeResolved:
		prefix = payload.Incident.ID + " Resolved"
	default:
		prefix = payload.Incident.ID
	}

	return fmt.Sprintf("[%s] %s", prefix, payload.Incident.Title)
}

// titleCase builds a Caser per call since a Caser is not safe for
// concurrent use.
func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}

func statusEmoji(status string) string {
	switch domain.IncidentStatus(strings.ToLower(status)) {
	case domain.IncidentStatusInvestigating:
		return "🔍"
	case domain.IncidentStatusIdentified:
		return "🔎"
	case domain.IncidentStatusMonitoring:
		return "👀"
	case domain.IncidentStatusResolved:
		return "✅"
	default:
		return "📋"
	}
}

func levelEmoji(level string) string {
	switch domain.Level(strings.ToLower(level)) {
	case domain.LevelLow:
		return "🟢"
	case domain.LevelMedium:
		return "🟡"
	case domain.LevelHigh:
		return "🟠"
	case domain.LevelCritical:
		return "🔴"
	default:
		return "⚪"
	}
}
