package webhooks

import (
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/turnstile/pkg/audit"
)

// SlackMessage is a Slack incoming-webhook message.
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// TeamsMessage is a Microsoft Teams connector card.
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary,omitempty"`
	Title      string         `json:"title,omitempty"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	Facts []TeamsFact `json:"facts,omitempty"`
	Text  string      `json:"text,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FormatSlackMessage renders p as a Slack attachment.
func FormatSlackMessage(p *Payload) SlackMessage {
	facts := eventFacts(p)
	fields := make([]SlackField, 0, len(facts))
	for _, f := range facts {
		fields = append(fields, SlackField{Title: f.Name, Value: f.Value, Short: len(f.Value) < 40})
	}
	return SlackMessage{
		Attachments: []SlackAttachment{{
			Color:  slackColor(p.Event.Category),
			Title:  eventTitle(p.Type),
			Fields: fields,
		}},
	}
}

// FormatTeamsMessage renders p as a Teams connector card.
func FormatTeamsMessage(p *Payload) TeamsMessage {
	title := eventTitle(p.Type)
	return TeamsMessage{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    title,
		Title:      title,
		ThemeColor: teamsColor(p.Event.Category),
		Sections:   []TeamsSection{{Facts: eventFacts(p)}},
	}
}

func eventFacts(p *Payload) []TeamsFact {
	e := p.Event
	facts := []TeamsFact{
		{Name: "Event", Value: string(p.Type)},
		{Name: "Event ID", Value: p.ID},
		{Name: "Time", Value: p.Timestamp.UTC().Format(time.RFC3339)},
	}
	add := func(name, value string) {
		if value != "" {
			facts = append(facts, TeamsFact{Name: name, Value: value})
		}
	}
	add("Actor", e.ActorID)
	add("User", e.TargetUserID)
	add("IP Address", e.IPAddress)
	add("Request ID", e.RequestID)

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, fmt.Sprint(e.Details[k]))
	}
	return facts
}

func slackColor(c audit.Category) string {
	switch c {
	case audit.CategorySecurity:
		return "danger"
	case audit.CategoryPermission:
		return "warning"
	default:
		return "#439FE0"
	}
}

func teamsColor(c audit.Category) string {
	switch c {
	case audit.CategorySecurity:
		return "dc3545"
	case audit.CategoryPermission:
		return "ffc107"
	default:
		return "007bff"
	}
}

func eventTitle(a audit.Action) string {
	switch a {
	case audit.ActionLoginFailed:
		return "Login Failed"
	case audit.ActionRefreshReuse:
		return "Refresh Token Reuse Detected"
	case audit.ActionLogoutAll:
		return "All Sessions Revoked"
	case audit.ActionPermissionGrant:
		return "Permissions Granted"
	case audit.ActionPermissionGrantTemporary:
		return "Temporary Permission Granted"
	case audit.ActionPermissionTemplateApply:
		return "Permission Template Applied"
	case audit.ActionPermissionClone:
		return "Permissions Cloned"
	case audit.ActionPermissionRevoke:
		return "Permissions Revoked"
	case audit.ActionPermissionExpire:
		return "Permissions Expired"
	default:
		return string(a)
	}
}
