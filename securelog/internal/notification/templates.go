package notification

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// Built-in template ids.
const (
	TemplateDefault       = "default"
	TemplateCriticalAlert = "critical_alert"
	TemplateEscalation    = "escalation"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

// templateData is what templates see.
type templateData struct {
	Event      models.Event
	RuleID     string
	RuleName   string
	Severity   string
	Summary    string
	Timestamp  string
	Escalation bool
}

// Templates is a registry of subject/body template pairs.
type Templates struct {
	mu        sync.RWMutex
	templates map[string]messageTemplate
}

// NewTemplates returns a registry preloaded with the built-ins.
func NewTemplates() *Templates {
	t := &Templates{templates: make(map[string]messageTemplate)}
	builtins := []struct{ id, subject, body string }{
		{
			TemplateDefault,
			`[{{.Severity}}] {{.Event.Type}}`,
			`Event {{.Event.ID}} ({{.Event.Type}}) at {{.Timestamp}}
Severity: {{.Severity}}
{{if .Event.Actor}}Actor: {{.Event.Actor}}
{{end}}Summary: {{.Summary}}`,
		},
		{
			TemplateCriticalAlert,
			`CRITICAL: {{.Event.Type}} - {{.Summary}}`,
			`A critical security event requires immediate attention.

Event ID: {{.Event.ID}}
Type: {{.Event.Type}}
Time: {{.Timestamp}}
{{if .Event.Actor}}Actor: {{.Event.Actor}}
{{end}}{{if .Event.CorrelationID}}Correlation: {{.Event.CorrelationID}}
{{end}}Summary: {{.Summary}}`,
		},
		{
			TemplateEscalation,
			`ESCALATION: {{.Event.Type}} notification could not be delivered`,
			`Delivery under rule {{.RuleName}} failed and has been escalated.

Event ID: {{.Event.ID}}
Type: {{.Event.Type}}
Time: {{.Timestamp}}
Summary: {{.Summary}}`,
		},
	}
	for _, b := range builtins {
		if err := t.Add(b.id, b.subject, b.body); err != nil {
			panic(fmt.Sprintf("built-in template %s: %v", b.id, err))
		}
	}
	return t
}

// Add registers or replaces a template.
func (t *Templates) Add(id, subject, body string) error {
	s, err := template.New(id + ".subject").Option("missingkey=zero").Parse(subject)
	if err != nil {
		return fmt.Errorf("%w: template %s subject: %w", models.ErrConfiguration, id, err)
	}
	b, err := template.New(id + ".body").Option("missingkey=zero").Parse(body)
	if err != nil {
		return fmt.Errorf("%w: template %s body: %w", models.ErrConfiguration, id, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.templates[id] = messageTemplate{subject: s, body: b}
	return nil
}

func (t *Templates) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.templates[id]
	return ok
}

// Render produces the subject and body for e under rule.
func (t *Templates) Render(id string, rule *Rule, e models.Event, escalation bool) (string, string, error) {
	t.mu.RLock()
	tmpl, ok := t.templates[id]
	t.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("%w: unknown template %q", models.ErrConfiguration, id)
	}

	data := templateData{
		Event:      e,
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Severity:   strings.ToUpper(string(e.Severity)),
		Summary:    e.Summary(),
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
		Escalation: escalation,
	}
	if data.RuleName == "" {
		data.RuleName = rule.ID
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", id, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", id, err)
	}
	return subject.String(), body.String(), nil
}
