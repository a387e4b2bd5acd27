package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Yard Delay {{.EventLabel}}]
Vehicle: {{.Registration}}
Stage: {{.Stage}}
Waiting: {{.WaitTime}}m (standard {{.StandardTime}}m, x{{.Ratio}})
Level: {{.Level}}
Raised At: {{.RaisedAt}}
Status: {{.Status}}
Suggestion: {{.Suggestion}}
{{ if .Recipients }}
Recipients: {{.Recipients}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	AlertID      string
	Registration string
	Stage        string
	WaitTime     int
	StandardTime int
	Ratio        string
	Level        string
	RaisedAt     string
	Status       string
	Suggestion   string
	Recipients   string
	Event        string
	EventLabel   string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
