package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Air Quality Alert {{.EventLabel}}]
Station: {{.Station}}
Rule: {{.Rule}}
Pollutant: {{.Pollutant}}
Reading: {{.Value}}
Threshold: {{.Threshold}}
Measured At: {{.MeasuredAt}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Station    string
	StationID  int64
	Rule       string
	RuleID     int64
	Pollutant  string
	Value      string
	Threshold  string
	MeasuredAt string
	Event      string
	EventLabel string
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
