package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		// Fallback to built-in template if file not found
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for report template rendering.
type TemplateData struct {
	TestID      string
	GeneratedAt time.Time
	Summary     TemplateSummary
	Items       []TemplateItem
}

// TemplateSummary is the per-stage headcount at the top of the report.
type TemplateSummary struct {
	Total    int
	CanSync  int
	Blocked  int
	Pending  int
	Variants int
}

// TemplateItem is one item row with its gate verdicts.
type TemplateItem struct {
	ID         string
	Title      string
	Stage      string
	IsVariant  bool
	Structural string
	Violations []string
	Checks     []TemplateCheck
}

// TemplateCheck is one named semantic check's verdict.
type TemplateCheck struct {
	Name   string
	Status string
	Issues []string
}

// RenderReportHTML renders the report template with provided data.
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Validation report {{.TestID}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .item { border-left: 3px solid #999; padding: 0.5rem 1rem; margin: 1rem 0; }
    .fail { border-left-color: #c0392b; }
    .pass { border-left-color: #27ae60; }
  </style>
</head>
<body>
  <h1>Validation report: {{.TestID}}</h1>
  <p>{{.Summary.CanSync}}/{{.Summary.Total}} ready | generated {{.GeneratedAt.Format "Jan 2, 2006 15:04"}}</p>
  {{range .Items}}
  <div class="item {{if eq .Stage "blocked"}}fail{{else if eq .Stage "can_sync"}}pass{{end}}">
    <strong>{{.Title}}</strong> ({{.ID}}) — {{.Stage}}
    {{range .Violations}}<div>{{.}}</div>{{end}}
  </div>
  {{end}}
</body>
</html>`
