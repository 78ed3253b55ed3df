// Package report renders a belief analysis as HTML and PDF.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"beliefcoach.app/cloud/models"
)

const reportHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Title}}</title>
  <style>
    body { margin: 0; padding: 40px; font-family: -apple-system, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; color: #1a1f36; background: #f7f9fc; }
    .card { background: #fff; max-width: 760px; margin: 0 auto; padding: 48px; border-radius: 6px; box-shadow: 0 2px 5px rgba(0,0,0,0.04); }
    h1 { margin: 0 0 4px; font-size: 24px; }
    .meta { color: #8792a2; font-size: 14px; margin-bottom: 32px; }
    .summary { font-size: 16px; line-height: 1.5; margin-bottom: 24px; }
    .themes span { display: inline-block; background: #eef2ff; color: #1e3a5f; border-radius: 12px; padding: 2px 10px; margin: 0 6px 6px 0; font-size: 13px; }
    .belief { border-top: 1px solid #e3e8ee; padding: 16px 0; }
    .belief h3 { margin: 0 0 6px; font-size: 16px; }
    .category { color: #3498db; font-size: 12px; text-transform: uppercase; letter-spacing: .04em; }
    blockquote { margin: 8px 0; padding-left: 12px; border-left: 3px solid #e3e8ee; color: #4f566b; }
    .reframe { color: #2e7d32; }
  </style>
</head>
<body>
  <div class="card">
    <h1>{{.Title}}</h1>
    <div class="meta">{{formatDate .CreatedAt}} · {{.Analysis.Analyzed}} answers analyzed</div>
    <p class="summary">{{.Analysis.Summary}}</p>
    {{- if .Analysis.Themes}}
    <div class="themes">{{range .Analysis.Themes}}<span>{{.}}</span>{{end}}</div>
    {{- end}}
    {{- range .Analysis.Beliefs}}
    <div class="belief">
      <div class="category">{{.Category}} · {{percent .Confidence}}</div>
      <h3>{{.Statement}}</h3>
      <blockquote>{{.Evidence}}</blockquote>
      <p class="reframe">Try instead: {{.Reframe}}</p>
    </div>
    {{- end}}
  </div>
</body>
</html>
`

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDate": formatDate,
	"percent":    percent,
}).Parse(reportHTMLTemplate))

// RenderHTML renders a standalone HTML page. All report text is escaped.
func RenderHTML(r models.Report) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render report html: %w", err)
	}
	return buf.String(), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("January 2, 2006")
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}
