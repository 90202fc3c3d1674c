package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var articleTemplate = template.Must(template.New("article").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(articleTemplateHTML))

// TemplateData holds data for article template rendering
type TemplateData struct {
	Title     string
	Summary   string
	BodyHTML  template.HTML
	Category  string
	Type      string
	Tags      []string
	UpdatedAt time.Time
}

// RenderArticleHTML renders the article template with provided data
func RenderArticleHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := articleTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const articleTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #1a7f5a; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .summary { font-style: italic; color: #444; margin-bottom: 1.5rem; }
    .tags { margin-top: 2rem; font-size: 0.85em; color: #666; }
    .tag { background: #eef6f1; border-radius: 3px; padding: 2px 8px; margin-right: 4px; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Type | lower}}{{if .Category}} | {{.Category}}{{end}} | {{formatDate .UpdatedAt "Jan 2, 2006"}}</div>
  {{if .Summary}}<p class="summary">{{.Summary}}</p>{{end}}
  <div>{{.BodyHTML}}</div>
  {{if .Tags}}
  <div class="tags">{{range .Tags}}<span class="tag">{{.}}</span>{{end}}</div>
  {{end}}
</body>
</html>`
