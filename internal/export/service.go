package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"
)

// DataStore defines the interface for article access
type DataStore interface {
	GetArticle(ctx context.Context, itemType, itemID string) (Article, error)
}

// Service provides article export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	article, err := s.store.GetArticle(ctx, req.ItemType, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data := TemplateData{
		Title:     article.Title,
		Summary:   article.Summary,
		BodyHTML:  bodyToHTML(article.Body),
		Category:  article.Category,
		Type:      article.Type,
		Tags:      article.Tags,
		UpdatedAt: article.UpdatedAt,
	}

	html, err := RenderArticleHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, article.Title)
	case FormatDOCX:
		return exportDOCX(html, article.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// bodyToHTML turns the stored plain-text body into paragraph markup,
// escaping anything that looks like markup in the source.
func bodyToHTML(body string) template.HTML {
	paragraphs := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		escaped := template.HTMLEscapeString(p)
		escaped = strings.ReplaceAll(escaped, "\n", "<br>")
		b.WriteString("<p>")
		b.WriteString(escaped)
		b.WriteString("</p>\n")
	}
	return template.HTML(b.String())
}
