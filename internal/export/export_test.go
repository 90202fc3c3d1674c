package export

import (
	"strings"
	"testing"
	"time"
)

func TestBodyToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty body", input: "", expected: ""},
		{name: "single paragraph", input: "Hello world", expected: "<p>Hello world</p>\n"},
		{name: "two paragraphs", input: "First.\n\nSecond.", expected: "<p>First.</p>\n<p>Second.</p>\n"},
		{name: "line break inside paragraph", input: "Line one\nLine two", expected: "<p>Line one<br>Line two</p>\n"},
		{name: "markup is escaped", input: "<script>alert(1)</script>", expected: "<p>&lt;script&gt;alert(1)&lt;/script&gt;</p>\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(bodyToHTML(tt.input))
			if got != tt.expected {
				t.Errorf("bodyToHTML(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRenderArticleHTML(t *testing.T) {
	data := TemplateData{
		Title:     "Bus Duty Roster",
		Summary:   "Weekly bus duty assignments",
		BodyHTML:  bodyToHTML("Check the noticeboard every Monday."),
		Category:  "Operations",
		Type:      "resources",
		Tags:      []string{"duty", "roster"},
		UpdatedAt: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC),
	}

	html, err := RenderArticleHTML(data)
	if err != nil {
		t.Fatalf("RenderArticleHTML() error = %v", err)
	}

	for _, want := range []string{
		"Bus Duty Roster",
		"Weekly bus duty assignments",
		"Check the noticeboard every Monday.",
		"Operations",
		"Mar 9, 2026",
		"duty",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Bus Duty Roster", "Bus-Duty-Roster"},
		{"Term 1 / Week 3", "Term-1--Week-3"},
		{"", "article"},
		{"!!!", "article"},
	}

	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
