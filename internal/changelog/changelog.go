// Package changelog renders release notes from a template and maintains the
// per-package changelog file.
package changelog

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shiplift/shiplift/internal/models"
)

// Header is the top line of a maintained changelog file.
const Header = "# Changelog"

// DefaultTemplate groups commits by their classification, newest release on
// top of the file.
const DefaultTemplate = `## {{ .Version }}{{ if .Date }} ({{ .Date }}){{ end }}
{{- if .CompareURL }}

[Compare changes]({{ .CompareURL }})
{{- end }}
{{- range .Sections }}

### {{ .Title }}
{{ range .Commits }}
- {{ if .Scope }}**{{ .Scope }}:** {{ end }}{{ .Title }}{{ if .ShortID }} ({{ .ShortID }}){{ end }}{{ if $.IncludeAuthor }} - {{ .Author }}{{ end }}
{{- end }}
{{- end }}
`

// Section is one grouped block of a rendered release.
type Section struct {
	Title   string
	Commits []models.ClassifiedCommit
}

type templateData struct {
	Version       string
	Date          string
	CompareURL    string
	Sections      []Section
	IncludeAuthor bool
}

// sectionOrder fixes the rendering order of commit groups.
var sectionOrder = []struct {
	group models.CommitGroup
	title string
}{
	{models.GroupBreaking, "Breaking Changes"},
	{models.GroupFeature, "Features"},
	{models.GroupFix, "Bug Fixes"},
	{models.GroupPerformance, "Performance"},
	{models.GroupRefactor, "Refactoring"},
	{models.GroupDocs, "Documentation"},
	{models.GroupCI, "Continuous Integration"},
	{models.GroupChore, "Chores"},
	{models.GroupTest, "Tests"},
	{models.GroupMiscellaneous, "Other"},
}

// Renderer renders release notes from a configured template.
type Renderer struct {
	tmpl *template.Template
	now  func() time.Time
}

// NewRenderer compiles the given template, falling back to DefaultTemplate
// when text is empty.
func NewRenderer(text string) (*Renderer, error) {
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("notes").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse changelog template: %w", err)
	}
	return &Renderer{tmpl: tmpl, now: time.Now}, nil
}

// Render produces the notes text for one release.
func (r *Renderer) Render(rel *models.Release) (string, error) {
	grouped := make(map[models.CommitGroup][]models.ClassifiedCommit)
	for _, c := range rel.Commits {
		grouped[c.Group] = append(grouped[c.Group], c)
	}

	data := templateData{
		Version:       rel.Tag.Name,
		Date:          r.now().Format("2006-01-02"),
		CompareURL:    rel.CompareURL,
		IncludeAuthor: rel.IncludeAuthor,
	}
	for _, s := range sectionOrder {
		if list := grouped[s.group]; len(list) > 0 {
			data.Sections = append(data.Sections, Section{Title: s.title, Commits: list})
		}
	}

	var sb strings.Builder
	if err := r.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render changelog: %w", err)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

// Prepend inserts notes at the top of an existing changelog, keeping the
// file header in place. An empty existing file gets a fresh header.
func Prepend(existing, notes string) string {
	notes = strings.TrimRight(notes, "\n")
	existing = strings.TrimSpace(existing)

	if existing == "" {
		return fmt.Sprintf("%s\n\n%s\n", Header, notes)
	}

	if strings.HasPrefix(existing, Header) {
		rest := strings.TrimSpace(strings.TrimPrefix(existing, Header))
		if rest == "" {
			return fmt.Sprintf("%s\n\n%s\n", Header, notes)
		}
		return fmt.Sprintf("%s\n\n%s\n\n%s\n", Header, notes, rest)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s\n", Header, notes, existing)
}
