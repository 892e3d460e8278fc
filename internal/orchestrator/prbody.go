package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shiplift/shiplift/internal/models"
)

// metadataRe finds the HTML-comment-wrapped JSON records embedded in a PR
// body. One record precedes each package's collapsible section.
var metadataRe = regexp.MustCompile(`<!--\s*(\{.*?\})\s*-->`)

// metadataEnvelope versions the embedded record; unknown sibling fields are
// ignored on read so the schema can grow.
type metadataEnvelope struct {
	Metadata models.PRMetadata `json:"metadata"`
}

// buildPRBody renders one block per package: the metadata record immediately
// followed by a collapsible section holding the notes. The section is
// auto-expanded only when the group has exactly one package.
func buildPRBody(group []models.ReleasePRPackage) (string, error) {
	open := ""
	if len(group) == 1 {
		open = " open"
	}

	var sb strings.Builder
	for _, pkg := range group {
		record, err := json.Marshal(metadataEnvelope{Metadata: models.PRMetadata{
			Name:  pkg.Name,
			Tag:   pkg.Tag.Name,
			Notes: pkg.Notes,
		}})
		if err != nil {
			return "", fmt.Errorf("marshal PR metadata for %q: %w", pkg.Name, err)
		}
		fmt.Fprintf(&sb, "<!--%s-->\n", record)
		fmt.Fprintf(&sb, "<details%s>\n<summary>%s: %s</summary>\n\n%s\n</details>\n\n",
			open, pkg.Name, pkg.Tag.Name, strings.TrimRight(pkg.Notes, "\n"))
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

// parseMetadata extracts every readable metadata record from a PR body.
// Records that fail to parse are skipped rather than failing the run; the
// body survives human edits during review.
func parseMetadata(body string) []models.PRMetadata {
	var out []models.PRMetadata
	for _, m := range metadataRe.FindAllStringSubmatch(body, -1) {
		var env metadataEnvelope
		if err := json.Unmarshal([]byte(m[1]), &env); err != nil {
			continue
		}
		if env.Metadata.Name == "" {
			continue
		}
		out = append(out, env.Metadata)
	}
	return out
}

// metadataFor returns the record whose name matches the package, when the
// body holds several blocks for packages sharing a branch.
func metadataFor(body, name string) (models.PRMetadata, bool) {
	for _, meta := range parseMetadata(body) {
		if meta.Name == name {
			return meta, true
		}
	}
	return models.PRMetadata{}, false
}
