// Package commits classifies commit messages into semantic groups using
// conventional-commit syntax plus configurable custom bump patterns.
package commits

import (
	"regexp"

	"github.com/shiplift/shiplift/internal/models"
)

var (
	headerRe         = regexp.MustCompile(`^([A-Za-z]+)(?:\(([^)]*)\))?(!)?:\s*(.+)$`)
	breakingFooterRe = regexp.MustCompile(`(?im)^breaking[- ]change\s*:`)
)

// typeGroups maps conventional type prefixes to their standard group.
// Anything not listed is Miscellaneous.
var typeGroups = map[string]models.CommitGroup{
	"feat":     models.GroupFeature,
	"fix":      models.GroupFix,
	"perf":     models.GroupPerformance,
	"refactor": models.GroupRefactor,
	"docs":     models.GroupDocs,
	"ci":       models.GroupCI,
	"chore":    models.GroupChore,
	"test":     models.GroupTest,
	"build":    models.GroupChore,
}

// Options carries the custom bump patterns a package may configure. A major
// or minor match is additive: it contributes a bump signal without changing
// the conventional group.
type Options struct {
	MajorPatterns []*regexp.Regexp
	MinorPatterns []*regexp.Regexp
}

// Classify derives the commit group and bump signals for a single commit.
func Classify(c models.Commit, opts Options) models.ClassifiedCommit {
	out := models.ClassifiedCommit{
		Commit: c,
		Group:  models.GroupMiscellaneous,
		Title:  c.Subject(),
	}

	if m := headerRe.FindStringSubmatch(c.Subject()); m != nil {
		if g, ok := typeGroups[m[1]]; ok {
			out.Group = g
		}
		out.Scope = m[2]
		out.Title = m[4]
		if m[3] == "!" {
			out.Breaking = true
		}
	}

	if breakingFooterRe.MatchString(c.Message) {
		out.Breaking = true
	}
	if out.Breaking {
		out.Group = models.GroupBreaking
	}

	for _, re := range opts.MajorPatterns {
		if re.MatchString(c.Message) {
			out.ForceMajor = true
			break
		}
	}
	for _, re := range opts.MinorPatterns {
		if re.MatchString(c.Message) {
			out.ForceMinor = true
			break
		}
	}

	return out
}
