// Package analyzer turns a package's attributed commit history into a
// semantic-version decision: the next tag, or no release at all.
package analyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/shiplift/shiplift/internal/commits"
	"github.com/shiplift/shiplift/internal/errors"
	"github.com/shiplift/shiplift/internal/models"
)

// PrereleaseStrategy selects how a configured prerelease suffix evolves
// across successive releases.
type PrereleaseStrategy string

const (
	// StrategyVersioned appends the suffix with a trailing numeral that
	// increments while the base version stays put (alpha.1, alpha.2, ...).
	StrategyVersioned PrereleaseStrategy = "versioned"
	// StrategyStatic appends the bare suffix; the base version advances on
	// every call while the suffix never changes.
	StrategyStatic PrereleaseStrategy = "static"
)

// Prerelease is the per-package prerelease policy.
type Prerelease struct {
	Suffix   string
	Strategy PrereleaseStrategy
}

// Config is the per-package resolution policy bundle. It is immutable for
// the duration of a run.
type Config struct {
	TagPrefix      string
	InitialVersion *semver.Version
	Prerelease     *Prerelease

	SkipCI            bool
	SkipChore         bool
	SkipMiscellaneous bool

	MajorPatterns []*regexp.Regexp
	MinorPatterns []*regexp.Regexp

	BreakingAlwaysIncrementMajor bool
	FeaturesAlwaysIncrementMinor bool

	// ReleaseCommitRe recognizes the orchestrator's own generated release
	// commits so they never count toward the next bump.
	ReleaseCommitRe *regexp.Regexp

	// SkipSHAs drops commits before any other processing; Rewrites replaces
	// commit messages after skip-filtering and before classification.
	SkipSHAs map[string]bool
	Rewrites map[string]string

	IncludeAuthor bool

	// CompareLink renders a forge comparison URL between two tag names.
	// Optional; left empty when nil or when there is no previous tag.
	CompareLink func(oldTag, newTag string) string
}

// Analyzer resolves next versions for a single package's policy.
type Analyzer struct {
	cfg    Config
	logger *logrus.Entry
}

type bumpLevel int

const (
	bumpNone bumpLevel = iota
	bumpPatch
	bumpMinor
	bumpMajor
)

// New builds an analyzer, defaulting the initial version to 0.1.0.
func New(cfg Config, logger *logrus.Entry) *Analyzer {
	if cfg.InitialVersion == nil {
		cfg.InitialVersion = semver.MustParse("0.1.0")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// Analyze computes the next release from the attributed commits and the
// package's current tag. A nil release with a nil error means no release is
// warranted. Identical inputs always yield an identical release.
func (a *Analyzer) Analyze(list []models.Commit, current *models.Tag) (*models.Release, error) {
	if current != nil && current.Version == nil {
		return nil, errors.ConfigErrorf("tag %q does not carry a valid semantic version", current.Name)
	}

	survivors := a.filter(list)
	classified := a.classify(survivors)

	if len(classified) == 0 && current != nil {
		a.logger.WithField("commits", len(list)).Debug("no release-worthy commits")
		return nil, nil
	}

	var next *semver.Version
	if current == nil {
		// First release: always proceeds, even when every commit fell into a
		// filtered category.
		next = a.applyPrerelease(a.cfg.InitialVersion, nil, bumpNone)
	} else {
		level := a.bump(classified, current.Version)
		var err error
		next, err = a.next(current.Version, level)
		if err != nil {
			return nil, err
		}
	}

	name := a.cfg.TagPrefix + next.String()
	rel := &models.Release{
		Tag:           models.Tag{Name: name, Version: next},
		Commits:       classified,
		IncludeAuthor: a.cfg.IncludeAuthor,
	}
	if a.cfg.CompareLink != nil && current != nil {
		rel.CompareURL = a.cfg.CompareLink(current.Name, name)
	}
	return rel, nil
}

// filter applies the skip-list, the message rewrites and the release-commit
// matcher, in that order.
func (a *Analyzer) filter(list []models.Commit) []models.Commit {
	out := make([]models.Commit, 0, len(list))
	for _, c := range list {
		if a.cfg.SkipSHAs[c.ID] || a.cfg.SkipSHAs[c.ShortID] {
			continue
		}
		if msg, ok := a.rewriteFor(c); ok {
			c.Message = msg
		}
		if a.cfg.ReleaseCommitRe != nil && a.cfg.ReleaseCommitRe.MatchString(c.Subject()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (a *Analyzer) rewriteFor(c models.Commit) (string, bool) {
	if msg, ok := a.cfg.Rewrites[c.ID]; ok {
		return msg, true
	}
	if msg, ok := a.cfg.Rewrites[c.ShortID]; ok {
		return msg, true
	}
	return "", false
}

func (a *Analyzer) classify(list []models.Commit) []models.ClassifiedCommit {
	opts := commits.Options{
		MajorPatterns: a.cfg.MajorPatterns,
		MinorPatterns: a.cfg.MinorPatterns,
	}
	out := make([]models.ClassifiedCommit, 0, len(list))
	for _, c := range list {
		cc := commits.Classify(c, opts)
		switch cc.Group {
		case models.GroupCI:
			if a.cfg.SkipCI {
				continue
			}
		case models.GroupChore:
			if a.cfg.SkipChore {
				continue
			}
		case models.GroupMiscellaneous:
			if a.cfg.SkipMiscellaneous {
				continue
			}
		}
		out = append(out, cc)
	}
	return out
}

// bump computes the highest applicable bump across all classified commits.
// Custom pattern signals are additive with conventional syntax and are not
// demoted pre-1.0; only breaking/feature demotion is policy-controlled.
func (a *Analyzer) bump(list []models.ClassifiedCommit, current *semver.Version) bumpLevel {
	preOne := current.Major() == 0
	level := bumpNone
	raise := func(l bumpLevel) {
		if l > level {
			level = l
		}
	}
	for _, c := range list {
		if c.ForceMajor {
			raise(bumpMajor)
		}
		if c.ForceMinor {
			raise(bumpMinor)
		}
		switch {
		case c.Breaking:
			if preOne && !a.cfg.BreakingAlwaysIncrementMajor {
				raise(bumpMinor)
			} else {
				raise(bumpMajor)
			}
		case c.Group == models.GroupFeature:
			if preOne && !a.cfg.FeaturesAlwaysIncrementMinor {
				raise(bumpPatch)
			} else {
				raise(bumpMinor)
			}
		default:
			raise(bumpPatch)
		}
	}
	return level
}

// next applies the bump level to the current version under the configured
// prerelease policy.
func (a *Analyzer) next(current *semver.Version, level bumpLevel) (*semver.Version, error) {
	base := stripPrerelease(current)

	if a.cfg.Prerelease == nil {
		if current.Prerelease() != "" {
			// Graduation: strip the suffix, no additional bump.
			return base, nil
		}
		return advance(base, level), nil
	}

	return a.applyPrerelease(base, current, level), nil
}

// applyPrerelease computes the prereleased next version. current is nil on a
// first release, in which case base is the initial version and level is
// ignored.
func (a *Analyzer) applyPrerelease(base *semver.Version, current *semver.Version, level bumpLevel) *semver.Version {
	p := a.cfg.Prerelease
	if p == nil {
		return base
	}
	switch p.Strategy {
	case StrategyStatic:
		if current != nil {
			base = advance(base, level)
		}
		return withPrerelease(base, p.Suffix)
	default: // StrategyVersioned
		if current != nil {
			if n, ok := trailingNumeral(current.Prerelease(), p.Suffix); ok {
				return withPrerelease(base, fmt.Sprintf("%s.%d", p.Suffix, n+1))
			}
			base = advance(base, level)
		}
		return withPrerelease(base, p.Suffix+".1")
	}
}

func advance(v *semver.Version, level bumpLevel) *semver.Version {
	switch level {
	case bumpMajor:
		n := v.IncMajor()
		return &n
	case bumpMinor:
		n := v.IncMinor()
		return &n
	case bumpPatch:
		n := v.IncPatch()
		return &n
	default:
		return v
	}
}

func stripPrerelease(v *semver.Version) *semver.Version {
	n, _ := semver.NewVersion(fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()))
	return n
}

func withPrerelease(v *semver.Version, pre string) *semver.Version {
	n, _ := v.SetPrerelease(pre)
	return &n
}

// trailingNumeral extracts N from a prerelease of the form "<suffix>.N".
// A bare "<suffix>" counts as 1 so the next release becomes "<suffix>.2".
func trailingNumeral(pre, suffix string) (int, bool) {
	if pre == suffix {
		return 1, true
	}
	if !strings.HasPrefix(pre, suffix+".") {
		return 0, false
	}
	n, err := strconv.Atoi(pre[len(suffix)+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
