package analyzer

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiplift/shiplift/internal/models"
)

func commitList(messages ...string) []models.Commit {
	out := make([]models.Commit, 0, len(messages))
	for i, m := range messages {
		out = append(out, models.Commit{
			ID:      fmt.Sprintf("%040d", i),
			ShortID: fmt.Sprintf("%07d", i),
			Message: m,
			Author:  "dev",
		})
	}
	return out
}

func tag(name string) *models.Tag {
	v := semver.MustParse(name[1:])
	return &models.Tag{Name: name, Version: v}
}

func TestAnalyzeFirstRelease(t *testing.T) {
	a := New(Config{TagPrefix: "v"}, nil)

	rel, err := a.Analyze(commitList("feat: a", "fix: b"), nil)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "v0.1.0", rel.Tag.Name)
	assert.Equal(t, "0.1.0", rel.Tag.Version.String())
	assert.Len(t, rel.Commits, 2)
}

func TestAnalyzeFirstReleaseCustomInitial(t *testing.T) {
	a := New(Config{TagPrefix: "v", InitialVersion: semver.MustParse("1.0.0")}, nil)

	rel, err := a.Analyze(commitList("chore: scaffolding"), nil)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "v1.0.0", rel.Tag.Name)
}

func TestAnalyzeFirstReleaseProceedsWithOnlyFilteredCommits(t *testing.T) {
	a := New(Config{TagPrefix: "v", SkipChore: true}, nil)

	rel, err := a.Analyze(commitList("chore: init"), nil)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "v0.1.0", rel.Tag.Name)
	assert.Empty(t, rel.Commits)
}

func TestAnalyzeBreakingBumpsMajorPostOne(t *testing.T) {
	a := New(Config{TagPrefix: "v"}, nil)

	rel, err := a.Analyze(commitList("feat!: x"), tag("v1.0.0"))
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "v2.0.0", rel.Tag.Name)
}

func TestAnalyzePreOneDemotion(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		message string
		want    string
	}{
		{"breaking demoted to minor", Config{TagPrefix: "v"}, "feat!: x", "v0.2.0"},
		{"breaking kept major", Config{TagPrefix: "v", BreakingAlwaysIncrementMajor: true}, "feat!: x", "v1.0.0"},
		{"feature demoted to patch", Config{TagPrefix: "v"}, "feat: x", "v0.1.1"},
		{"feature kept minor", Config{TagPrefix: "v", FeaturesAlwaysIncrementMinor: true}, "feat: x", "v0.2.0"},
		{"fix stays patch", Config{TagPrefix: "v"}, "fix: x", "v0.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.cfg, nil)
			rel, err := a.Analyze(commitList(tt.message), tag("v0.1.0"))
			require.NoError(t, err)
			require.NotNil(t, rel)
			assert.Equal(t, tt.want, rel.Tag.Name)
		})
	}
}

func TestAnalyzeHighestBumpWins(t *testing.T) {
	a := New(Config{TagPrefix: "v"}, nil)

	rel, err := a.Analyze(commitList("fix: a", "feat: b", "feat!: c"), tag("v2.3.4"))
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "v3.0.0", rel.Tag.Name)
}

func TestAnalyzeCustomPatternsAreNotDemoted(t *testing.T) {
	a := New(Config{
		TagPrefix:     "v",
		MajorPatterns: []*regexp.Regexp{regexp.MustCompile(`(?m)^Removed:`)},
	}, nil)

	// Pre-1.0 demotion applies to conventional breaking syntax only; an
	// explicit custom major match means major.
	rel, err := a.Analyze(commitList("chore: drop api\n\nRemoved: the v0 endpoints"), tag("v0.4.0"))
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "v1.0.0", rel.Tag.Name)
}

func TestAnalyzeNoReleaseWhenNothingSurvives(t *testing.T) {
	a := New(Config{TagPrefix: "v", SkipChore: true, SkipCI: true}, nil)

	rel, err := a.Analyze(commitList("chore: deps", "ci: cache"), tag("v1.2.0"))
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestAnalyzeNoReleaseOnEmptyInput(t *testing.T) {
	a := New(Config{TagPrefix: "v"}, nil)

	rel, err := a.Analyze(nil, tag("v1.2.0"))
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestAnalyzeReleaseCommitsExcluded(t *testing.T) {
	a := New(Config{
		TagPrefix:       "v",
		ReleaseCommitRe: regexp.MustCompile(`^chore(\([^)]*\))?: (release|bump patch version)`),
	}, nil)

	rel, err := a.Analyze(commitList(
		"chore(main): release web v1.3.0",
		"chore(main): bump patch version api - api-v0.2.1",
	), tag("v1.3.0"))
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestAnalyzeSkipSHAsAndRewrites(t *testing.T) {
	list := commitList("feat!: big rewrite", "fux: typo in type")
	a := New(Config{
		TagPrefix: "v",
		SkipSHAs:  map[string]bool{list[0].ShortID: true},
		Rewrites:  map[string]string{list[1].ID: "fix: typo in type"},
	}, nil)

	rel, err := a.Analyze(list, tag("v1.0.0"))
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "v1.0.1", rel.Tag.Name)
	require.Len(t, rel.Commits, 1)
	assert.Equal(t, models.GroupFix, rel.Commits[0].Group)
}

func TestAnalyzeGraduation(t *testing.T) {
	a := New(Config{TagPrefix: "v"}, nil)

	// Prerelease policy removed: the suffix is stripped and nothing else
	// moves, regardless of how big the commits are.
	rel, err := a.Analyze(commitList("feat!: stabilize"), tag("v1.0.0-alpha.5"))
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "v1.0.0", rel.Tag.Name)
}

func TestAnalyzeVersionedPrerelease(t *testing.T) {
	a := New(Config{
		TagPrefix:  "v",
		Prerelease: &Prerelease{Suffix: "alpha", Strategy: StrategyVersioned},
	}, nil)

	rel, err := a.Analyze(commitList("feat: x"), nil)
	require.NoError(t, err)
	assert.Equal(t, "v0.1.0-alpha.1", rel.Tag.Name)

	rel, err = a.Analyze(commitList("feat!: y"), tag("v0.1.0-alpha.1"))
	require.NoError(t, err)
	assert.Equal(t, "v0.1.0-alpha.2", rel.Tag.Name)

	// Bare suffix counts as .1.
	rel, err = a.Analyze(commitList("fix: z"), tag("v0.1.0-alpha"))
	require.NoError(t, err)
	assert.Equal(t, "v0.1.0-alpha.2", rel.Tag.Name)
}

func TestAnalyzeVersionedPrereleaseSuffixChange(t *testing.T) {
	a := New(Config{
		TagPrefix:  "v",
		Prerelease: &Prerelease{Suffix: "beta", Strategy: StrategyVersioned},
	}, nil)

	// Current suffix does not match the configured one: bump the base and
	// restart the counter.
	rel, err := a.Analyze(commitList("fix: x"), tag("v0.1.0-alpha.3"))
	require.NoError(t, err)
	assert.Equal(t, "v0.1.1-beta.1", rel.Tag.Name)
}

func TestAnalyzeStaticPrerelease(t *testing.T) {
	a := New(Config{
		TagPrefix:  "v",
		Prerelease: &Prerelease{Suffix: "snapshot", Strategy: StrategyStatic},
	}, nil)

	rel, err := a.Analyze(commitList("fix: x"), tag("v1.2.3-snapshot"))
	require.NoError(t, err)
	assert.Equal(t, "v1.2.4-snapshot", rel.Tag.Name)

	rel, err = a.Analyze(commitList("feat: x"), tag("v1.2.4-snapshot"))
	require.NoError(t, err)
	assert.Equal(t, "v1.3.0-snapshot", rel.Tag.Name)
}

func TestAnalyzeIdempotent(t *testing.T) {
	a := New(Config{TagPrefix: "v"}, nil)
	list := commitList("feat: a", "fix: b", "docs: c")
	current := tag("v1.4.2")

	first, err := a.Analyze(list, current)
	require.NoError(t, err)
	second, err := a.Analyze(list, current)
	require.NoError(t, err)
	assert.Equal(t, first.Tag.Name, second.Tag.Name)
	assert.Equal(t, first.Commits, second.Commits)
}

func TestAnalyzeMalformedCurrentTag(t *testing.T) {
	a := New(Config{TagPrefix: "v"}, nil)

	_, err := a.Analyze(commitList("fix: x"), &models.Tag{Name: "release-2024"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release-2024")
}

func TestAnalyzeCompareLink(t *testing.T) {
	a := New(Config{
		TagPrefix: "v",
		CompareLink: func(oldTag, newTag string) string {
			return "https://example.com/compare/" + oldTag + "..." + newTag
		},
	}, nil)

	rel, err := a.Analyze(commitList("fix: x"), tag("v1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/compare/v1.0.0...v1.0.1", rel.CompareURL)

	// No previous tag means no comparison link.
	rel, err = a.Analyze(commitList("fix: x"), nil)
	require.NoError(t, err)
	assert.Empty(t, rel.CompareURL)
}
