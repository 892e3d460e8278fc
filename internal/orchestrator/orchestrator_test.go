package orchestrator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiplift/shiplift/internal/config"
	"github.com/shiplift/shiplift/internal/errors"
	"github.com/shiplift/shiplift/internal/models"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Forge.Owner = "acme"
	cfg.Forge.Repo = "monorepo"
	cfg.BaseBranch = "main"
	cfg.CacheDir = ""
	cfg.Packages = []config.PackageConfig{
		{Name: "web", Path: "packages/web", Ecosystem: "npm"},
		{Name: "api", Path: "packages/api"},
	}
	return cfg
}

func newTestOrchestrator(t *testing.T, f *fakeForge, cfg *config.Config) *Orchestrator {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	o, err := New(f, cfg, logger)
	require.NoError(t, err)
	return o
}

// seedTwoPackages sets up a repo where web (npm, tagged 1.1.0) has a feature
// pending and api (gomod, tagged 0.3.0) has a fix pending.
func seedTwoPackages(f *fakeForge) {
	taggedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.tags["web-v"] = &models.Tag{Name: "web-v1.1.0", Version: semver.MustParse("1.1.0"), Timestamp: &taggedAt}
	f.tags["api-v"] = &models.Tag{Name: "api-v0.3.0", Version: semver.MustParse("0.3.0"), Timestamp: &taggedAt}
	f.commits = []models.Commit{
		{
			ID: "aaa", ShortID: "aaa1111", Message: "feat: new web widget",
			Timestamp: taggedAt.Add(2 * time.Hour), Author: "dev",
			Files: []string{"packages/web/src/widget.ts"},
		},
		{
			ID: "bbb", ShortID: "bbb2222", Message: "fix: api nil deref",
			Timestamp: taggedAt.Add(time.Hour), Author: "dev",
			Files: []string{"packages/api/server.go"},
		},
	}
	f.files["packages/web/package.json"] = `{"name":"@acme/web","version":"1.1.0"}`
}

func TestCreateReleasePRsSharedBranch(t *testing.T) {
	f := newFakeForge()
	seedTwoPackages(f)
	o := newTestOrchestrator(t, f, testConfig())

	prs, err := o.CreateReleasePRs(context.Background())
	require.NoError(t, err)
	require.Len(t, prs, 1)
	pr := prs[0]

	// One shared branch with one combined commit.
	assert.Equal(t, "chore(main): release", f.branchMessages["shiplift-release-main"])
	changes := f.branchChanges["shiplift-release-main"]
	byPath := make(map[string]string, len(changes))
	for _, c := range changes {
		byPath[c.Path] = c.Content
	}
	assert.Contains(t, byPath["packages/web/package.json"], `"version":"1.2.0"`)
	assert.Contains(t, byPath["packages/web/CHANGELOG.md"], "## web-v1.2.0")
	assert.Contains(t, byPath["packages/web/CHANGELOG.md"], "new web widget")
	assert.Contains(t, byPath["packages/api/CHANGELOG.md"], "## api-v0.3.1")

	// Two metadata records, collapsed sections.
	metas := parseMetadata(pr.Body)
	require.Len(t, metas, 2)
	assert.Equal(t, "web", metas[0].Name)
	assert.Equal(t, "web-v1.2.0", metas[0].Tag)
	assert.Equal(t, "api", metas[1].Name)
	assert.Equal(t, "api-v0.3.1", metas[1].Tag)
	assert.NotContains(t, pr.Body, "<details open>")

	assert.Equal(t, []string{"shiplift:pending"}, f.labels[pr.Number])
}

func TestCreateReleasePRsSeparateBranches(t *testing.T) {
	f := newFakeForge()
	seedTwoPackages(f)
	cfg := testConfig()
	cfg.SeparatePullRequests = true
	o := newTestOrchestrator(t, f, cfg)

	prs, err := o.CreateReleasePRs(context.Background())
	require.NoError(t, err)
	require.Len(t, prs, 2)

	assert.Equal(t, "chore(main): release api api-v0.3.1", f.branchMessages["shiplift-release-main-api"])
	assert.Equal(t, "chore(main): release web web-v1.2.0", f.branchMessages["shiplift-release-main-web"])

	// A single-package PR auto-expands its section.
	for _, pr := range prs {
		assert.Contains(t, pr.Body, "<details open>")
		assert.Len(t, parseMetadata(pr.Body), 1)
	}
}

func TestCreateReleasePRsPendingReleaseAborts(t *testing.T) {
	f := newFakeForge()
	seedTwoPackages(f)
	f.mergedPRs["shiplift-release-main"] = &models.PullRequest{Number: 7, SHA: "merge-sha", Merged: true}
	o := newTestOrchestrator(t, f, testConfig())

	_, err := o.CreateReleasePRs(context.Background())
	require.Error(t, err)

	var pending *errors.PendingReleaseError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, "shiplift-release-main", pending.Branch)
	assert.Equal(t, 7, pending.PRNumber)

	// The conflict must abort before the first write.
	assert.Zero(t, f.writes)
}

func TestCreateReleasePRsRefreshesExistingPR(t *testing.T) {
	f := newFakeForge()
	seedTwoPackages(f)
	f.openPRs["shiplift-release-main"] = &models.PullRequest{Number: 42, Title: "stale", Body: "stale"}
	o := newTestOrchestrator(t, f, testConfig())

	prs, err := o.CreateReleasePRs(context.Background())
	require.NoError(t, err)
	require.Len(t, prs, 1)

	assert.Equal(t, 42, prs[0].Number)
	assert.Contains(t, f.updatedBodies[42], "web-v1.2.0")
	// No second PR was opened.
	assert.Equal(t, 100, f.nextNumber)
}

func TestCreateReleasePRsNothingToRelease(t *testing.T) {
	f := newFakeForge()
	taggedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.tags["web-v"] = &models.Tag{Name: "web-v1.1.0", Version: semver.MustParse("1.1.0"), Timestamp: &taggedAt}
	f.tags["api-v"] = &models.Tag{Name: "api-v0.3.0", Version: semver.MustParse("0.3.0"), Timestamp: &taggedAt}
	o := newTestOrchestrator(t, f, testConfig())

	prs, err := o.CreateReleasePRs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, prs)
	assert.Zero(t, f.writes)
}

func TestCreateReleasePRsResolvesDefaultBranch(t *testing.T) {
	f := newFakeForge()
	seedTwoPackages(f)
	f.defaultBranch = "develop"
	cfg := testConfig()
	cfg.BaseBranch = ""
	o := newTestOrchestrator(t, f, cfg)

	prs, err := o.CreateReleasePRs(context.Background())
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, "chore(develop): release", f.branchMessages["shiplift-release-develop"])
}

func TestPlanMakesNoWrites(t *testing.T) {
	f := newFakeForge()
	seedTwoPackages(f)
	o := newTestOrchestrator(t, f, testConfig())

	entries, err := o.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := make(map[string]PlanEntry, len(entries))
	for _, e := range entries {
		byName[e.Package] = e
	}
	assert.Equal(t, "web-v1.1.0", byName["web"].CurrentTag)
	assert.Equal(t, "web-v1.2.0", byName["web"].NextTag)
	assert.Equal(t, 1, byName["web"].Commits)
	assert.Equal(t, "api-v0.3.1", byName["api"].NextTag)
	assert.Equal(t, "shiplift-release-main", byName["web"].Branch)

	assert.Zero(t, f.writes)
}
