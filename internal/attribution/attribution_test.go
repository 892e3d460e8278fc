package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiplift/shiplift/internal/forge"
	"github.com/shiplift/shiplift/internal/models"
)

// stubClient implements only what attribution touches; everything else
// panics through the embedded nil interface.
type stubClient struct {
	forge.Client

	tags    map[string]*models.Tag
	commits []models.Commit

	fetchCount int
	sinces     []*time.Time
}

func (s *stubClient) RepoName() string { return "acme/monorepo" }

func (s *stubClient) LatestTag(_ context.Context, prefix string) (*models.Tag, error) {
	return s.tags[prefix], nil
}

func (s *stubClient) Commits(_ context.Context, _ string, since *time.Time) ([]models.Commit, error) {
	s.fetchCount++
	s.sinces = append(s.sinces, since)
	if since == nil {
		return s.commits, nil
	}
	var out []models.Commit
	for _, c := range s.commits {
		if !c.Timestamp.Before(*since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func at(hour int) time.Time {
	return time.Date(2026, 8, 1, hour, 0, 0, 0, time.UTC)
}

func taggedAt(name string, hour int) *models.Tag {
	ts := at(hour)
	return &models.Tag{Name: name, Version: semver.MustParse(name[len(name)-5:]), Timestamp: &ts}
}

func TestPrepareAttributesByPath(t *testing.T) {
	client := &stubClient{
		tags: map[string]*models.Tag{
			"web-v": taggedAt("web-v1.0.0", 1),
			"api-v": taggedAt("api-v1.0.0", 1),
		},
		commits: []models.Commit{
			{ID: "c3", Timestamp: at(4), Message: "fix: web only", Files: []string{"packages/web/index.ts"}},
			{ID: "c2", Timestamp: at(3), Message: "feat: api only", Files: []string{"packages/api/server.go"}},
			{ID: "c1", Timestamp: at(2), Message: "docs: root readme", Files: []string{"README.md"}},
		},
	}
	a := New(client, nil)

	out, err := a.Prepare(context.Background(), "main", []Package{
		{Name: "web", Path: "packages/web", TagPrefix: "web-v"},
		{Name: "api", Path: "packages/api", TagPrefix: "api-v"},
	})
	require.NoError(t, err)

	require.Len(t, out["web"].Commits, 1)
	assert.Equal(t, "c3", out["web"].Commits[0].ID)
	require.Len(t, out["api"].Commits, 1)
	assert.Equal(t, "c2", out["api"].Commits[0].ID)

	// Both packages tagged with timestamps: a single shared fetch suffices.
	assert.Equal(t, 1, client.fetchCount)
	require.NotNil(t, client.sinces[0])
	assert.Equal(t, at(1), *client.sinces[0])
}

func TestPrepareExtraPathsAndRootPackage(t *testing.T) {
	client := &stubClient{
		tags: map[string]*models.Tag{
			"v":     taggedAt("root-v0.1.0", 1),
			"cli-v": taggedAt("cli-v0.1.0", 1),
		},
		commits: []models.Commit{
			{ID: "c2", Timestamp: at(3), Message: "feat: shared proto", Files: []string{"proto/defs.proto"}},
			{ID: "c1", Timestamp: at(2), Message: "fix: deep file", Files: []string{"anything/nested/deep.go"}},
		},
	}
	a := New(client, nil)

	out, err := a.Prepare(context.Background(), "main", []Package{
		{Name: "root", Path: ".", TagPrefix: "v"},
		{Name: "cli", Path: "cmd/cli", ExtraPaths: []string{"proto"}, TagPrefix: "cli-v"},
	})
	require.NoError(t, err)

	// Root path owns everything.
	assert.Len(t, out["root"].Commits, 2)
	// cli owns proto/ through ExtraPaths but not the unrelated nested file.
	require.Len(t, out["cli"].Commits, 1)
	assert.Equal(t, "c2", out["cli"].Commits[0].ID)
}

func TestPrepareTimestampCutoff(t *testing.T) {
	client := &stubClient{
		tags: map[string]*models.Tag{
			"old-v": taggedAt("old-v1.0.0", 1),
			"new-v": taggedAt("new-v1.0.0", 5),
		},
		commits: []models.Commit{
			{ID: "c3", Timestamp: at(6), Files: []string{"packages/old/a.go", "packages/new/b.go"}},
			{ID: "c2", Timestamp: at(3), Files: []string{"packages/old/a.go", "packages/new/b.go"}},
		},
	}
	a := New(client, nil)

	out, err := a.Prepare(context.Background(), "main", []Package{
		{Name: "old", Path: "packages/old", TagPrefix: "old-v"},
		{Name: "new", Path: "packages/new", TagPrefix: "new-v"},
	})
	require.NoError(t, err)

	// The shared fetch goes back to the oldest tag, but each package only
	// keeps commits at or after its own tag.
	assert.Len(t, out["old"].Commits, 2)
	require.Len(t, out["new"].Commits, 1)
	assert.Equal(t, "c3", out["new"].Commits[0].ID)
}

func TestPrepareFallsBackToPerPackageFetch(t *testing.T) {
	client := &stubClient{
		tags: map[string]*models.Tag{
			"web-v": taggedAt("web-v1.0.0", 3),
			// api has never been released.
		},
		commits: []models.Commit{
			{ID: "c2", Timestamp: at(4), Files: []string{"packages/web/x.ts"}},
			{ID: "c1", Timestamp: at(1), Files: []string{"packages/api/y.go"}},
		},
	}
	a := New(client, nil)

	out, err := a.Prepare(context.Background(), "main", []Package{
		{Name: "web", Path: "packages/web", TagPrefix: "web-v"},
		{Name: "api", Path: "packages/api", TagPrefix: "api-v"},
	})
	require.NoError(t, err)

	// One bounded fetch for web plus one unbounded fetch for api.
	assert.Equal(t, 2, client.fetchCount)
	require.Len(t, out["api"].Commits, 1)
	assert.Equal(t, "c1", out["api"].Commits[0].ID)
	require.Len(t, out["web"].Commits, 1)
	assert.Equal(t, "c2", out["web"].Commits[0].ID)
	assert.Nil(t, out["api"].CurrentTag)
}

func TestPrepareSeesCommitsLandedBetweenRuns(t *testing.T) {
	client := &stubClient{
		tags: map[string]*models.Tag{
			"web-v": taggedAt("web-v1.0.0", 1),
		},
	}
	a := New(client, nil)
	pkgs := []Package{{Name: "web", Path: "packages/web", TagPrefix: "web-v"}}

	out, err := a.Prepare(context.Background(), "main", pkgs)
	require.NoError(t, err)
	assert.Empty(t, out["web"].Commits)

	// Work pushed after the first run must show up on the next one.
	client.commits = []models.Commit{
		{ID: "c1", Timestamp: at(2), Message: "feat: landed later", Files: []string{"packages/web/x.ts"}},
	}

	out, err = a.Prepare(context.Background(), "main", pkgs)
	require.NoError(t, err)
	require.Len(t, out["web"].Commits, 1)
	assert.Equal(t, "c1", out["web"].Commits[0].ID)
	assert.Equal(t, 2, client.fetchCount)
}

func TestPrepareDeduplicatesUnboundedFetches(t *testing.T) {
	client := &stubClient{
		tags: map[string]*models.Tag{},
		commits: []models.Commit{
			{ID: "c1", Timestamp: at(1), Files: []string{"a/x.go", "b/y.go"}},
		},
	}
	a := New(client, nil)

	out, err := a.Prepare(context.Background(), "main", []Package{
		{Name: "a", Path: "a", TagPrefix: "a-v"},
		{Name: "b", Path: "b", TagPrefix: "b-v"},
	})
	require.NoError(t, err)

	// Two untagged packages collapse into a single unbounded fetch.
	assert.Equal(t, 1, client.fetchCount)
	assert.Len(t, out["a"].Commits, 1)
	assert.Len(t, out["b"].Commits, 1)
}
