package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiplift/shiplift/internal/cache"
)

func newTestClient(t *testing.T, mux *http.ServeMux, commitCache *cache.Commits) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(Options{
		Owner:     "acme",
		Repo:      "monorepo",
		Token:     "test-token",
		BaseURL:   srv.URL,
		RateLimit: 1000,
		Cache:     commitCache,
	}, nil)
	require.NoError(t, err)
	return c
}

const (
	listCommitsPath = "/api/v3/repos/acme/monorepo/commits"
	commitJSON      = `{
		"sha": "aaaa1111",
		"commit": {
			"message": "feat: rebased work",
			"author": {"date": "2026-08-01T10:00:00Z", "email": "dev@example.com"},
			"committer": {"date": "2026-08-03T10:00:00Z"}
		},
		"author": {"login": "dev"}
	}`
)

func TestCommitsUsesCommitterDate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(listCommitsPath, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "["+commitJSON+"]")
	})
	mux.HandleFunc(listCommitsPath+"/aaaa1111", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, commitJSON)
	})
	c := newTestClient(t, mux, nil)

	commits, err := c.Commits(context.Background(), "main", nil)
	require.NoError(t, err)
	require.Len(t, commits, 1)

	// The committer date places a rebased commit inside the release window;
	// its author date would predate the last tag.
	committed := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	assert.True(t, commits[0].Timestamp.Equal(committed))
	assert.Equal(t, "dev@example.com", commits[0].AuthorEmail)
}

func TestCommitsCachesPerCommitFileDetail(t *testing.T) {
	var listCalls, detailCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(listCommitsPath, func(w http.ResponseWriter, _ *http.Request) {
		listCalls.Add(1)
		fmt.Fprint(w, "["+commitJSON+"]")
	})
	mux.HandleFunc(listCommitsPath+"/aaaa1111", func(w http.ResponseWriter, _ *http.Request) {
		detailCalls.Add(1)
		fmt.Fprint(w, `{
			"sha": "aaaa1111",
			"commit": {
				"message": "feat: rebased work",
				"author": {"date": "2026-08-01T10:00:00Z", "email": "dev@example.com"},
				"committer": {"date": "2026-08-03T10:00:00Z"}
			},
			"files": [{"filename": "packages/web/index.ts"}]
		}`)
	})

	commitCache, err := cache.OpenCommits(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = commitCache.Close() })
	c := newTestClient(t, mux, commitCache)

	first, err := c.Commits(context.Background(), "main", nil)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, []string{"packages/web/index.ts"}, first[0].Files)

	second, err := c.Commits(context.Background(), "main", nil)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, []string{"packages/web/index.ts"}, second[0].Files)

	// The listing is asked for every run; only the immutable detail is cached.
	assert.Equal(t, int32(2), listCalls.Load())
	assert.Equal(t, int32(1), detailCalls.Load())
}

func TestTagCommitToleratesExistingTag(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/monorepo/git/refs", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Reference already exists"}`)
	})
	c := newTestClient(t, mux, nil)

	assert.NoError(t, c.TagCommit(context.Background(), "web-v1.2.0", "aaaa1111"))
}

func TestCreateReleaseToleratesExistingRelease(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/monorepo/releases", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Validation Failed", "errors": [{"resource": "Release", "code": "already_exists", "field": "tag_name"}]}`)
	})
	c := newTestClient(t, mux, nil)

	assert.NoError(t, c.CreateRelease(context.Background(), "web-v1.2.0", "aaaa1111", "notes"))
}
