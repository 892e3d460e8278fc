package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/shiplift/shiplift/internal/forge"
	"github.com/shiplift/shiplift/internal/models"
)

// fakeForge is an in-memory forge.Client that records every write, so tests
// can assert both on outcomes and on the absence of side effects.
type fakeForge struct {
	defaultBranch string
	tags          map[string]*models.Tag
	commits       []models.Commit
	files         map[string]string

	openPRs   map[string]*models.PullRequest
	mergedPRs map[string]*models.PullRequest

	nextNumber     int
	tagErrs        map[string]error
	branchChanges  map[string][]models.FileChange
	branchMessages map[string]string
	directMessages []string
	directChanges  [][]models.FileChange
	createdTags    map[string]string
	releases       map[string]string
	labels         map[int][]string
	updatedBodies  map[int]string
	writes         int
}

var _ forge.Client = (*fakeForge)(nil)

func newFakeForge() *fakeForge {
	return &fakeForge{
		defaultBranch:  "main",
		tags:           map[string]*models.Tag{},
		files:          map[string]string{},
		openPRs:        map[string]*models.PullRequest{},
		mergedPRs:      map[string]*models.PullRequest{},
		nextNumber:     100,
		branchChanges:  map[string][]models.FileChange{},
		branchMessages: map[string]string{},
		createdTags:    map[string]string{},
		releases:       map[string]string{},
		labels:         map[int][]string{},
		updatedBodies:  map[int]string{},
	}
}

func (f *fakeForge) RepoName() string { return "acme/monorepo" }

func (f *fakeForge) DefaultBranch(context.Context) (string, error) {
	return f.defaultBranch, nil
}

func (f *fakeForge) LatestTag(_ context.Context, prefix string) (*models.Tag, error) {
	return f.tags[prefix], nil
}

func (f *fakeForge) Commits(_ context.Context, _ string, since *time.Time) ([]models.Commit, error) {
	if since == nil {
		return f.commits, nil
	}
	var out []models.Commit
	for _, c := range f.commits {
		if !c.Timestamp.Before(*since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeForge) CreateReleaseBranch(_ context.Context, _, branch, message string, changes []models.FileChange) (string, error) {
	f.writes++
	f.branchChanges[branch] = changes
	f.branchMessages[branch] = message
	return "sha-" + branch, nil
}

func (f *fakeForge) CommitToBranch(_ context.Context, _, message string, changes []models.FileChange) (string, error) {
	f.writes++
	f.directMessages = append(f.directMessages, message)
	f.directChanges = append(f.directChanges, changes)
	return "sha-direct", nil
}

func (f *fakeForge) OpenReleasePR(_ context.Context, _, head string) (*models.PullRequest, error) {
	return f.openPRs[head], nil
}

func (f *fakeForge) MergedReleasePR(_ context.Context, _, head string) (*models.PullRequest, error) {
	return f.mergedPRs[head], nil
}

func (f *fakeForge) CreatePR(_ context.Context, _, head, title, body string) (*models.PullRequest, error) {
	f.writes++
	f.nextNumber++
	pr := &models.PullRequest{Number: f.nextNumber, Title: title, Body: body}
	f.openPRs[head] = pr
	return pr, nil
}

func (f *fakeForge) UpdatePR(_ context.Context, number int, _, body string) error {
	f.writes++
	f.updatedBodies[number] = body
	return nil
}

func (f *fakeForge) ReplacePRLabels(_ context.Context, number int, labels []string) error {
	f.writes++
	f.labels[number] = labels

	pending := false
	for _, l := range labels {
		if l == "shiplift:pending" {
			pending = true
		}
	}
	if !pending {
		// Losing the pending label takes the PR out of the merged-untagged
		// lookup, mirroring the real label filter.
		for head, pr := range f.mergedPRs {
			if pr.Number == number {
				delete(f.mergedPRs, head)
			}
		}
	}
	return nil
}

// TagCommit mirrors the adapters' contract: a one-shot injected failure is
// reported, and re-tagging an existing tag succeeds.
func (f *fakeForge) TagCommit(_ context.Context, tag, sha string) error {
	if err, ok := f.tagErrs[tag]; ok {
		delete(f.tagErrs, tag)
		return err
	}
	f.writes++
	f.createdTags[tag] = sha

	for prefix := range f.tags {
		if !strings.HasPrefix(tag, prefix) {
			continue
		}
		if v, err := semver.NewVersion(strings.TrimPrefix(tag, prefix)); err == nil {
			now := time.Now()
			f.tags[prefix] = &models.Tag{SHA: sha, Name: tag, Version: v, Timestamp: &now}
		}
	}
	return nil
}

func (f *fakeForge) CreateRelease(_ context.Context, tag, _, notes string) error {
	f.writes++
	f.releases[tag] = notes
	return nil
}

func (f *fakeForge) FileContent(_ context.Context, _, path string) (string, bool, error) {
	content, ok := f.files[path]
	return content, ok, nil
}

func (f *fakeForge) LoadConfig(context.Context, string) ([]byte, error) {
	return nil, nil
}

func (f *fakeForge) CompareURL(oldTag, newTag string) string {
	return "https://example.com/acme/monorepo/compare/" + oldTag + "..." + newTag
}
