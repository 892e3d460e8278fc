// Package github adapts the GitHub REST API to the forge capability
// interface, with rate limiting and bounded concurrency on bulk fetches.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shiplift/shiplift/internal/cache"
	"github.com/shiplift/shiplift/internal/config"
	"github.com/shiplift/shiplift/internal/models"
)

// Options configures the adapter.
type Options struct {
	Owner        string
	Repo         string
	Token        string
	BaseURL      string         // set for GitHub Enterprise
	RateLimit    int            // requests per second
	PendingLabel string         // marks merged-but-untagged release PRs
	Cache        *cache.Commits // optional, holds immutable per-commit detail
}

// Client wraps the GitHub API client behind the forge interface.
type Client struct {
	gh           *github.Client
	owner        string
	repo         string
	host         string
	pendingLabel string
	limiter      *rate.Limiter
	maxWorkers   int
	cache        *cache.Commits
	logger       *logrus.Entry
}

// New creates a GitHub forge client.
func New(opts Options, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gh := github.NewClient(nil).WithAuthToken(opts.Token)
	host := "https://github.com"
	if opts.BaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("enterprise URL: %w", err)
		}
		host = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	return &Client{
		gh:           gh,
		owner:        opts.Owner,
		repo:         opts.Repo,
		host:         host,
		pendingLabel: opts.PendingLabel,
		limiter:      rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		maxWorkers:   10,
		cache:        opts.Cache,
		logger:       logger.WithField("forge", "github"),
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// RepoName returns "owner/repo".
func (c *Client) RepoName() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	repo, _, err := c.gh.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return "", fmt.Errorf("fetch repository: %w", err)
	}
	return repo.GetDefaultBranch(), nil
}

// LatestTag returns the highest semantic version tag with the given prefix.
func (c *Client) LatestTag(ctx context.Context, prefix string) (*models.Tag, error) {
	opts := &github.ListOptions{PerPage: 100}
	var best *models.Tag

	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		tags, resp, err := c.gh.Repositories.ListTags(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list tags: %w", err)
		}
		for _, t := range tags {
			name := t.GetName()
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			v, err := semver.NewVersion(strings.TrimPrefix(name, prefix))
			if err != nil {
				continue
			}
			if best == nil || v.GreaterThan(best.Version) {
				best = &models.Tag{SHA: t.GetCommit().GetSHA(), Name: name, Version: v}
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if best == nil {
		return nil, nil
	}

	// Attribution needs the tagged commit's timestamp as its cutoff.
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	commit, _, err := c.gh.Repositories.GetCommit(ctx, c.owner, c.repo, best.SHA, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch tag commit %s: %w", best.SHA, err)
	}
	ts := commit.GetCommit().GetCommitter().GetDate().Time
	best.Timestamp = &ts
	return best, nil
}

// Commits lists commits on base since the given time, newest first,
// including touched file paths. The list endpoint omits files, so each
// commit is completed with a bounded concurrent detail fetch.
func (c *Client) Commits(ctx context.Context, base string, since *time.Time) ([]models.Commit, error) {
	opts := &github.CommitsListOptions{
		SHA:         base,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	if since != nil {
		opts.Since = *since
	}

	var shas []string
	partial := make(map[string]models.Commit)
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		list, resp, err := c.gh.Repositories.ListCommits(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list commits: %w", err)
		}
		for _, rc := range list {
			sha := rc.GetSHA()
			shas = append(shas, sha)
			// Committer date, not author date: tag cutoffs use the committer
			// date, and rebased or cherry-picked commits carry an older
			// author date that would drop them from the window.
			partial[sha] = models.Commit{
				ID:          sha,
				ShortID:     shortSHA(sha),
				Message:     rc.GetCommit().GetMessage(),
				Timestamp:   rc.GetCommit().GetCommitter().GetDate().Time,
				Author:      rc.GetAuthor().GetLogin(),
				AuthorEmail: rc.GetCommit().GetAuthor().GetEmail(),
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)
	for _, sha := range shas {
		sha := sha
		g.Go(func() error {
			// A commit's file list never changes, so cached detail is safe
			// even though the listing above is always fetched fresh.
			if c.cache != nil {
				if files, ok := c.cache.Files(c.RepoName(), sha); ok {
					mu.Lock()
					commit := partial[sha]
					commit.Files = files
					partial[sha] = commit
					mu.Unlock()
					return nil
				}
			}
			if err := c.wait(gctx); err != nil {
				return err
			}
			detail, _, err := c.gh.Repositories.GetCommit(gctx, c.owner, c.repo, sha, nil)
			if err != nil {
				return fmt.Errorf("fetch commit %s: %w", sha, err)
			}
			files := make([]string, 0, len(detail.Files))
			for _, f := range detail.Files {
				files = append(files, f.GetFilename())
				if prev := f.GetPreviousFilename(); prev != "" {
					files = append(files, prev)
				}
			}
			if c.cache != nil {
				if err := c.cache.StoreFiles(c.RepoName(), sha, files); err != nil {
					c.logger.WithError(err).Warn("commit cache write failed")
				}
			}
			mu.Lock()
			commit := partial[sha]
			commit.Files = files
			partial[sha] = commit
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.Commit, 0, len(shas))
	for _, sha := range shas {
		out = append(out, partial[sha])
	}
	return out, nil
}

// CreateReleaseBranch creates or overwrites branch off base with one commit
// applying the file changes.
func (c *Client) CreateReleaseBranch(ctx context.Context, base, branch, message string, changes []models.FileChange) (string, error) {
	baseSHA, err := c.refSHA(ctx, base)
	if err != nil {
		return "", err
	}
	sha, err := c.commitOnto(ctx, baseSHA, message, changes)
	if err != nil {
		return "", err
	}
	if err := c.forceSetRef(ctx, branch, sha); err != nil {
		return "", err
	}
	return sha, nil
}

// CommitToBranch commits the changes directly onto branch.
func (c *Client) CommitToBranch(ctx context.Context, branch, message string, changes []models.FileChange) (string, error) {
	headSHA, err := c.refSHA(ctx, branch)
	if err != nil {
		return "", err
	}
	sha, err := c.commitOnto(ctx, headSHA, message, changes)
	if err != nil {
		return "", err
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	ref := "refs/heads/" + branch
	_, _, err = c.gh.Git.UpdateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String(ref),
		Object: &github.GitObject{SHA: github.String(sha)},
	}, false)
	if err != nil {
		return "", fmt.Errorf("update ref %s: %w", ref, err)
	}
	return sha, nil
}

func (c *Client) refSHA(ctx context.Context, branch string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	ref, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "refs/heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("get ref %s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}

// commitOnto builds one tree+commit on top of parentSHA and returns its SHA.
func (c *Client) commitOnto(ctx context.Context, parentSHA, message string, changes []models.FileChange) (string, error) {
	entries := make([]*github.TreeEntry, 0, len(changes))
	for _, ch := range changes {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(ch.Path),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(ch.Content),
		})
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	tree, _, err := c.gh.Git.CreateTree(ctx, c.owner, c.repo, parentSHA, entries)
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	commit, _, err := c.gh.Git.CreateCommit(ctx, c.owner, c.repo, &github.Commit{
		Message: github.String(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.String(parentSHA)}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}
	return commit.GetSHA(), nil
}

// forceSetRef creates the branch ref, or force-updates it when it already
// exists; release branches are always overwritten.
func (c *Client) forceSetRef(ctx context.Context, branch, sha string) error {
	ref := "refs/heads/" + branch
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, _, err := c.gh.Git.CreateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String(ref),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err == nil {
		return nil
	}

	if err := c.wait(ctx); err != nil {
		return err
	}
	_, _, err = c.gh.Git.UpdateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String(ref),
		Object: &github.GitObject{SHA: github.String(sha)},
	}, true)
	if err != nil {
		return fmt.Errorf("force update ref %s: %w", ref, err)
	}
	return nil
}

// OpenReleasePR returns the open PR for the head/base pair, or nil.
func (c *Client) OpenReleasePR(ctx context.Context, base, head string) (*models.PullRequest, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	prs, _, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, &github.PullRequestListOptions{
		State:       "open",
		Head:        c.owner + ":" + head,
		Base:        base,
		ListOptions: github.ListOptions{PerPage: 10},
	})
	if err != nil {
		return nil, fmt.Errorf("list open PRs: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return convertPR(prs[0]), nil
}

// MergedReleasePR returns the most recent merged release PR for the
// head/base pair still carrying the pending label, or nil.
func (c *Client) MergedReleasePR(ctx context.Context, base, head string) (*models.PullRequest, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	prs, _, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, &github.PullRequestListOptions{
		State:       "closed",
		Head:        c.owner + ":" + head,
		Base:        base,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 30},
	})
	if err != nil {
		return nil, fmt.Errorf("list closed PRs: %w", err)
	}
	for _, pr := range prs {
		if pr.MergedAt == nil {
			continue
		}
		if !hasLabel(pr.Labels, c.pendingLabel) {
			continue
		}
		out := convertPR(pr)
		out.SHA = pr.GetMergeCommitSHA()
		out.Merged = true
		return out, nil
	}
	return nil, nil
}

// CreatePR opens a new pull request.
func (c *Client) CreatePR(ctx context.Context, base, head, title, body string) (*models.PullRequest, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	return convertPR(pr), nil
}

// UpdatePR replaces the PR's title and body.
func (c *Client) UpdatePR(ctx context.Context, number int, title, body string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, _, err := c.gh.PullRequests.Edit(ctx, c.owner, c.repo, number, &github.PullRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})
	if err != nil {
		return fmt.Errorf("update PR #%d: %w", number, err)
	}
	return nil
}

// ReplacePRLabels replaces the full label set on the PR.
func (c *Client) ReplacePRLabels(ctx context.Context, number int, labels []string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, _, err := c.gh.Issues.ReplaceLabelsForIssue(ctx, c.owner, c.repo, number, labels)
	if err != nil {
		return fmt.Errorf("replace labels on #%d: %w", number, err)
	}
	return nil
}

// TagCommit creates a lightweight tag at sha. A tag that already exists is
// not an error: a rerun after a partial failure must get past the packages
// it tagged before.
func (c *Client) TagCommit(ctx context.Context, tag, sha string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, _, err := c.gh.Git.CreateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/tags/" + tag),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err != nil {
		if isAlreadyExists(err) {
			c.logger.WithField("tag", tag).Debug("tag already exists")
			return nil
		}
		return fmt.Errorf("create tag %s: %w", tag, err)
	}
	return nil
}

// CreateRelease creates the GitHub release object for an existing tag. An
// existing release for the tag is not an error, matching TagCommit.
func (c *Client) CreateRelease(ctx context.Context, tag, sha, notes string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, _, err := c.gh.Repositories.CreateRelease(ctx, c.owner, c.repo, &github.RepositoryRelease{
		TagName:         github.String(tag),
		TargetCommitish: github.String(sha),
		Name:            github.String(tag),
		Body:            github.String(notes),
	})
	if err != nil {
		if isAlreadyExists(err) {
			c.logger.WithField("tag", tag).Debug("release already exists")
			return nil
		}
		return fmt.Errorf("create release %s: %w", tag, err)
	}
	return nil
}

// FileContent returns the decoded content of path on branch.
func (c *Client) FileContent(ctx context.Context, branch, path string) (string, bool, error) {
	if err := c.wait(ctx); err != nil {
		return "", false, err
	}
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get contents %s: %w", path, err)
	}
	if file == nil {
		return "", false, nil
	}
	content, err := file.GetContent()
	if err != nil {
		return "", false, fmt.Errorf("decode %s: %w", path, err)
	}
	return content, true, nil
}

// LoadConfig fetches the repo-side configuration file, or nil when absent.
func (c *Client) LoadConfig(ctx context.Context, branch string) ([]byte, error) {
	content, ok, err := c.FileContent(ctx, branch, config.RepoConfigPath)
	if err != nil || !ok {
		return nil, err
	}
	return []byte(content), nil
}

// CompareURL renders the web comparison link between two tags.
func (c *Client) CompareURL(oldTag, newTag string) string {
	return fmt.Sprintf("%s/%s/%s/compare/%s...%s", c.host, c.owner, c.repo, oldTag, newTag)
}

func convertPR(pr *github.PullRequest) *models.PullRequest {
	return &models.PullRequest{
		Number: pr.GetNumber(),
		SHA:    pr.GetHead().GetSHA(),
		Title:  pr.GetTitle(),
		Body:   pr.GetBody(),
		URL:    pr.GetHTMLURL(),
		Merged: pr.MergedAt != nil,
	}
}

// isAlreadyExists recognizes GitHub's 422 responses for creating a ref or a
// release that is already there.
func isAlreadyExists(err error) bool {
	var gherr *github.ErrorResponse
	if !errors.As(err, &gherr) {
		return false
	}
	if strings.Contains(gherr.Message, "already exists") {
		return true
	}
	for _, e := range gherr.Errors {
		if e.Code == "already_exists" {
			return true
		}
	}
	return false
}

func hasLabel(labels []*github.Label, name string) bool {
	for _, l := range labels {
		if l.GetName() == name {
			return true
		}
	}
	return false
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
