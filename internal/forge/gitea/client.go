// Package gitea adapts the Gitea API to the forge capability interface.
//
// Gitea's contents API commits one file per call, so a release branch is
// assembled as a short series of commits instead of one combined commit; the
// returned SHA is the branch head after the last file.
package gitea

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"code.gitea.io/sdk/gitea"
	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/shiplift/shiplift/internal/config"
	"github.com/shiplift/shiplift/internal/models"
)

// Options configures the adapter.
type Options struct {
	Owner        string
	Repo         string
	Token        string
	BaseURL      string
	PendingLabel string
}

// Client wraps the Gitea SDK behind the forge interface.
type Client struct {
	gt           *gitea.Client
	owner        string
	repo         string
	host         string
	pendingLabel string
	logger       *logrus.Entry
}

// New creates a Gitea forge client. BaseURL is required; Gitea has no
// canonical hosted instance.
func New(opts Options, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("gitea requires forge.base_url")
	}
	gt, err := gitea.NewClient(opts.BaseURL, gitea.SetToken(opts.Token))
	if err != nil {
		return nil, fmt.Errorf("gitea client: %w", err)
	}
	return &Client{
		gt:           gt,
		owner:        opts.Owner,
		repo:         opts.Repo,
		host:         strings.TrimRight(opts.BaseURL, "/"),
		pendingLabel: opts.PendingLabel,
		logger:       logger.WithField("forge", "gitea"),
	}, nil
}

// RepoName returns "owner/repo".
func (c *Client) RepoName() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	repo, _, err := c.gt.GetRepo(c.owner, c.repo)
	if err != nil {
		return "", fmt.Errorf("fetch repository: %w", err)
	}
	return repo.DefaultBranch, nil
}

// LatestTag returns the highest semantic version tag with the given prefix.
func (c *Client) LatestTag(ctx context.Context, prefix string) (*models.Tag, error) {
	var best *models.Tag
	for page := 1; ; page++ {
		tags, _, err := c.gt.ListRepoTags(c.owner, c.repo, gitea.ListRepoTagsOptions{
			ListOptions: gitea.ListOptions{Page: page, PageSize: 50},
		})
		if err != nil {
			return nil, fmt.Errorf("list tags: %w", err)
		}
		for _, t := range tags {
			if !strings.HasPrefix(t.Name, prefix) {
				continue
			}
			v, err := semver.NewVersion(strings.TrimPrefix(t.Name, prefix))
			if err != nil {
				continue
			}
			if best == nil || v.GreaterThan(best.Version) {
				best = &models.Tag{SHA: t.Commit.SHA, Name: t.Name, Version: v}
			}
		}
		if len(tags) < 50 {
			break
		}
	}
	if best == nil {
		return nil, nil
	}

	commit, _, err := c.gt.GetSingleCommit(c.owner, c.repo, best.SHA)
	if err != nil {
		return nil, fmt.Errorf("fetch tag commit %s: %w", best.SHA, err)
	}
	ts := commit.RepoCommit.Committer.Date
	if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		best.Timestamp = &parsed
	}
	return best, nil
}

// Commits lists commits on base since the given time, including touched
// paths; Gitea's list endpoint carries affected files directly.
func (c *Client) Commits(ctx context.Context, base string, since *time.Time) ([]models.Commit, error) {
	var out []models.Commit
	for page := 1; ; page++ {
		list, _, err := c.gt.ListRepoCommits(c.owner, c.repo, gitea.ListCommitOptions{
			ListOptions: gitea.ListOptions{Page: page, PageSize: 50},
			SHA:         base,
		})
		if err != nil {
			return nil, fmt.Errorf("list commits: %w", err)
		}
		if len(list) == 0 {
			break
		}

		done := false
		for _, rc := range list {
			ts, _ := time.Parse(time.RFC3339, rc.RepoCommit.Committer.Date)
			if since != nil && ts.Before(*since) {
				done = true
				break
			}
			var files []string
			for _, f := range rc.Files {
				files = append(files, f.Filename)
			}
			author := ""
			if rc.Author != nil {
				author = rc.Author.UserName
			}
			out = append(out, models.Commit{
				ID:          rc.SHA,
				ShortID:     shortSHA(rc.SHA),
				Message:     rc.RepoCommit.Message,
				Timestamp:   ts,
				Author:      author,
				AuthorEmail: rc.RepoCommit.Author.Email,
				Files:       files,
			})
		}
		if done {
			break
		}
	}
	return out, nil
}

// CreateReleaseBranch recreates branch off base and writes each change as a
// contents-API commit carrying the release message.
func (c *Client) CreateReleaseBranch(ctx context.Context, base, branch, message string, changes []models.FileChange) (string, error) {
	// Stale release branches are dropped and rebuilt.
	if _, _, err := c.gt.DeleteRepoBranch(c.owner, c.repo, branch); err != nil && !isNotFound(err) {
		return "", fmt.Errorf("delete branch %s: %w", branch, err)
	}
	if _, _, err := c.gt.CreateBranch(c.owner, c.repo, gitea.CreateBranchOption{
		BranchName:    branch,
		OldBranchName: base,
	}); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
	return c.CommitToBranch(ctx, branch, message, changes)
}

// CommitToBranch writes the changes onto branch, one contents-API call per
// file, and returns the branch head SHA.
func (c *Client) CommitToBranch(ctx context.Context, branch, message string, changes []models.FileChange) (string, error) {
	var lastSHA string
	for _, ch := range changes {
		_, ok, err := c.FileContent(ctx, branch, ch.Path)
		if err != nil {
			return "", err
		}
		opts := gitea.FileOptions{Message: message, BranchName: branch}
		if ok {
			file, _, err := c.gt.GetContents(c.owner, c.repo, branch, ch.Path)
			if err != nil {
				return "", fmt.Errorf("stat %s: %w", ch.Path, err)
			}
			resp, _, err := c.gt.UpdateFile(c.owner, c.repo, ch.Path, gitea.UpdateFileOptions{
				FileOptions: opts,
				SHA:         file.SHA,
				Content:     encode(ch.Content),
			})
			if err != nil {
				return "", fmt.Errorf("update %s: %w", ch.Path, err)
			}
			lastSHA = resp.Commit.SHA
		} else {
			resp, _, err := c.gt.CreateFile(c.owner, c.repo, ch.Path, gitea.CreateFileOptions{
				FileOptions: opts,
				Content:     encode(ch.Content),
			})
			if err != nil {
				return "", fmt.Errorf("create %s: %w", ch.Path, err)
			}
			lastSHA = resp.Commit.SHA
		}
	}
	return lastSHA, nil
}

// OpenReleasePR returns the open PR for the head/base pair, or nil.
func (c *Client) OpenReleasePR(ctx context.Context, base, head string) (*models.PullRequest, error) {
	return c.findPR(base, head, gitea.StateOpen, false)
}

// MergedReleasePR returns the most recent merged PR still carrying the
// pending label, or nil.
func (c *Client) MergedReleasePR(ctx context.Context, base, head string) (*models.PullRequest, error) {
	return c.findPR(base, head, gitea.StateClosed, true)
}

func (c *Client) findPR(base, head string, state gitea.StateType, merged bool) (*models.PullRequest, error) {
	for page := 1; ; page++ {
		prs, _, err := c.gt.ListRepoPullRequests(c.owner, c.repo, gitea.ListPullRequestsOptions{
			ListOptions: gitea.ListOptions{Page: page, PageSize: 50},
			State:       state,
		})
		if err != nil {
			return nil, fmt.Errorf("list PRs: %w", err)
		}
		if len(prs) == 0 {
			return nil, nil
		}
		for _, pr := range prs {
			if pr.Head == nil || pr.Base == nil || pr.Head.Ref != head || pr.Base.Ref != base {
				continue
			}
			if merged {
				if pr.Merged == nil || !hasLabel(pr.Labels, c.pendingLabel) {
					continue
				}
				out := convertPR(pr)
				if pr.MergedCommitID != nil {
					out.SHA = *pr.MergedCommitID
				}
				out.Merged = true
				return out, nil
			}
			return convertPR(pr), nil
		}
	}
}

// CreatePR opens a new pull request.
func (c *Client) CreatePR(ctx context.Context, base, head, title, body string) (*models.PullRequest, error) {
	pr, _, err := c.gt.CreatePullRequest(c.owner, c.repo, gitea.CreatePullRequestOption{
		Head:  head,
		Base:  base,
		Title: title,
		Body:  body,
	})
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	return convertPR(pr), nil
}

// UpdatePR replaces the PR's title and body.
func (c *Client) UpdatePR(ctx context.Context, number int, title, body string) error {
	_, _, err := c.gt.EditPullRequest(c.owner, c.repo, int64(number), gitea.EditPullRequestOption{
		Title: title,
		Body:  body,
	})
	if err != nil {
		return fmt.Errorf("update PR #%d: %w", number, err)
	}
	return nil
}

// ReplacePRLabels replaces the PR's full label set, creating repo labels
// that do not exist yet.
func (c *Client) ReplacePRLabels(ctx context.Context, number int, labels []string) error {
	ids := make([]int64, 0, len(labels))
	for _, name := range labels {
		id, err := c.labelID(name)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	_, _, err := c.gt.ReplaceIssueLabels(c.owner, c.repo, int64(number), gitea.IssueLabelsOption{Labels: ids})
	if err != nil {
		return fmt.Errorf("replace labels on #%d: %w", number, err)
	}
	return nil
}

func (c *Client) labelID(name string) (int64, error) {
	labels, _, err := c.gt.ListRepoLabels(c.owner, c.repo, gitea.ListLabelsOptions{})
	if err != nil {
		return 0, fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels {
		if l.Name == name {
			return l.ID, nil
		}
	}
	created, _, err := c.gt.CreateLabel(c.owner, c.repo, gitea.CreateLabelOption{
		Name:  name,
		Color: "#1d76db",
	})
	if err != nil {
		return 0, fmt.Errorf("create label %q: %w", name, err)
	}
	return created.ID, nil
}

// TagCommit creates a tag at sha. A tag that already exists is not an error,
// so reruns get past packages a prior partial run already tagged.
func (c *Client) TagCommit(ctx context.Context, tag, sha string) error {
	_, _, err := c.gt.CreateTag(c.owner, c.repo, gitea.CreateTagOption{
		TagName: tag,
		Target:  sha,
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

// CreateRelease creates the Gitea release object for an existing tag. An
// existing release for the tag is not an error, matching TagCommit.
func (c *Client) CreateRelease(ctx context.Context, tag, sha, notes string) error {
	_, _, err := c.gt.CreateRelease(c.owner, c.repo, gitea.CreateReleaseOption{
		TagName: tag,
		Title:   tag,
		Note:    notes,
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

// FileContent returns the content of path on ref.
func (c *Client) FileContent(ctx context.Context, ref, path string) (string, bool, error) {
	raw, _, err := c.gt.GetFile(c.owner, c.repo, ref, path)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get file %s: %w", path, err)
	}
	return string(raw), true, nil
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

func convertPR(pr *gitea.PullRequest) *models.PullRequest {
	return &models.PullRequest{
		Number: int(pr.Index),
		SHA:    pr.Head.Sha,
		Title:  pr.Title,
		Body:   pr.Body,
		URL:    pr.HTMLURL,
	}
}

func hasLabel(labels []*gitea.Label, name string) bool {
	for _, l := range labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}

// Gitea answers 409 for a duplicate tag or release.
func isAlreadyExists(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "409") ||
		strings.Contains(err.Error(), "already exists"))
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// encode prepares content for the contents API, which takes base64; the SDK
// does not encode for us.
func encode(content string) string {
	return base64.StdEncoding.EncodeToString([]byte(content))
}
