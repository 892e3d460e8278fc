// Package gitlab adapts the GitLab API to the forge capability interface.
// Merge requests play the pull-request role; numbers are MR IIDs.
package gitlab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/shiplift/shiplift/internal/cache"
	"github.com/shiplift/shiplift/internal/config"
	"github.com/shiplift/shiplift/internal/models"
)

// Options configures the adapter.
type Options struct {
	Owner        string
	Repo         string
	Token        string
	BaseURL      string // self-hosted instances
	PendingLabel string
	Cache        *cache.Commits // optional, holds immutable per-commit detail
}

// Client wraps the GitLab API client behind the forge interface.
type Client struct {
	gl           *gitlab.Client
	pid          string
	host         string
	pendingLabel string
	cache        *cache.Commits
	logger       *logrus.Entry
}

// New creates a GitLab forge client.
func New(opts Options, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	host := "https://gitlab.com"
	var clientOpts []gitlab.ClientOptionFunc
	if opts.BaseURL != "" {
		host = strings.TrimRight(opts.BaseURL, "/")
		clientOpts = append(clientOpts, gitlab.WithBaseURL(opts.BaseURL))
	}
	gl, err := gitlab.NewClient(opts.Token, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gitlab client: %w", err)
	}
	return &Client{
		gl:           gl,
		pid:          opts.Owner + "/" + opts.Repo,
		host:         host,
		pendingLabel: opts.PendingLabel,
		cache:        opts.Cache,
		logger:       logger.WithField("forge", "gitlab"),
	}, nil
}

// RepoName returns "owner/repo".
func (c *Client) RepoName() string { return c.pid }

// DefaultBranch returns the project's default branch.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	project, _, err := c.gl.Projects.GetProject(c.pid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch project: %w", err)
	}
	return project.DefaultBranch, nil
}

// LatestTag returns the highest semantic version tag with the given prefix.
func (c *Client) LatestTag(ctx context.Context, prefix string) (*models.Tag, error) {
	opts := &gitlab.ListTagsOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
	var best *models.Tag

	for {
		tags, resp, err := c.gl.Tags.ListTags(c.pid, opts, gitlab.WithContext(ctx))
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
				best = &models.Tag{SHA: t.Commit.ID, Name: t.Name, Version: v, Timestamp: t.Commit.CommittedDate}
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return best, nil
}

// Commits lists commits on base since the given time, with touched paths
// completed from per-commit diffs.
func (c *Client) Commits(ctx context.Context, base string, since *time.Time) ([]models.Commit, error) {
	opts := &gitlab.ListCommitsOptions{
		RefName:     gitlab.Ptr(base),
		Since:       since,
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}

	var out []models.Commit
	for {
		list, resp, err := c.gl.Commits.ListCommits(c.pid, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list commits: %w", err)
		}
		for _, rc := range list {
			files, err := c.commitFiles(ctx, rc.ID)
			if err != nil {
				return nil, err
			}
			ts := time.Time{}
			if rc.CommittedDate != nil {
				ts = *rc.CommittedDate
			}
			out = append(out, models.Commit{
				ID:          rc.ID,
				ShortID:     rc.ShortID,
				Message:     rc.Message,
				Timestamp:   ts,
				Author:      rc.AuthorName,
				AuthorEmail: rc.AuthorEmail,
				Files:       files,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// commitFiles resolves a commit's touched paths, cached by SHA since a
// commit's diff never changes.
func (c *Client) commitFiles(ctx context.Context, sha string) ([]string, error) {
	if c.cache != nil {
		if files, ok := c.cache.Files(c.pid, sha); ok {
			return files, nil
		}
	}
	diffs, _, err := c.gl.Commits.GetCommitDiff(c.pid, sha, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("commit diff %s: %w", sha, err)
	}
	var files []string
	for _, d := range diffs {
		files = append(files, d.NewPath)
		if d.OldPath != d.NewPath {
			files = append(files, d.OldPath)
		}
	}
	if c.cache != nil {
		if err := c.cache.StoreFiles(c.pid, sha, files); err != nil {
			c.logger.WithError(err).Warn("commit cache write failed")
		}
	}
	return files, nil
}

// CreateReleaseBranch recreates branch off base and commits all changes as
// one commit via the commit-actions API.
func (c *Client) CreateReleaseBranch(ctx context.Context, base, branch, message string, changes []models.FileChange) (string, error) {
	// Releases branches are always overwritten; a stale branch is dropped.
	_, err := c.gl.Branches.DeleteBranch(c.pid, branch, gitlab.WithContext(ctx))
	if err != nil && !isNotFound(err) {
		return "", fmt.Errorf("delete branch %s: %w", branch, err)
	}

	actions, err := c.actions(ctx, base, changes)
	if err != nil {
		return "", err
	}
	commit, _, err := c.gl.Commits.CreateCommit(c.pid, &gitlab.CreateCommitOptions{
		Branch:        gitlab.Ptr(branch),
		StartBranch:   gitlab.Ptr(base),
		CommitMessage: gitlab.Ptr(message),
		Actions:       actions,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create commit on %s: %w", branch, err)
	}
	return commit.ID, nil
}

// CommitToBranch commits changes directly onto branch.
func (c *Client) CommitToBranch(ctx context.Context, branch, message string, changes []models.FileChange) (string, error) {
	actions, err := c.actions(ctx, branch, changes)
	if err != nil {
		return "", err
	}
	commit, _, err := c.gl.Commits.CreateCommit(c.pid, &gitlab.CreateCommitOptions{
		Branch:        gitlab.Ptr(branch),
		CommitMessage: gitlab.Ptr(message),
		Actions:       actions,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create commit on %s: %w", branch, err)
	}
	return commit.ID, nil
}

// actions maps file changes onto create-or-update commit actions; GitLab
// rejects a create for an existing path and vice versa.
func (c *Client) actions(ctx context.Context, ref string, changes []models.FileChange) ([]*gitlab.CommitActionOptions, error) {
	out := make([]*gitlab.CommitActionOptions, 0, len(changes))
	for _, ch := range changes {
		action := gitlab.FileCreate
		if _, ok, err := c.FileContent(ctx, ref, ch.Path); err != nil {
			return nil, err
		} else if ok {
			action = gitlab.FileUpdate
		}
		out = append(out, &gitlab.CommitActionOptions{
			Action:   gitlab.Ptr(action),
			FilePath: gitlab.Ptr(ch.Path),
			Content:  gitlab.Ptr(ch.Content),
		})
	}
	return out, nil
}

// OpenReleasePR returns the open MR for the head/base pair, or nil.
func (c *Client) OpenReleasePR(ctx context.Context, base, head string) (*models.PullRequest, error) {
	mrs, _, err := c.gl.MergeRequests.ListProjectMergeRequests(c.pid, &gitlab.ListProjectMergeRequestsOptions{
		State:        gitlab.Ptr("opened"),
		SourceBranch: gitlab.Ptr(head),
		TargetBranch: gitlab.Ptr(base),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list open MRs: %w", err)
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	return convertMR(mrs[0]), nil
}

// MergedReleasePR returns the most recent merged MR still carrying the
// pending label, or nil.
func (c *Client) MergedReleasePR(ctx context.Context, base, head string) (*models.PullRequest, error) {
	labels := gitlab.LabelOptions{c.pendingLabel}
	mrs, _, err := c.gl.MergeRequests.ListProjectMergeRequests(c.pid, &gitlab.ListProjectMergeRequestsOptions{
		State:        gitlab.Ptr("merged"),
		SourceBranch: gitlab.Ptr(head),
		TargetBranch: gitlab.Ptr(base),
		Labels:       &labels,
		OrderBy:      gitlab.Ptr("updated_at"),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list merged MRs: %w", err)
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	out := convertMR(mrs[0])
	out.SHA = mrs[0].MergeCommitSHA
	out.Merged = true
	return out, nil
}

// CreatePR opens a new merge request.
func (c *Client) CreatePR(ctx context.Context, base, head, title, body string) (*models.PullRequest, error) {
	mr, _, err := c.gl.MergeRequests.CreateMergeRequest(c.pid, &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(title),
		Description:  gitlab.Ptr(body),
		SourceBranch: gitlab.Ptr(head),
		TargetBranch: gitlab.Ptr(base),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create MR: %w", err)
	}
	return convertMR(mr), nil
}

// UpdatePR replaces the MR's title and description.
func (c *Client) UpdatePR(ctx context.Context, number int, title, body string) error {
	_, _, err := c.gl.MergeRequests.UpdateMergeRequest(c.pid, number, &gitlab.UpdateMergeRequestOptions{
		Title:       gitlab.Ptr(title),
		Description: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("update MR !%d: %w", number, err)
	}
	return nil
}

// ReplacePRLabels replaces the MR's full label set.
func (c *Client) ReplacePRLabels(ctx context.Context, number int, labels []string) error {
	set := gitlab.LabelOptions(labels)
	_, _, err := c.gl.MergeRequests.UpdateMergeRequest(c.pid, number, &gitlab.UpdateMergeRequestOptions{
		Labels: &set,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("replace labels on !%d: %w", number, err)
	}
	return nil
}

// TagCommit creates a tag at sha. A tag that already exists is not an error,
// so reruns get past packages a prior partial run already tagged.
func (c *Client) TagCommit(ctx context.Context, tag, sha string) error {
	_, _, err := c.gl.Tags.CreateTag(c.pid, &gitlab.CreateTagOptions{
		TagName: gitlab.Ptr(tag),
		Ref:     gitlab.Ptr(sha),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if isAlreadyExists(err) {
			c.logger.WithField("tag", tag).Debug("tag already exists")
			return nil
		}
		return fmt.Errorf("create tag %s: %w", tag, err)
	}
	return nil
}

// CreateRelease creates the GitLab release object for an existing tag. An
// existing release for the tag is not an error, matching TagCommit.
func (c *Client) CreateRelease(ctx context.Context, tag, sha, notes string) error {
	_, _, err := c.gl.Releases.CreateRelease(c.pid, &gitlab.CreateReleaseOptions{
		Name:        gitlab.Ptr(tag),
		TagName:     gitlab.Ptr(tag),
		Description: gitlab.Ptr(notes),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if isAlreadyExists(err) {
			c.logger.WithField("tag", tag).Debug("release already exists")
			return nil
		}
		return fmt.Errorf("create release %s: %w", tag, err)
	}
	return nil
}

// FileContent returns the decoded content of path on ref.
func (c *Client) FileContent(ctx context.Context, ref, path string) (string, bool, error) {
	file, _, err := c.gl.RepositoryFiles.GetRawFile(c.pid, path, &gitlab.GetRawFileOptions{
		Ref: gitlab.Ptr(ref),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get file %s: %w", path, err)
	}
	return string(file), true, nil
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
	return fmt.Sprintf("%s/%s/-/compare/%s...%s", c.host, c.pid, oldTag, newTag)
}

func convertMR(mr *gitlab.MergeRequest) *models.PullRequest {
	return &models.PullRequest{
		Number: mr.IID,
		SHA:    mr.SHA,
		Title:  mr.Title,
		Body:   mr.Description,
		URL:    mr.WebURL,
	}
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}

// GitLab answers 400 "already exists" for a duplicate tag and 409 for a
// duplicate release.
func isAlreadyExists(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "already exists") ||
		strings.Contains(err.Error(), "409"))
}
