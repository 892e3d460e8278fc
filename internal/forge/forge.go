// Package forge defines the capability interface every git host must
// provide. The orchestrator never branches on the forge type; each host gets
// its own adapter in a subpackage.
package forge

import (
	"context"
	"time"

	"github.com/shiplift/shiplift/internal/models"
)

// Client is the narrow surface the release engine consumes from a git host.
// All writes are either idempotent or guarded by the pending-release
// invariant, so at-least-once delivery is acceptable.
type Client interface {
	// RepoName returns the repository identifier, e.g. "owner/repo".
	RepoName() string

	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context) (string, error)

	// LatestTag returns the highest semantic-version tag carrying the given
	// prefix, or nil when no such tag exists.
	LatestTag(ctx context.Context, prefix string) (*models.Tag, error)

	// Commits lists commits on base, newest first, including touched file
	// paths. A nil since means unbounded history.
	Commits(ctx context.Context, base string, since *time.Time) ([]models.Commit, error)

	// CreateReleaseBranch creates or overwrites branch off base with a single
	// commit applying changes, returning the commit SHA.
	CreateReleaseBranch(ctx context.Context, base, branch, message string, changes []models.FileChange) (string, error)

	// CommitToBranch commits changes directly onto branch, returning the SHA.
	CommitToBranch(ctx context.Context, branch, message string, changes []models.FileChange) (string, error)

	// OpenReleasePR returns the open release PR for the head/base pair, or
	// nil when none exists.
	OpenReleasePR(ctx context.Context, base, head string) (*models.PullRequest, error)

	// MergedReleasePR returns the most recent merged release PR for the
	// head/base pair that has not yet been marked tagged, or nil.
	MergedReleasePR(ctx context.Context, base, head string) (*models.PullRequest, error)

	CreatePR(ctx context.Context, base, head, title, body string) (*models.PullRequest, error)
	UpdatePR(ctx context.Context, number int, title, body string) error

	// ReplacePRLabels replaces the PR's full label set; this is not additive.
	ReplacePRLabels(ctx context.Context, number int, labels []string) error

	// TagCommit creates a lightweight tag pointing at sha. A tag that
	// already exists is not an error: reruns after a partial failure must
	// get past packages a prior run already tagged.
	TagCommit(ctx context.Context, tag, sha string) error

	// CreateRelease creates the forge-native release object for tag. An
	// existing release for the tag is not an error, matching TagCommit.
	CreateRelease(ctx context.Context, tag, sha, notes string) error

	// FileContent returns the content of path on branch; the boolean is
	// false when the file does not exist.
	FileContent(ctx context.Context, branch, path string) (string, bool, error)

	// LoadConfig fetches the repo-side configuration file from branch, or
	// nil when the repository carries none.
	LoadConfig(ctx context.Context, branch string) ([]byte, error)

	// CompareURL renders a human-facing comparison link between two tags.
	CompareURL(oldTag, newTag string) string
}
