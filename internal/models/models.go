package models

import (
	"time"

	"github.com/Masterminds/semver/v3"
)

// Commit is a single commit as reported by the forge. Values are never
// mutated after the forge adapter builds them.
type Commit struct {
	ID          string    `json:"id"`
	ShortID     string    `json:"short_id"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"author_email"`
	Files       []string  `json:"files"`
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

// Tag is either an existing release point or a freshly computed next version.
type Tag struct {
	SHA       string          `json:"sha"`
	Name      string          `json:"name"`
	Version   *semver.Version `json:"version"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// CommitGroup classifies a commit for changelog grouping and bump weight.
type CommitGroup string

const (
	GroupBreaking      CommitGroup = "breaking"
	GroupFeature       CommitGroup = "feature"
	GroupFix           CommitGroup = "fix"
	GroupPerformance   CommitGroup = "performance"
	GroupRefactor      CommitGroup = "refactor"
	GroupDocs          CommitGroup = "docs"
	GroupCI            CommitGroup = "ci"
	GroupChore         CommitGroup = "chore"
	GroupTest          CommitGroup = "test"
	GroupMiscellaneous CommitGroup = "miscellaneous"
)

// ClassifiedCommit pairs a commit with its resolved group and bump signals.
type ClassifiedCommit struct {
	Commit
	Group      CommitGroup `json:"group"`
	Breaking   bool        `json:"breaking"`
	ForceMajor bool        `json:"force_major"`
	ForceMinor bool        `json:"force_minor"`
	Scope      string      `json:"scope,omitempty"`
	Title      string      `json:"title"`
}

// Release is the resolver's output for one package. Immutable once the
// orchestrator has filled in the rendered notes.
type Release struct {
	Tag           Tag                `json:"tag"`
	Commits       []ClassifiedCommit `json:"commits"`
	Notes         string             `json:"notes"`
	CompareURL    string             `json:"compare_url,omitempty"`
	IncludeAuthor bool               `json:"include_author"`
}

// FileChange is one file create-or-update applied in a branch commit.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PullRequest is the subset of forge PR state the orchestrator reads.
type PullRequest struct {
	Number int    `json:"number"`
	SHA    string `json:"sha"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	Merged bool   `json:"merged"`
}

// PreparedPackage is the first pipeline stage: attributed commits plus the
// package's current tag, before any version decision.
type PreparedPackage struct {
	Name       string
	Commits    []Commit
	CurrentTag *Tag
}

// AnalyzedPackage is the second stage: a prepared package plus the resolver's
// decision. Release is nil when no release is warranted.
type AnalyzedPackage struct {
	PreparedPackage
	Release *Release
}

// ReleasablePackage is the third stage: an analyzed package whose manifest
// contents have been loaded from the forge.
type ReleasablePackage struct {
	AnalyzedPackage
	Manifests map[string]string
}

// ReleasePRPackage reduces a releasable package to what one pull request
// needs: the computed tag, rendered notes, concrete file changes and the
// release branch it belongs to.
type ReleasePRPackage struct {
	Name    string
	Tag     Tag
	Notes   string
	Changes []FileChange
	Branch  string
}

// PRMetadata is the JSON record embedded in pull-request bodies. It is the
// only state the orchestrator persists outside the forge's native objects,
// so unknown fields must survive a round trip unnoticed.
type PRMetadata struct {
	Name  string `json:"name"`
	Tag   string `json:"tag"`
	Notes string `json:"notes"`
}
