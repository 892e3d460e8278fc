// Package cache provides an advisory on-disk cache of immutable per-commit
// detail. Branch history listings are never served from cache: a listing can
// grow at any moment, but a commit's touched-file list cannot change once the
// commit exists, so only that is stored. The forge stays authoritative.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Commits is a bbolt-backed cache of per-commit detail keyed by repo and SHA.
type Commits struct {
	db     *bolt.DB
	logger *logrus.Entry
}

// OpenCommits opens (or creates) the commit cache under dir.
func OpenCommits(dir string, logger *logrus.Logger) (*Commits, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	db, err := bolt.Open(filepath.Join(dir, "commits.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open commit cache: %w", err)
	}
	return &Commits{db: db, logger: logger.WithField("component", "cache")}, nil
}

// Close closes the underlying database.
func (c *Commits) Close() error {
	return c.db.Close()
}

// Files returns the cached touched-file list for a commit, and whether the
// commit has been cached at all. A miss is never an error.
func (c *Commits) Files(repo, sha string) ([]string, bool) {
	var out []string
	found := false

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(repo))
		if b == nil {
			return nil
		}
		v := b.Get(fileKey(sha))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &out); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		c.logger.WithError(err).Warn("commit cache read failed")
		return nil, false
	}
	return out, found
}

// StoreFiles records a commit's touched-file list. An empty list is a valid
// entry: a commit with no diff still counts as cached.
func (c *Commits) StoreFiles(repo, sha string, files []string) error {
	if files == nil {
		files = []string{}
	}
	data, err := json.Marshal(files)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(repo))
		if err != nil {
			return err
		}
		return b.Put(fileKey(sha), data)
	})
}

func fileKey(sha string) []byte {
	return []byte("f:" + sha)
}
