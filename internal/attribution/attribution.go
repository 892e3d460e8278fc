// Package attribution partitions a repository-wide commit stream across
// packages, using path ownership and each package's last release timestamp
// as a cutoff.
package attribution

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiplift/shiplift/internal/errors"
	"github.com/shiplift/shiplift/internal/forge"
	"github.com/shiplift/shiplift/internal/models"
)

// Package describes one package's ownership surface for attribution.
type Package struct {
	Name       string
	Path       string
	ExtraPaths []string
	TagPrefix  string
}

// Attributor assigns repository commits to packages while minimizing
// redundant history fetches.
type Attributor struct {
	client forge.Client
	logger *logrus.Entry
}

// New creates an attributor.
func New(client forge.Client, logger *logrus.Entry) *Attributor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Attributor{client: client, logger: logger}
}

// Prepare fetches history on base and attributes it per package, producing
// the first pipeline stage for every package.
func (a *Attributor) Prepare(ctx context.Context, base string, pkgs []Package) (map[string]models.PreparedPackage, error) {
	tags := make(map[string]*models.Tag, len(pkgs))
	sharedSafe := true
	var oldest *time.Time

	for _, p := range pkgs {
		tag, err := a.client.LatestTag(ctx, p.TagPrefix)
		if err != nil {
			return nil, errors.ForgeErrorf(err, "latest tag for %q", p.Name)
		}
		tags[p.Name] = tag
		if tag == nil || tag.Timestamp == nil {
			// This package's relevant window is unbounded; one shared fetch
			// from the oldest tag would miss its history.
			sharedSafe = false
			continue
		}
		if oldest == nil || tag.Timestamp.Before(*oldest) {
			oldest = tag.Timestamp
		}
	}

	var pool []models.Commit
	var err error
	if sharedSafe {
		a.logger.WithField("since", oldest).Debug("shared history fetch")
		pool, err = a.fetch(ctx, base, oldest)
	} else {
		a.logger.Debug("per-package history fetch")
		pool, err = a.fetchPerPackage(ctx, base, pkgs, tags)
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.PreparedPackage, len(pkgs))
	for _, p := range pkgs {
		tag := tags[p.Name]
		attributed := attribute(pool, p, tag)
		a.logger.WithFields(logrus.Fields{
			"package": p.Name,
			"commits": len(attributed),
		}).Debug("attributed commits")
		out[p.Name] = models.PreparedPackage{
			Name:       p.Name,
			Commits:    attributed,
			CurrentTag: tag,
		}
	}
	return out, nil
}

// fetch returns base history since the given time. Listings are always
// fetched fresh: new commits can land between runs, so only immutable
// per-commit detail is cached, and that lives in the forge adapters.
func (a *Attributor) fetch(ctx context.Context, base string, since *time.Time) ([]models.Commit, error) {
	list, err := a.client.Commits(ctx, base, since)
	if err != nil {
		return nil, errors.ForgeErrorf(err, "list commits on %q", base)
	}
	return list, nil
}

// fetchPerPackage fetches each package's window separately and de-duplicates
// by commit identity before attribution.
func (a *Attributor) fetchPerPackage(ctx context.Context, base string, pkgs []Package, tags map[string]*models.Tag) ([]models.Commit, error) {
	seen := make(map[string]bool)
	var pool []models.Commit
	fetchedUnbounded := false

	for _, p := range pkgs {
		var since *time.Time
		if tag := tags[p.Name]; tag != nil && tag.Timestamp != nil {
			since = tag.Timestamp
		}
		if since == nil {
			if fetchedUnbounded {
				continue
			}
			fetchedUnbounded = true
		}
		list, err := a.fetch(ctx, base, since)
		if err != nil {
			return nil, err
		}
		for _, c := range list {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			pool = append(pool, c)
		}
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].Timestamp.After(pool[j].Timestamp) })
	return pool, nil
}

// attribute filters the pool down to one package: timestamp not earlier than
// the current tag's commit, and at least one touched path owned.
func attribute(pool []models.Commit, p Package, tag *models.Tag) []models.Commit {
	var out []models.Commit
	for _, c := range pool {
		if tag != nil && tag.Timestamp != nil && c.Timestamp.Before(*tag.Timestamp) {
			continue
		}
		if !touchesPackage(c, p) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func touchesPackage(c models.Commit, p Package) bool {
	roots := make([]string, 0, 1+len(p.ExtraPaths))
	roots = append(roots, normalize(p.Path))
	for _, extra := range p.ExtraPaths {
		roots = append(roots, normalize(extra))
	}
	for _, f := range c.Files {
		file := normalize(f)
		for _, root := range roots {
			if underRoot(file, root) {
				return true
			}
		}
	}
	return false
}

func normalize(p string) string {
	p = path.Clean(strings.TrimPrefix(p, "./"))
	if p == "" {
		return "."
	}
	return p
}

func underRoot(file, root string) bool {
	if root == "." {
		return true
	}
	return file == root || strings.HasPrefix(file, root+"/")
}
