package orchestrator

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/shiplift/shiplift/internal/analyzer"
	"github.com/shiplift/shiplift/internal/errors"
	"github.com/shiplift/shiplift/internal/manifest"
	"github.com/shiplift/shiplift/internal/models"
)

// sentinelFile is the file the fabricated next-cycle commit touches inside
// the package path.
const sentinelFile = ".shiplift-next"

// StartNextRelease runs phase three for the named packages: bump each one a
// patch ahead of its latest tag and commit the manifest changes directly to
// the base branch, no PR. Untagged packages are skipped with a warning.
func (o *Orchestrator) StartNextRelease(ctx context.Context, names []string) error {
	base, err := o.baseBranch(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		pkg := o.cfg.Package(name)
		if pkg == nil {
			return errors.ConfigErrorf("unknown package %q", name)
		}

		tag, err := o.client.LatestTag(ctx, pkg.EffectiveTagPrefix())
		if err != nil {
			return errors.ForgeErrorf(err, "latest tag for %q", name)
		}
		if tag == nil {
			o.logger.WithField("package", name).Warn("package has no tag yet, skipping next-cycle start")
			continue
		}

		resolverCfg, err := pkg.Resolver()
		if err != nil {
			return err
		}
		rel, err := o.nextCycleRelease(resolverCfg, pkg.Path, tag)
		if err != nil {
			return err
		}

		changes, err := o.nextCycleChanges(ctx, base, pkg.Name, pkg.Path, pkg.Ecosystem, rel)
		if err != nil {
			return err
		}

		message := fmt.Sprintf("chore(%s): bump patch version %s - %s", base, name, rel.Tag.Name)
		sha, err := o.client.CommitToBranch(ctx, base, message, changes)
		if err != nil {
			return errors.ForgeErrorf(err, "commit next-cycle bump for %q", name)
		}
		o.logger.WithField("package", name).WithField("tag", rel.Tag.Name).
			WithField("sha", sha).Info("next release cycle started")
	}
	return nil
}

// nextCycleRelease runs a single fabricated fix commit through the normal
// resolver, forcing a patch bump off the current tag.
func (o *Orchestrator) nextCycleRelease(cfg analyzer.Config, pkgPath string, tag *models.Tag) (*models.Release, error) {
	fabricated := models.Commit{
		Message:   "fix: start next release cycle",
		Timestamp: time.Now(),
		Files:     []string{path.Join(pkgPath, sentinelFile)},
	}
	rel, err := analyzer.New(cfg, o.logger).Analyze([]models.Commit{fabricated}, tag)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, errors.InternalErrorf("resolver declined the fabricated next-cycle commit")
	}
	return rel, nil
}

// nextCycleChanges computes the manifest rewrites for the bumped version plus
// the sentinel file. The commit is never added to a changelog.
func (o *Orchestrator) nextCycleChanges(ctx context.Context, base, name, pkgPath, ecosystem string, rel *models.Release) ([]models.FileChange, error) {
	eco, err := manifest.ParseEcosystem(ecosystem)
	if err != nil {
		return nil, errors.ConfigErrorf("package %q: %v", name, err)
	}
	updater := manifest.NewUpdater(eco)

	manifests := make(map[string]string)
	for _, p := range updater.ManifestPaths(pkgPath) {
		content, exists, err := o.client.FileContent(ctx, base, p)
		if err != nil {
			return nil, errors.ForgeErrorf(err, "load %s", p)
		}
		if exists {
			manifests[p] = content
		}
	}

	changes, err := updater.Update(manifest.Package{
		Name:      name,
		Path:      pkgPath,
		Version:   rel.Tag.Version.String(),
		Manifests: manifests,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "manifest update")
	}

	changes = append(changes, models.FileChange{
		Path:    path.Join(pkgPath, sentinelFile),
		Content: rel.Tag.Name + "\n",
	})
	return changes, nil
}
