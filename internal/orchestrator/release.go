package orchestrator

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/shiplift/shiplift/internal/config"
	"github.com/shiplift/shiplift/internal/errors"
)

// CreateReleases runs phase two: for every branch group with a merged,
// untagged release PR, tag the merge commit per package, create the forge
// release objects, mark the PR tagged, and chain the next cycle for packages
// configured for it. A branch without a merged PR is skipped, never an error.
func (o *Orchestrator) CreateReleases(ctx context.Context) error {
	base, err := o.baseBranch(ctx)
	if err != nil {
		return err
	}

	byBranch := make(map[string][]*config.PackageConfig)
	for i := range o.cfg.Packages {
		pkg := &o.cfg.Packages[i]
		branch := o.branchFor(base, pkg)
		byBranch[branch] = append(byBranch[branch], pkg)
	}

	branches := make([]string, 0, len(byBranch))
	for b := range byBranch {
		branches = append(branches, b)
	}
	sort.Strings(branches)

	var nextCycle []string
	for _, branch := range branches {
		queued, err := o.releaseBranch(ctx, base, branch, byBranch[branch])
		if err != nil {
			return err
		}
		nextCycle = append(nextCycle, queued...)
	}

	if len(nextCycle) > 0 {
		return o.StartNextRelease(ctx, nextCycle)
	}
	return nil
}

// releaseBranch finalizes every package recorded in one merged release PR,
// replacing its labels once all packages are tagged. Returns the packages
// queued for an automatic next cycle.
func (o *Orchestrator) releaseBranch(ctx context.Context, base, branch string, pkgs []*config.PackageConfig) ([]string, error) {
	merged, err := o.client.MergedReleasePR(ctx, base, branch)
	if err != nil {
		return nil, errors.ForgeErrorf(err, "look up merged PR for %q", branch)
	}
	if merged == nil {
		o.logger.WithField("branch", branch).Debug("no merged release PR, skipping")
		return nil, nil
	}

	var queued []string
	tagged := 0
	for _, pkg := range pkgs {
		// Bodies may contain several blocks when packages share a branch;
		// pick the one whose name matches.
		meta, ok := metadataFor(merged.Body, pkg.Name)
		if !ok {
			o.logger.WithFields(logrus.Fields{
				"package": pkg.Name,
				"pr":      merged.Number,
			}).Debug("package not recorded in merged PR, skipping")
			continue
		}

		if err := o.client.TagCommit(ctx, meta.Tag, merged.SHA); err != nil {
			return nil, errors.ForgeErrorf(err, "tag %q on %s", meta.Tag, merged.SHA)
		}
		if err := o.client.CreateRelease(ctx, meta.Tag, merged.SHA, meta.Notes); err != nil {
			return nil, errors.ForgeErrorf(err, "create release %q", meta.Tag)
		}
		tagged++
		o.logger.WithFields(logrus.Fields{
			"package": pkg.Name,
			"tag":     meta.Tag,
			"sha":     merged.SHA,
		}).Info("release created")

		if pkg.NextCycle {
			queued = append(queued, pkg.Name)
		}
	}

	if tagged > 0 {
		if err := o.client.ReplacePRLabels(ctx, merged.Number, []string{o.cfg.TaggedLabel}); err != nil {
			return nil, errors.ForgeErrorf(err, "label PR #%d", merged.Number)
		}
	}
	return queued, nil
}
