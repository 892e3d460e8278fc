package orchestrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shiplift/shiplift/internal/changelog"
	"github.com/shiplift/shiplift/internal/config"
	"github.com/shiplift/shiplift/internal/errors"
	"github.com/shiplift/shiplift/internal/manifest"
	"github.com/shiplift/shiplift/internal/models"
)

// CreateReleasePRs runs phase one: attribute commits, resolve versions, load
// manifests, group packages into release branches and open (or refresh) one
// pull request per branch group. Returns the PRs touched.
func (o *Orchestrator) CreateReleasePRs(ctx context.Context) ([]models.PullRequest, error) {
	base, err := o.baseBranch(ctx)
	if err != nil {
		return nil, err
	}

	groups, err := o.prepareGroups(ctx, base)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		o.logger.Info("no packages need a release")
		return nil, nil
	}

	// Invariant: no branch in any group may have a merged but untagged
	// release PR outstanding. Checked across every group before the first
	// write so a conflict aborts with zero side effects.
	for _, branch := range sortedBranches(groups) {
		merged, err := o.client.MergedReleasePR(ctx, base, branch)
		if err != nil {
			return nil, errors.ForgeErrorf(err, "check pending release on %q", branch)
		}
		if merged != nil {
			return nil, &errors.PendingReleaseError{Branch: branch, PRNumber: merged.Number}
		}
	}

	var prs []models.PullRequest
	for _, branch := range sortedBranches(groups) {
		pr, err := o.pushGroup(ctx, base, branch, groups[branch])
		if err != nil {
			return prs, err
		}
		prs = append(prs, *pr)
	}
	return prs, nil
}

// prepareGroups runs the attribution → resolution → manifest pipeline and
// groups the resulting release packages by target branch.
func (o *Orchestrator) prepareGroups(ctx context.Context, base string) (map[string][]models.ReleasePRPackage, error) {
	prepared, err := o.attrib.Prepare(ctx, base, o.attributionPackages())
	if err != nil {
		return nil, err
	}
	analyzed, err := o.analyze(prepared)
	if err != nil {
		return nil, err
	}
	releasable, err := o.loadManifests(ctx, base, analyzed)
	if err != nil {
		return nil, err
	}

	siblings := make([]manifest.Sibling, 0, len(releasable))
	for i := range o.cfg.Packages {
		pkg := &o.cfg.Packages[i]
		if rp, ok := releasable[pkg.Name]; ok {
			siblings = append(siblings, manifest.Sibling{
				Name:    pkg.Name,
				Version: rp.Release.Tag.Version.String(),
			})
		}
	}

	groups := make(map[string][]models.ReleasePRPackage)
	for i := range o.cfg.Packages {
		pkg := &o.cfg.Packages[i]
		rp, ok := releasable[pkg.Name]
		if !ok {
			continue
		}
		prPkg, err := o.buildPRPackage(ctx, base, pkg, rp, siblings)
		if err != nil {
			return nil, err
		}
		groups[prPkg.Branch] = append(groups[prPkg.Branch], *prPkg)
	}
	return groups, nil
}

// buildPRPackage reduces a releasable package to its pull-request shape:
// rendered notes, manifest rewrites and the changelog prepend.
func (o *Orchestrator) buildPRPackage(ctx context.Context, base string, pkg *config.PackageConfig, rp models.ReleasablePackage, siblings []manifest.Sibling) (*models.ReleasePRPackage, error) {
	rel := rp.Release

	notes, err := o.renderer.Render(rel)
	if err != nil {
		return nil, err
	}
	rel.Notes = notes

	eco, err := manifest.ParseEcosystem(pkg.Ecosystem)
	if err != nil {
		return nil, errors.ConfigErrorf("package %q: %v", pkg.Name, err)
	}
	others := make([]manifest.Sibling, 0, len(siblings))
	for _, s := range siblings {
		if s.Name != pkg.Name {
			others = append(others, s)
		}
	}
	changes, err := manifest.NewUpdater(eco).Update(manifest.Package{
		Name:      pkg.Name,
		Path:      pkg.Path,
		Version:   rel.Tag.Version.String(),
		Manifests: rp.Manifests,
	}, others)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "manifest update")
	}

	clPath := pkg.EffectiveChangelogPath()
	existing, _, err := o.client.FileContent(ctx, base, clPath)
	if err != nil {
		return nil, errors.ForgeErrorf(err, "load %s", clPath)
	}
	changes = append(changes, models.FileChange{
		Path:    clPath,
		Content: changelog.Prepend(existing, notes),
	})

	return &models.ReleasePRPackage{
		Name:    pkg.Name,
		Tag:     rel.Tag,
		Notes:   notes,
		Changes: changes,
		Branch:  o.branchFor(base, pkg),
	}, nil
}

// pushGroup creates or overwrites one release branch and its PR, then
// replaces the PR's labels with the pending label.
func (o *Orchestrator) pushGroup(ctx context.Context, base, branch string, group []models.ReleasePRPackage) (*models.PullRequest, error) {
	message := fmt.Sprintf("chore(%s): release", base)
	if len(group) == 1 {
		message = fmt.Sprintf("%s %s %s", message, group[0].Name, group[0].Tag.Name)
	}

	var changes []models.FileChange
	for _, pkg := range group {
		changes = append(changes, pkg.Changes...)
	}

	sha, err := o.client.CreateReleaseBranch(ctx, base, branch, message, changes)
	if err != nil {
		return nil, errors.ForgeErrorf(err, "create release branch %q", branch)
	}
	o.logger.WithFields(logrus.Fields{
		"branch":   branch,
		"sha":      sha,
		"packages": len(group),
	}).Info("release branch created")

	body, err := buildPRBody(group)
	if err != nil {
		return nil, err
	}

	pr, err := o.client.OpenReleasePR(ctx, base, branch)
	if err != nil {
		return nil, errors.ForgeErrorf(err, "look up open PR for %q", branch)
	}
	if pr != nil {
		if err := o.client.UpdatePR(ctx, pr.Number, message, body); err != nil {
			return nil, errors.ForgeErrorf(err, "update PR #%d", pr.Number)
		}
		pr.Title, pr.Body = message, body
		o.logger.WithField("pr", pr.Number).Info("release PR updated")
	} else {
		pr, err = o.client.CreatePR(ctx, base, branch, message, body)
		if err != nil {
			return nil, errors.ForgeErrorf(err, "create PR for %q", branch)
		}
		o.logger.WithField("pr", pr.Number).Info("release PR created")
	}

	// Full replace, not an additive merge.
	if err := o.client.ReplacePRLabels(ctx, pr.Number, []string{o.cfg.PendingLabel}); err != nil {
		return nil, errors.ForgeErrorf(err, "label PR #%d", pr.Number)
	}
	return pr, nil
}

// PlanEntry is one row of a dry run: what phase one would do for a package.
type PlanEntry struct {
	Package    string
	CurrentTag string
	NextTag    string
	Commits    int
	Branch     string
}

// Plan computes phase one without performing any writes.
func (o *Orchestrator) Plan(ctx context.Context) ([]PlanEntry, error) {
	base, err := o.baseBranch(ctx)
	if err != nil {
		return nil, err
	}
	prepared, err := o.attrib.Prepare(ctx, base, o.attributionPackages())
	if err != nil {
		return nil, err
	}
	analyzed, err := o.analyze(prepared)
	if err != nil {
		return nil, err
	}

	var out []PlanEntry
	for i := range o.cfg.Packages {
		pkg := &o.cfg.Packages[i]
		ap, ok := analyzed[pkg.Name]
		if !ok {
			continue
		}
		entry := PlanEntry{Package: pkg.Name, Branch: o.branchFor(base, pkg)}
		if ap.CurrentTag != nil {
			entry.CurrentTag = ap.CurrentTag.Name
		}
		if ap.Release != nil {
			entry.NextTag = ap.Release.Tag.Name
			entry.Commits = len(ap.Release.Commits)
		}
		out = append(out, entry)
	}
	return out, nil
}
