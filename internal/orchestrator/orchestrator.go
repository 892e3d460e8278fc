// Package orchestrator sequences attribution, version resolution, manifest
// loading, pull-request grouping and post-merge tagging into a safe,
// idempotent, resumable multi-package release workflow.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shiplift/shiplift/internal/analyzer"
	"github.com/shiplift/shiplift/internal/attribution"
	"github.com/shiplift/shiplift/internal/changelog"
	"github.com/shiplift/shiplift/internal/config"
	"github.com/shiplift/shiplift/internal/errors"
	"github.com/shiplift/shiplift/internal/forge"
	"github.com/shiplift/shiplift/internal/manifest"
	"github.com/shiplift/shiplift/internal/models"
)

// Orchestrator owns all per-run state; the forge is the only durable store
// between runs.
type Orchestrator struct {
	client   forge.Client
	cfg      *config.Config
	renderer *changelog.Renderer
	attrib   *attribution.Attributor
	logger   *logrus.Entry
}

// New wires an orchestrator for one invocation.
func New(client forge.Client, cfg *config.Config, logger *logrus.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	renderer, err := changelog.NewRenderer(cfg.NotesTemplate)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "notes template")
	}
	entry := logger.WithFields(logrus.Fields{
		"repo": client.RepoName(),
		"run":  uuid.NewString()[:8],
	})
	return &Orchestrator{
		client:   client,
		cfg:      cfg,
		renderer: renderer,
		attrib:   attribution.New(client, entry),
		logger:   entry,
	}, nil
}

// baseBranch resolves the branch releases cut from.
func (o *Orchestrator) baseBranch(ctx context.Context) (string, error) {
	if o.cfg.BaseBranch != "" {
		return o.cfg.BaseBranch, nil
	}
	base, err := o.client.DefaultBranch(ctx)
	if err != nil {
		return "", errors.ForgeError(err, "resolve default branch")
	}
	return base, nil
}

// branchFor names the release branch a package belongs to: one shared branch
// per base branch, or one per package when separate PRs are configured.
func (o *Orchestrator) branchFor(base string, pkg *config.PackageConfig) string {
	if o.cfg.SeparatePullRequests {
		return fmt.Sprintf("%s-%s-%s", o.cfg.BranchPrefix, base, pkg.Name)
	}
	return fmt.Sprintf("%s-%s", o.cfg.BranchPrefix, base)
}

// attributionPackages maps the configured packages onto attribution inputs.
func (o *Orchestrator) attributionPackages() []attribution.Package {
	out := make([]attribution.Package, 0, len(o.cfg.Packages))
	for i := range o.cfg.Packages {
		p := &o.cfg.Packages[i]
		out = append(out, attribution.Package{
			Name:       p.Name,
			Path:       p.Path,
			ExtraPaths: p.ExtraPaths,
			TagPrefix:  p.EffectiveTagPrefix(),
		})
	}
	return out
}

// analyze runs the resolver over every prepared package.
func (o *Orchestrator) analyze(prepared map[string]models.PreparedPackage) (map[string]models.AnalyzedPackage, error) {
	out := make(map[string]models.AnalyzedPackage, len(prepared))
	for i := range o.cfg.Packages {
		pkg := &o.cfg.Packages[i]
		prep, ok := prepared[pkg.Name]
		if !ok {
			continue
		}

		resolverCfg, err := pkg.Resolver()
		if err != nil {
			return nil, err
		}
		resolverCfg.CompareLink = o.client.CompareURL

		rel, err := analyzer.New(resolverCfg, o.logger.WithField("package", pkg.Name)).
			Analyze(prep.Commits, prep.CurrentTag)
		if err != nil {
			return nil, err
		}
		if rel == nil {
			o.logger.WithField("package", pkg.Name).Info("no release warranted, skipping")
		}
		out[pkg.Name] = models.AnalyzedPackage{PreparedPackage: prep, Release: rel}
	}
	return out, nil
}

// loadManifests produces the releasable stage for every analyzed package
// that has a computed release.
func (o *Orchestrator) loadManifests(ctx context.Context, base string, analyzed map[string]models.AnalyzedPackage) (map[string]models.ReleasablePackage, error) {
	out := make(map[string]models.ReleasablePackage, len(analyzed))
	for i := range o.cfg.Packages {
		pkg := &o.cfg.Packages[i]
		ap, ok := analyzed[pkg.Name]
		if !ok || ap.Release == nil {
			continue
		}

		eco, err := manifest.ParseEcosystem(pkg.Ecosystem)
		if err != nil {
			return nil, errors.ConfigErrorf("package %q: %v", pkg.Name, err)
		}
		manifests := make(map[string]string)
		for _, p := range manifest.NewUpdater(eco).ManifestPaths(pkg.Path) {
			content, exists, err := o.client.FileContent(ctx, base, p)
			if err != nil {
				return nil, errors.ForgeErrorf(err, "load %s", p)
			}
			if exists {
				manifests[p] = content
			}
		}
		out[pkg.Name] = models.ReleasablePackage{AnalyzedPackage: ap, Manifests: manifests}
	}
	return out, nil
}

// sortedBranches returns group keys in a stable order so runs are
// reproducible even though package iteration order is unspecified.
func sortedBranches(groups map[string][]models.ReleasePRPackage) []string {
	out := make([]string, 0, len(groups))
	for b := range groups {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}
