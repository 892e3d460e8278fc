package main

import (
	"context"

	"github.com/shiplift/shiplift/internal/cache"
	"github.com/shiplift/shiplift/internal/config"
	"github.com/shiplift/shiplift/internal/forge"
	"github.com/shiplift/shiplift/internal/orchestrator"
)

// newOrchestrator wires the forge client (with its advisory commit cache)
// and repo-side config into an orchestrator for one invocation. The returned
// cleanup must be called when the command finishes.
func newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, func(), error) {
	noop := func() {}

	creds := config.NewCredentialStore(logger)
	if err := creds.ResolveToken(cfg); err != nil {
		return nil, noop, err
	}

	var commitCache *cache.Commits
	if cfg.CacheDir != "" {
		var err error
		commitCache, err = cache.OpenCommits(cfg.CacheDir, logger)
		if err != nil {
			// The cache is advisory; run without it.
			logger.WithError(err).Warn("commit cache unavailable")
			commitCache = nil
		}
	}
	cleanup := func() {
		if commitCache != nil {
			commitCache.Close()
		}
	}

	client, err := forge.NewClient(cfg, commitCache, logger)
	if err != nil {
		cleanup()
		return nil, noop, err
	}

	base := cfg.BaseBranch
	if base == "" {
		if base, err = client.DefaultBranch(ctx); err != nil {
			cleanup()
			return nil, noop, err
		}
	}
	repoSide, err := client.LoadConfig(ctx, base)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	if err := cfg.MergeRepoSide(repoSide); err != nil {
		cleanup()
		return nil, noop, err
	}
	if err := cfg.Validate(); err != nil {
		cleanup()
		return nil, noop, err
	}

	orch, err := orchestrator.New(client, cfg, logger)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	return orch, cleanup, nil
}
