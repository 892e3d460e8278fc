package forge

import (
	"github.com/sirupsen/logrus"

	"github.com/shiplift/shiplift/internal/cache"
	"github.com/shiplift/shiplift/internal/config"
	"github.com/shiplift/shiplift/internal/errors"
	"github.com/shiplift/shiplift/internal/forge/gitea"
	"github.com/shiplift/shiplift/internal/forge/github"
	"github.com/shiplift/shiplift/internal/forge/gitlab"
)

// Adapters must satisfy the capability interface.
var (
	_ Client = (*github.Client)(nil)
	_ Client = (*gitlab.Client)(nil)
	_ Client = (*gitea.Client)(nil)
)

// NewClient builds the adapter for the configured forge. This is the only
// place the forge type is branched on. The commit cache may be nil; gitea
// returns file lists in its listing API, so only github and gitlab use it.
func NewClient(cfg *config.Config, commitCache *cache.Commits, logger *logrus.Logger) (Client, error) {
	f := cfg.Forge
	switch f.Type {
	case "github":
		return github.New(github.Options{
			Owner:        f.Owner,
			Repo:         f.Repo,
			Token:        f.Token,
			BaseURL:      f.BaseURL,
			RateLimit:    f.RateLimit,
			PendingLabel: cfg.PendingLabel,
			Cache:        commitCache,
		}, logger)
	case "gitlab":
		return gitlab.New(gitlab.Options{
			Owner:        f.Owner,
			Repo:         f.Repo,
			Token:        f.Token,
			BaseURL:      f.BaseURL,
			PendingLabel: cfg.PendingLabel,
			Cache:        commitCache,
		}, logger)
	case "gitea":
		return gitea.New(gitea.Options{
			Owner:        f.Owner,
			Repo:         f.Repo,
			Token:        f.Token,
			BaseURL:      f.BaseURL,
			PendingLabel: cfg.PendingLabel,
		}, logger)
	default:
		return nil, errors.ConfigErrorf("unknown forge type %q", f.Type)
	}
}
