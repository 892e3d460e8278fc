package config

import (
	stderrors "errors"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/shiplift/shiplift/internal/analyzer"
	apperrors "github.com/shiplift/shiplift/internal/errors"
)

// RepoConfigPath is the repo-side configuration file fetched from the forge
// default branch and merged under the local configuration.
const RepoConfigPath = ".shiplift.yaml"

// DefaultReleaseCommitPattern recognizes the release commits this tool
// generates itself so they are excluded from re-analysis.
const DefaultReleaseCommitPattern = `^chore(\([^)]*\))?: (release|bump patch version)`

// Config holds all configuration settings for one invocation. It is
// read-only for the duration of a run and shared by reference.
type Config struct {
	Forge ForgeConfig `mapstructure:"forge" yaml:"forge"`

	// BaseBranch is the branch releases cut from; empty means the forge's
	// default branch.
	BaseBranch string `mapstructure:"base_branch" yaml:"base_branch"`

	// BranchPrefix names release branches: {prefix}-{base} for shared
	// branches, {prefix}-{base}-{package} when separate PRs are configured.
	BranchPrefix string `mapstructure:"branch_prefix" yaml:"branch_prefix"`

	// NotesTemplate overrides the built-in release notes template.
	NotesTemplate string `mapstructure:"notes_template" yaml:"notes_template"`

	PendingLabel string `mapstructure:"pending_label" yaml:"pending_label"`
	TaggedLabel  string `mapstructure:"tagged_label" yaml:"tagged_label"`

	SeparatePullRequests bool `mapstructure:"separate_pull_requests" yaml:"separate_pull_requests"`

	// CacheDir holds the bbolt commit cache; empty disables caching.
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`

	Packages []PackageConfig `mapstructure:"packages" yaml:"packages"`
}

// ForgeConfig selects and authenticates the git host.
type ForgeConfig struct {
	Type      string `mapstructure:"type" yaml:"type"` // "github", "gitlab", "gitea"
	Token     string `mapstructure:"token" yaml:"token"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"` // self-hosted instances
	Owner     string `mapstructure:"owner" yaml:"owner"`
	Repo      string `mapstructure:"repo" yaml:"repo"`
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
}

// PrereleaseConfig configures the per-package prerelease policy.
type PrereleaseConfig struct {
	Suffix   string `mapstructure:"suffix" yaml:"suffix"`
	Strategy string `mapstructure:"strategy" yaml:"strategy"` // "versioned" (default) or "static"
}

// PackageConfig is the per-package policy bundle.
type PackageConfig struct {
	Name          string   `mapstructure:"name" yaml:"name"`
	Path          string   `mapstructure:"path" yaml:"path"`
	ExtraPaths    []string `mapstructure:"extra_paths" yaml:"extra_paths"`
	Ecosystem     string   `mapstructure:"ecosystem" yaml:"ecosystem"` // "gomod", "npm", "cargo"
	ChangelogPath string   `mapstructure:"changelog_path" yaml:"changelog_path"`

	TagPrefix      string            `mapstructure:"tag_prefix" yaml:"tag_prefix"`
	InitialVersion string            `mapstructure:"initial_version" yaml:"initial_version"`
	Prerelease     *PrereleaseConfig `mapstructure:"prerelease" yaml:"prerelease"`

	SkipCI            bool `mapstructure:"skip_ci" yaml:"skip_ci"`
	SkipChore         bool `mapstructure:"skip_chore" yaml:"skip_chore"`
	SkipMiscellaneous bool `mapstructure:"skip_miscellaneous" yaml:"skip_miscellaneous"`

	MajorPatterns []string `mapstructure:"major_patterns" yaml:"major_patterns"`
	MinorPatterns []string `mapstructure:"minor_patterns" yaml:"minor_patterns"`

	BreakingAlwaysIncrementMajor bool `mapstructure:"breaking_always_increment_major" yaml:"breaking_always_increment_major"`
	FeaturesAlwaysIncrementMinor bool `mapstructure:"features_always_increment_minor" yaml:"features_always_increment_minor"`

	ReleaseCommitPattern string `mapstructure:"release_commit_pattern" yaml:"release_commit_pattern"`

	SkipSHAs []string          `mapstructure:"skip_shas" yaml:"skip_shas"`
	Rewrites map[string]string `mapstructure:"rewrites" yaml:"rewrites"`

	IncludeAuthor bool `mapstructure:"include_author" yaml:"include_author"`

	// NextCycle starts the next release cycle automatically after this
	// package is tagged and released.
	NextCycle bool `mapstructure:"next_cycle" yaml:"next_cycle"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Forge:        ForgeConfig{Type: "github", RateLimit: 10},
		BranchPrefix: "shiplift-release",
		PendingLabel: "shiplift:pending",
		TaggedLabel:  "shiplift:tagged",
		CacheDir:     path.Join(home, ".shiplift", "cache"),
	}
}

// Load reads configuration from the given file (or the default search
// locations), layered over defaults and the environment.
func Load(cfgFile string) (*Config, error) {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("shiplift")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.shiplift")
	}

	v.SetEnvPrefix("SHIPLIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !stderrors.As(err, &notFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeConfig, "read config file")
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeConfig, "parse config file")
	}

	if cfg.Forge.Token == "" {
		cfg.Forge.Token = os.Getenv("SHIPLIFT_TOKEN")
	}
	return cfg, nil
}

// MergeRepoSide overlays the repo-side configuration file (fetched from the
// forge) onto the current values. Only keys present in the file are touched;
// unknown keys are ignored.
func (c *Config) MergeRepoSide(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeConfig, "parse "+RepoConfigPath)
	}
	return nil
}

// Validate checks the whole configuration, reporting the first problem as a
// fatal configuration error.
func (c *Config) Validate() error {
	switch c.Forge.Type {
	case "github", "gitlab", "gitea":
	default:
		return apperrors.ConfigErrorf("unknown forge type %q", c.Forge.Type)
	}
	if c.Forge.Owner == "" || c.Forge.Repo == "" {
		return apperrors.ConfigError("forge owner and repo are required")
	}
	if len(c.Packages) == 0 {
		return apperrors.ConfigError("at least one package must be configured")
	}

	seen := make(map[string]bool, len(c.Packages))
	for i := range c.Packages {
		p := &c.Packages[i]
		if p.Name == "" {
			return apperrors.ConfigErrorf("package at index %d has no name", i)
		}
		if seen[p.Name] {
			return apperrors.ConfigErrorf("duplicate package name %q", p.Name)
		}
		seen[p.Name] = true

		switch p.Ecosystem {
		case "gomod", "npm", "cargo", "":
		default:
			return apperrors.ConfigErrorf("package %q: unknown ecosystem %q", p.Name, p.Ecosystem)
		}
		if _, err := p.Resolver(); err != nil {
			return err
		}
	}
	return nil
}

// Package returns the configuration for the named package, or nil.
func (c *Config) Package(name string) *PackageConfig {
	for i := range c.Packages {
		if c.Packages[i].Name == name {
			return &c.Packages[i]
		}
	}
	return nil
}

// EffectiveTagPrefix defaults the tag prefix to "v" for a repo-root package
// and "{name}-v" for everything else.
func (p *PackageConfig) EffectiveTagPrefix() string {
	if p.TagPrefix != "" {
		return p.TagPrefix
	}
	if p.Path == "" || p.Path == "." {
		return "v"
	}
	return p.Name + "-v"
}

// EffectiveChangelogPath defaults to CHANGELOG.md inside the package path.
func (p *PackageConfig) EffectiveChangelogPath() string {
	if p.ChangelogPath != "" {
		return p.ChangelogPath
	}
	if p.Path == "" || p.Path == "." {
		return "CHANGELOG.md"
	}
	return path.Join(p.Path, "CHANGELOG.md")
}

// Resolver compiles the package policy into the analyzer's configuration.
// Invalid regexes and invalid semver are configuration errors.
func (p *PackageConfig) Resolver() (analyzer.Config, error) {
	cfg := analyzer.Config{
		TagPrefix:                    p.EffectiveTagPrefix(),
		SkipCI:                       p.SkipCI,
		SkipChore:                    p.SkipChore,
		SkipMiscellaneous:            p.SkipMiscellaneous,
		BreakingAlwaysIncrementMajor: p.BreakingAlwaysIncrementMajor,
		FeaturesAlwaysIncrementMinor: p.FeaturesAlwaysIncrementMinor,
		Rewrites:                     p.Rewrites,
		IncludeAuthor:                p.IncludeAuthor,
	}

	if p.InitialVersion != "" {
		v, err := semver.NewVersion(p.InitialVersion)
		if err != nil {
			return cfg, apperrors.ConfigErrorf("package %q: invalid initial version %q", p.Name, p.InitialVersion)
		}
		cfg.InitialVersion = v
	}

	if p.Prerelease != nil {
		if p.Prerelease.Suffix == "" {
			return cfg, apperrors.ConfigErrorf("package %q: prerelease suffix must not be empty", p.Name)
		}
		strategy := analyzer.StrategyVersioned
		switch p.Prerelease.Strategy {
		case "", string(analyzer.StrategyVersioned):
		case string(analyzer.StrategyStatic):
			strategy = analyzer.StrategyStatic
		default:
			return cfg, apperrors.ConfigErrorf("package %q: unknown prerelease strategy %q", p.Name, p.Prerelease.Strategy)
		}
		cfg.Prerelease = &analyzer.Prerelease{Suffix: p.Prerelease.Suffix, Strategy: strategy}
	}

	var err error
	if cfg.MajorPatterns, err = compileAll(p.Name, "major", p.MajorPatterns); err != nil {
		return cfg, err
	}
	if cfg.MinorPatterns, err = compileAll(p.Name, "minor", p.MinorPatterns); err != nil {
		return cfg, err
	}

	pattern := p.ReleaseCommitPattern
	if pattern == "" {
		pattern = DefaultReleaseCommitPattern
	}
	if cfg.ReleaseCommitRe, err = regexp.Compile(pattern); err != nil {
		return cfg, apperrors.ConfigErrorf("package %q: invalid release commit pattern %q: %v", p.Name, pattern, err)
	}

	if len(p.SkipSHAs) > 0 {
		cfg.SkipSHAs = make(map[string]bool, len(p.SkipSHAs))
		for _, sha := range p.SkipSHAs {
			cfg.SkipSHAs[sha] = true
		}
	}
	return cfg, nil
}

func compileAll(pkg, kind string, patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, apperrors.ConfigErrorf("package %q: invalid %s bump pattern %q: %v", pkg, kind, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
