package manifest

import (
	"fmt"
	"regexp"

	"github.com/pelletier/go-toml/v2"

	"github.com/shiplift/shiplift/internal/models"
)

var packageVersionRe = regexp.MustCompile(`(?m)^(version\s*=\s*")[^"]*(")`)

// updateCargo rewrites the [package] version line in place, validating the
// document with a real TOML parse first so a malformed manifest fails loudly
// instead of being silently mangled.
func updateCargo(pkg Package, siblings []Sibling) ([]models.FileChange, error) {
	manifestPath := join(pkg.Path, "Cargo.toml")
	content, ok := pkg.Manifests[manifestPath]
	if !ok {
		return nil, fmt.Errorf("package %q: %s not loaded", pkg.Name, manifestPath)
	}

	var doc map[string]interface{}
	if err := toml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("package %q: parse %s: %w", pkg.Name, manifestPath, err)
	}
	if _, ok := doc["package"]; !ok {
		return nil, fmt.Errorf("package %q: %s has no [package] table", pkg.Name, manifestPath)
	}

	updated := replaceFirst(content, packageVersionRe, pkg.Version)

	for _, sib := range siblings {
		// Inline-table dependency entries: name = { version = "...", ... }
		re, err := regexp.Compile(fmt.Sprintf(
			`(?m)^(%s\s*=\s*\{[^}]*version\s*=\s*")[^"]*(")`, regexp.QuoteMeta(sib.Name)))
		if err != nil {
			return nil, err
		}
		updated = replaceFirst(updated, re, sib.Version)
	}

	if updated == content {
		return nil, nil
	}
	return []models.FileChange{{Path: manifestPath, Content: updated}}, nil
}

func replaceFirst(content string, re *regexp.Regexp, version string) string {
	done := false
	return re.ReplaceAllStringFunc(content, func(m string) string {
		if done {
			return m
		}
		done = true
		sub := re.FindStringSubmatch(m)
		return sub[1] + version + sub[2]
	})
}
