package manifest

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/shiplift/shiplift/internal/models"
)

// updateNPM rewrites package.json surgically so formatting and key order
// survive the edit.
func updateNPM(pkg Package, siblings []Sibling) ([]models.FileChange, error) {
	manifestPath := join(pkg.Path, "package.json")
	content, ok := pkg.Manifests[manifestPath]
	if !ok {
		return nil, fmt.Errorf("package %q: %s not loaded", pkg.Name, manifestPath)
	}
	if !gjson.Valid(content) {
		return nil, fmt.Errorf("package %q: %s is not valid JSON", pkg.Name, manifestPath)
	}

	updated, err := sjson.Set(content, "version", pkg.Version)
	if err != nil {
		return nil, fmt.Errorf("package %q: set version: %w", pkg.Name, err)
	}

	for _, dep := range []string{"dependencies", "devDependencies", "peerDependencies"} {
		for _, sib := range siblings {
			key := dep + "." + escapeKey(sib.Name)
			current := gjson.Get(updated, key)
			if !current.Exists() {
				continue
			}
			updated, err = sjson.Set(updated, key, rangePrefix(current.String())+sib.Version)
			if err != nil {
				return nil, fmt.Errorf("package %q: update %s: %w", pkg.Name, key, err)
			}
		}
	}

	if updated == content {
		return nil, nil
	}
	return []models.FileChange{{Path: manifestPath, Content: updated}}, nil
}

// rangePrefix preserves the range operator of an existing requirement, so
// "^1.2.3" stays a caret range after the bump.
func rangePrefix(req string) string {
	if req == "" {
		return ""
	}
	switch req[0] {
	case '^', '~':
		return string(req[0])
	case '>', '=', '<':
		i := 0
		for i < len(req) && (req[i] == '>' || req[i] == '=' || req[i] == '<') {
			i++
		}
		return req[:i]
	}
	return ""
}

// escapeKey escapes scoped package names for gjson/sjson path syntax.
func escapeKey(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out = append(out, '\\')
		}
		out = append(out, name[i])
	}
	return string(out)
}
