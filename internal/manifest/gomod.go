package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shiplift/shiplift/internal/models"
)

var moduleDirectiveRe = regexp.MustCompile(`(?m)^module\s+(\S+)`)

// updateGoModule handles Go modules, where the version itself lives only in
// the tag. The one rewrite needed is bumping require directives that pin
// sibling workspace modules.
func updateGoModule(pkg Package, siblings []Sibling) ([]models.FileChange, error) {
	manifestPath := join(pkg.Path, "go.mod")
	content, ok := pkg.Manifests[manifestPath]
	if !ok {
		// A package without go.mod needs no manifest rewrite at all.
		return nil, nil
	}

	// Sibling requires are identified by the package's own module owner, so a
	// third-party module that merely ends in a sibling's name is left alone.
	prefix := workspacePrefix(content)
	if prefix == "" {
		return nil, nil
	}

	updated := content
	for _, sib := range siblings {
		// Matches both block and single-line require directives.
		re, err := regexp.Compile(fmt.Sprintf(
			`(?m)^(\s*(?:require\s+)?%s(?:/\S+)*/%s\s+)v\S+`,
			regexp.QuoteMeta(prefix), regexp.QuoteMeta(sib.Name)))
		if err != nil {
			return nil, err
		}
		updated = re.ReplaceAllString(updated, "${1}v"+sib.Version)
	}

	if updated == content {
		return nil, nil
	}
	return []models.FileChange{{Path: manifestPath, Content: updated}}, nil
}

// workspacePrefix derives the host/owner prefix shared by all workspace
// modules from the module directive, e.g. "github.com/acme" from
// "module github.com/acme/monorepo/packages/api". Empty when the file has no
// module directive.
func workspacePrefix(content string) string {
	m := moduleDirectiveRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	parts := strings.Split(m[1], "/")
	if len(parts) < 2 {
		return m[1]
	}
	return parts[0] + "/" + parts[1]
}
