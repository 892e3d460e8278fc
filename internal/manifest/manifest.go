// Package manifest rewrites ecosystem manifest files for a computed next
// version. The orchestrator only calls the common Update contract and treats
// the result as opaque file changes.
package manifest

import (
	"fmt"
	"path"

	"github.com/shiplift/shiplift/internal/models"
)

// Ecosystem is a closed variant selecting among interchangeable updater
// strategies.
type Ecosystem int

const (
	// EcosystemGoModule versions live in tags only; go.mod is loaded for
	// sibling requirement rewrites.
	EcosystemGoModule Ecosystem = iota
	// EcosystemNPM rewrites package.json.
	EcosystemNPM
	// EcosystemCargo rewrites Cargo.toml.
	EcosystemCargo
)

// ParseEcosystem maps a configuration string onto the variant. An empty
// string defaults to Go modules.
func ParseEcosystem(s string) (Ecosystem, error) {
	switch s {
	case "", "gomod":
		return EcosystemGoModule, nil
	case "npm":
		return EcosystemNPM, nil
	case "cargo":
		return EcosystemCargo, nil
	default:
		return 0, fmt.Errorf("unknown ecosystem %q", s)
	}
}

// Package is one package's loaded manifest state plus its next version.
type Package struct {
	Name      string
	Path      string
	Version   string            // bare semver, no tag prefix
	Manifests map[string]string // manifest path -> loaded content
}

// Sibling is another workspace package whose next version may need to be
// reflected in this package's dependency entries.
type Sibling struct {
	Name    string
	Version string
}

// Updater applies one ecosystem strategy.
type Updater struct {
	eco Ecosystem
}

// NewUpdater selects the strategy for the given ecosystem.
func NewUpdater(eco Ecosystem) *Updater {
	return &Updater{eco: eco}
}

// ManifestPaths lists the files the orchestrator must load from the forge
// before calling Update.
func (u *Updater) ManifestPaths(pkgPath string) []string {
	switch u.eco {
	case EcosystemNPM:
		return []string{join(pkgPath, "package.json")}
	case EcosystemCargo:
		return []string{join(pkgPath, "Cargo.toml")}
	default:
		return []string{join(pkgPath, "go.mod")}
	}
}

// Update returns the file rewrites needed for the package's next version, or
// none when the ecosystem keeps versions out of manifests.
func (u *Updater) Update(pkg Package, siblings []Sibling) ([]models.FileChange, error) {
	switch u.eco {
	case EcosystemNPM:
		return updateNPM(pkg, siblings)
	case EcosystemCargo:
		return updateCargo(pkg, siblings)
	default:
		return updateGoModule(pkg, siblings)
	}
}

func join(dir, file string) string {
	if dir == "" || dir == "." {
		return file
	}
	return path.Join(dir, file)
}
