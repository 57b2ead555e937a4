// Translates between "real" paths (what the user sees) and the paths under which a
// provider exposes the same nodes (e.g. inside a mounted snapshot).
package pathmapper

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrOutOfScope = errors.New("pathmapper: path outside configured roots")

// Mapper is built once per provider instance. It maps a volume's mount point in real
// space onto the provider's root for that volume, but only accepts paths beneath one of
// the configured roots.
type Mapper struct {
	realBase     string
	providerBase string
	roots        []string // real path space
}

// realBase is the volume's mount point, providerBase where the provider exposes that
// same volume root. every root must be inside realBase.
func New(realBase string, providerBase string, roots []string) (*Mapper, error) {
	realBase = filepath.Clean(realBase)
	providerBase = filepath.Clean(providerBase)

	cleanRoots := []string{}
	for _, root := range roots {
		root = filepath.Clean(root)

		if _, within := relativeTo(realBase, root); !within {
			return nil, fmt.Errorf("root %s not within %s", root, realBase)
		}

		cleanRoots = append(cleanRoots, root)
	}

	return &Mapper{
		realBase:     realBase,
		providerBase: providerBase,
		roots:        cleanRoots,
	}, nil
}

// for providers that read the live filesystem
func Identity(roots []string) *Mapper {
	cleanRoots := []string{}
	for _, root := range roots {
		cleanRoots = append(cleanRoots, filepath.Clean(root))
	}

	return &Mapper{
		realBase:     "",
		providerBase: "",
		roots:        cleanRoots,
	}
}

func (m *Mapper) IsIdentity() bool {
	return m.realBase == m.providerBase
}

func (m *Mapper) Roots() []string {
	return append([]string{}, m.roots...)
}

// returns the configured root that contains realPath. on nested roots the innermost wins.
func (m *Mapper) RootFor(realPath string) (string, bool) {
	realPath = filepath.Clean(realPath)

	best := ""
	for _, root := range m.roots {
		if _, within := relativeTo(root, realPath); within && len(root) > len(best) {
			best = root
		}
	}

	return best, best != ""
}

func (m *Mapper) Contains(realPath string) bool {
	_, within := m.RootFor(realPath)
	return within
}

func (m *Mapper) ToProviderPath(realPath string) (string, error) {
	realPath = filepath.Clean(realPath)

	if !m.Contains(realPath) {
		return "", fmt.Errorf("%w: %s", ErrOutOfScope, realPath)
	}

	if m.IsIdentity() {
		return realPath, nil
	}

	rel, within := relativeTo(m.realBase, realPath)
	if !within { // unreachable given New() validates roots
		return "", fmt.Errorf("%w: %s", ErrOutOfScope, realPath)
	}

	return filepath.Join(m.providerBase, rel), nil
}

func (m *Mapper) ToRealPath(providerPath string) (string, error) {
	providerPath = filepath.Clean(providerPath)

	realPath := providerPath
	if !m.IsIdentity() {
		rel, within := relativeTo(m.providerBase, providerPath)
		if !within {
			return "", fmt.Errorf("%w: %s", ErrOutOfScope, providerPath)
		}

		realPath = filepath.Join(m.realBase, rel)
	}

	if !m.Contains(realPath) {
		return "", fmt.Errorf("%w: %s", ErrOutOfScope, providerPath)
	}

	return realPath, nil
}

// "rel" is "." when path == base
func relativeTo(base string, path string) (string, bool) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", false
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return rel, true
}

// exported for callers that need the same containment rule (e.g. grouping roots)
func IsWithin(base string, path string) bool {
	_, within := relativeTo(filepath.Clean(base), filepath.Clean(path))
	return within
}
