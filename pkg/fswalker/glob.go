package fswalker

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/function61/snapview/pkg/fsentry"
)

// patterns with a path separator match the full path, others match the base name.
// ExcludeSubtree patterns win over ExcludeEntry patterns.
func GlobPredicate(excludeEntry []string, excludeSubtree []string) (fsentry.Predicate, error) {
	for _, pattern := range append(append([]string{}, excludeEntry...), excludeSubtree...) {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("pattern '%s': %w", pattern, err)
		}
	}

	return func(path string, _ fsentry.Kind) fsentry.Decision {
		switch {
		case anyMatches(excludeSubtree, path):
			return fsentry.ExcludeSubtree
		case anyMatches(excludeEntry, path):
			return fsentry.ExcludeEntry
		default:
			return fsentry.Include
		}
	}, nil
}

func anyMatches(patterns []string, path string) bool {
	base := filepath.Base(path)

	for _, pattern := range patterns {
		subject := base
		if strings.ContainsRune(pattern, filepath.Separator) {
			subject = path
		}

		// patterns were validated
		if matched, _ := filepath.Match(pattern, subject); matched {
			return true
		}
	}

	return false
}
