package fswalker

import (
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/snapview/pkg/fsentry"
)

func TestGlobPredicate(t *testing.T) {
	predicate, err := GlobPredicate(
		[]string{"*.tmp", "/data/cache"},
		[]string{"node_modules", "/data/backups/*"})
	assert.Ok(t, err)

	decide := func(path string) string {
		return predicate(path, fsentry.KindFile).String()
	}

	assert.EqualString(t, decide("/data/notes.txt"), "include")
	assert.EqualString(t, decide("/data/x/build.tmp"), "exclude-entry")
	assert.EqualString(t, decide("/data/cache"), "exclude-entry")
	assert.EqualString(t, decide("/other/cache"), "include") // full-path pattern
	assert.EqualString(t, decide("/data/web/node_modules"), "exclude-subtree")
	assert.EqualString(t, decide("/data/backups/2020"), "exclude-subtree")
	assert.EqualString(t, decide("/data/backups"), "include")
}

func TestGlobPredicateSubtreeWins(t *testing.T) {
	predicate, err := GlobPredicate([]string{"*.git"}, []string{"repo.git"})
	assert.Ok(t, err)

	assert.Assert(t, predicate("/src/repo.git", fsentry.KindDirectory) == fsentry.ExcludeSubtree)
	assert.Assert(t, predicate("/src/other.git", fsentry.KindDirectory) == fsentry.ExcludeEntry)
}

func TestGlobPredicateBadPattern(t *testing.T) {
	_, err := GlobPredicate(nil, []string{"[unclosed"})
	assert.EqualString(t, err.Error(), "pattern '[unclosed': syntax error in pattern")
}
