package fswalker

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"

	"github.com/function61/snapview/pkg/fsentry"
	"github.com/function61/snapview/pkg/snapprovider"
)

// in-memory tree that counts listings
type fakeSource struct {
	roots   []string
	entries map[string]fsentry.FileEntry
	// directory => error from EnumerateChildren()
	listErr map[string]error
	// directory => error from iterator after its children have been produced
	listErrMidway  map[string]error
	enumerateCalls map[string]int
	openIterators  int
}

func newFakeSource(roots ...string) *fakeSource {
	src := &fakeSource{
		roots:          roots,
		entries:        map[string]fsentry.FileEntry{},
		listErr:        map[string]error{},
		listErrMidway:  map[string]error{},
		enumerateCalls: map[string]int{},
	}

	for _, root := range roots {
		src.dir(root)
	}

	return src
}

func (f *fakeSource) dir(path string) *fakeSource {
	f.entries[path] = fsentry.FileEntry{Path: path, Kind: fsentry.KindDirectory}
	return f
}

func (f *fakeSource) file(path string, size int64) *fakeSource {
	f.entries[path] = fsentry.FileEntry{Path: path, Kind: fsentry.KindFile, Size: size}
	return f
}

func (f *fakeSource) symlink(path string, target string) *fakeSource {
	f.entries[path] = fsentry.FileEntry{Path: path, Kind: fsentry.KindSymlink, SymlinkTarget: target}
	return f
}

func (f *fakeSource) withDevice(path string, deviceID uint64) *fakeSource {
	entry := f.entries[path]
	entry.DeviceID = deviceID
	f.entries[path] = entry
	return f
}

func (f *fakeSource) Roots() []string {
	return f.roots
}

func (f *fakeSource) Stat(path string) (fsentry.FileEntry, error) {
	entry, found := f.entries[path]
	if !found {
		return fsentry.FileEntry{}, snapprovider.ErrNotFound
	}

	return entry, nil
}

func (f *fakeSource) EnumerateChildren(dirPath string) (fsentry.Iterator, error) {
	f.enumerateCalls[dirPath]++

	if err := f.listErr[dirPath]; err != nil {
		return nil, err
	}

	children := []fsentry.FileEntry{}
	for path, entry := range f.entries {
		if path != dirPath && filepath.Dir(path) == dirPath {
			children = append(children, entry)
		}
	}

	// reverse order, to catch anyone relying on listing order
	sort.Slice(children, func(i, j int) bool { return children[i].Path > children[j].Path })

	f.openIterators++

	return &fakeIterator{
		src:      f,
		entries:  children,
		errAtEnd: f.listErrMidway[dirPath],
	}, nil
}

type fakeIterator struct {
	src      *fakeSource
	entries  []fsentry.FileEntry
	errAtEnd error
	err      error
	closed   bool
}

func (f *fakeIterator) Next() (fsentry.FileEntry, bool) {
	if f.closed {
		return fsentry.FileEntry{}, false
	}

	if len(f.entries) == 0 {
		f.err = f.errAtEnd
		return fsentry.FileEntry{}, false
	}

	next := f.entries[0]
	f.entries = f.entries[1:]
	return next, true
}

func (f *fakeIterator) Err() error {
	return f.err
}

func (f *fakeIterator) Close() error {
	if f.closed {
		return errors.New("double close")
	}

	f.closed = true
	f.src.openIterators--
	return nil
}

func collect(w *Walker) []fsentry.FileEntry {
	entries := []fsentry.FileEntry{}
	for {
		entry, more := w.Next()
		if !more {
			return entries
		}

		entries = append(entries, entry)
	}
}

// "path:kind" sorted, for order-insensitive comparisons
func summarize(entries []fsentry.FileEntry) string {
	lines := []string{}
	for _, entry := range entries {
		lines = append(lines, entry.Path+":"+entry.Kind.String())
	}
	sort.Strings(lines)

	return strings.Join(lines, "\n")
}

func assertNoDuplicatePaths(t *testing.T, entries []fsentry.FileEntry) {
	t.Helper()

	seen := map[string]bool{}
	for _, entry := range entries {
		assert.Assert(t, !seen[entry.Path])
		seen[entry.Path] = true
	}
}
