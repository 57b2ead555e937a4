// Lazy, filtered depth-first walk over the roots of a snapshot session
package fswalker

import (
	"path/filepath"
	"sort"

	"github.com/function61/snapview/pkg/fsentry"
	"github.com/function61/snapview/pkg/pathmapper"
)

// *snapsession.Session implements this
type Source interface {
	Roots() []string
	Stat(path string) (fsentry.FileEntry, error)
	EnumerateChildren(dirPath string) (fsentry.Iterator, error)
}

type Options struct {
	// ExcludeEntry on a directory also skips its children
	ExcludeEntryPrunesChildren bool
	// children of each directory in path order. costs buffering one directory's listing
	SortChildren bool
}

// the "aggregated counts" of a walk
type Stats struct {
	Yielded          int
	Files            int
	Directories      int
	Symlinks         int
	BlockDevices     int
	Other            int
	Errors           int
	ExcludedEntries  int
	PrunedSubtrees   int
	VolumeBoundaries int // directories not descended into because they're on another device
	FollowedSymlinks int
	Bytes            int64 // sum of yielded regular files' sizes
}

// Walker is a pull iterator. It isn't safe for concurrent use. Abandoning it midway is
// fine, but Close() releases open directory listings.
//
// A parent is always yielded (or excluded) before its descendants are considered.
// Symlinks are leaves unless the predicate answers IncludeFollowSymlink. A followed
// directory's contents are yielded under the link's path ("link/child"), so no path is
// yielded twice.
type Walker struct {
	source    Source
	predicate fsentry.Predicate
	opts      Options

	roots        []string
	pendingRoots []string
	stack        []*frame
	// real paths of followed symlink targets, each followed once
	followed map[string]bool
	stats    Stats
	closed   bool
}

var _ fsentry.Iterator = (*Walker)(nil)

// a directory whose children are yet to be considered. listing is opened on first use.
type frame struct {
	path string
	// what the source knows the directory as. differs from path below a followed symlink
	realPath string
	deviceID uint64
	children fsentry.Iterator
	sorted   []fsentry.FileEntry // SortChildren only
	listed   bool
}

// restartable by calling Walk() again. nil predicate includes everything.
func Walk(source Source, predicate fsentry.Predicate, opts Options) *Walker {
	if predicate == nil {
		predicate = fsentry.IncludeAll
	}

	roots := []string{}
	for _, root := range source.Roots() {
		roots = append(roots, filepath.Clean(root))
	}

	return &Walker{
		source:       source,
		predicate:    predicate,
		opts:         opts,
		roots:        roots,
		pendingRoots: append([]string{}, roots...),
		followed:     map[string]bool{},
	}
}

func (w *Walker) Next() (fsentry.FileEntry, bool) {
	for !w.closed {
		if len(w.stack) == 0 {
			if len(w.pendingRoots) == 0 {
				return fsentry.FileEntry{}, false
			}

			root := w.pendingRoots[0]
			w.pendingRoots = w.pendingRoots[1:]

			entry, err := w.source.Stat(root)
			if err != nil {
				return w.yield(fsentry.ErrorEntry(root, err)), true
			}

			if entry, yield := w.consider(entry, root, nil); yield {
				return entry, true
			}

			continue
		}

		top := w.stack[len(w.stack)-1]

		if !top.listed {
			if err := w.list(top); err != nil {
				w.pop()
				return w.yield(fsentry.ErrorEntry(top.path, err)), true
			}
		}

		child, more := top.next()
		if !more {
			err := top.err()
			w.pop()

			if err != nil { // listing broke midway
				return w.yield(fsentry.ErrorEntry(top.path, err)), true
			}

			continue
		}

		realPath := child.Path
		child.Path = top.logicalPathOf(realPath)

		if entry, yield := w.consider(child, realPath, top); yield {
			return entry, true
		}
	}

	return fsentry.FileEntry{}, false
}

// errors surface as KindError entries, never here
func (w *Walker) Err() error {
	return nil
}

// snapshot of counts so far
func (w *Walker) Stats() Stats {
	return w.stats
}

func (w *Walker) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true

	for len(w.stack) > 0 {
		w.pop()
	}

	return nil
}

// applies predicate, schedules descent. second return tells if entry is to be yielded.
// realPath is entry.Path in the source's terms.
func (w *Walker) consider(entry fsentry.FileEntry, realPath string, parent *frame) (fsentry.FileEntry, bool) {
	if entry.Kind == fsentry.KindError {
		return w.yield(entry), true
	}

	// another root nested inside this one gets walked on its own
	if parent != nil && entry.IsDir() && w.isRoot(entry.Path) {
		return fsentry.FileEntry{}, false
	}

	decision := w.decide(entry.Path, realPath, entry.Kind)

	switch decision {
	case fsentry.ExcludeSubtree:
		w.stats.PrunedSubtrees++
		return fsentry.FileEntry{}, false
	case fsentry.ExcludeEntry:
		w.stats.ExcludedEntries++

		if entry.IsDir() && !w.opts.ExcludeEntryPrunesChildren {
			w.descend(entry.Path, realPath, entry.DeviceID, parent)
		}

		return fsentry.FileEntry{}, false
	default:
		if entry.IsDir() {
			w.descend(entry.Path, realPath, entry.DeviceID, parent)
		}

		if entry.Kind == fsentry.KindSymlink && decision == fsentry.IncludeFollowSymlink {
			w.follow(entry, realPath)
		}

		return w.yield(entry), true
	}
}

// below a followed symlink a node has two names. whichever of them is excluded wins.
func (w *Walker) decide(path string, realPath string, kind fsentry.Kind) fsentry.Decision {
	decision := w.predicate(path, kind)
	if realPath == path {
		return decision
	}

	return strictest(decision, w.predicate(realPath, kind))
}

func strictest(a fsentry.Decision, b fsentry.Decision) fsentry.Decision {
	switch {
	case a == fsentry.ExcludeSubtree || b == fsentry.ExcludeSubtree:
		return fsentry.ExcludeSubtree
	case a == fsentry.ExcludeEntry || b == fsentry.ExcludeEntry:
		return fsentry.ExcludeEntry
	default: // following is decided by the name the link was met under
		return a
	}
}

// does the decision keep a directory's children from being walked?
func (w *Walker) prunes(decision fsentry.Decision) bool {
	return decision == fsentry.ExcludeSubtree ||
		(decision == fsentry.ExcludeEntry && w.opts.ExcludeEntryPrunesChildren)
}

func (w *Walker) descend(dirPath string, realPath string, deviceID uint64, parent *frame) {
	if parent != nil && parent.deviceID != 0 && deviceID != 0 && parent.deviceID != deviceID {
		w.stats.VolumeBoundaries++
		return
	}

	w.stack = append(w.stack, &frame{
		path:     dirPath,
		realPath: realPath,
		deviceID: deviceID,
	})
}

// target's contents are walked under the link's path. only directories inside our roots
// qualify, and not when the target is an ancestor of the link, has been followed before or
// lies in a tree the predicate prunes.
func (w *Walker) follow(link fsentry.FileEntry, linkRealPath string) {
	target := link.SymlinkTarget
	if target == "" {
		return
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(linkRealPath), target)
	}
	target = filepath.Clean(target)

	if w.followed[target] || pathmapper.IsWithin(target, linkRealPath) || !w.withinRoots(target) {
		return
	}

	if w.prunedByPredicate(target) {
		return
	}

	targetEntry, err := w.source.Stat(target)
	if err != nil || !targetEntry.IsDir() {
		return
	}

	w.followed[target] = true
	w.stats.FollowedSymlinks++

	// no device check: target being within our roots is what counts
	w.stack = append(w.stack, &frame{
		path:     link.Path,
		realPath: target,
		deviceID: targetEntry.DeviceID,
	})
}

// asks the predicate about target and each of its ancestors up to the root it's in. the
// normal walk would never have reached target if any of them is pruned.
func (w *Walker) prunedByPredicate(target string) bool {
	root := w.innermostRoot(target)

	for dir := target; ; dir = filepath.Dir(dir) {
		if w.prunes(w.predicate(dir, fsentry.KindDirectory)) {
			return true
		}

		if dir == root || dir == filepath.Dir(dir) {
			return false
		}
	}
}

func (w *Walker) list(f *frame) error {
	f.listed = true

	children, err := w.source.EnumerateChildren(f.realPath)
	if err != nil {
		return err
	}

	if !w.opts.SortChildren {
		f.children = children
		return nil
	}

	defer children.Close()

	f.sorted = []fsentry.FileEntry{}
	for {
		child, more := children.Next()
		if !more {
			break
		}

		f.sorted = append(f.sorted, child)
	}

	if err := children.Err(); err != nil {
		f.sorted = nil
		return err
	}

	sort.Slice(f.sorted, func(i, j int) bool { return f.sorted[i].Path < f.sorted[j].Path })

	return nil
}

func (w *Walker) pop() {
	top := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]

	if top.children != nil {
		_ = top.children.Close()
	}
}

func (w *Walker) yield(entry fsentry.FileEntry) fsentry.FileEntry {
	w.stats.Yielded++

	switch entry.Kind {
	case fsentry.KindFile:
		w.stats.Files++
		w.stats.Bytes += entry.Size
	case fsentry.KindDirectory:
		w.stats.Directories++
	case fsentry.KindSymlink:
		w.stats.Symlinks++
	case fsentry.KindBlockDevice:
		w.stats.BlockDevices++
	case fsentry.KindError:
		w.stats.Errors++
	default:
		w.stats.Other++
	}

	return entry
}

func (w *Walker) isRoot(path string) bool {
	for _, root := range w.roots {
		if root == path {
			return true
		}
	}

	return false
}

func (w *Walker) withinRoots(path string) bool {
	return w.innermostRoot(path) != ""
}

// "" if path is not within any root
func (w *Walker) innermostRoot(path string) string {
	innermost := ""
	for _, root := range w.roots {
		if pathmapper.IsWithin(root, path) && len(root) > len(innermost) {
			innermost = root
		}
	}

	return innermost
}

// child's path as it's yielded. the source lists children under the directory's real path.
func (f *frame) logicalPathOf(childRealPath string) string {
	if f.path == f.realPath {
		return childRealPath
	}

	return filepath.Join(f.path, filepath.Base(childRealPath))
}

func (f *frame) next() (fsentry.FileEntry, bool) {
	if f.sorted != nil {
		if len(f.sorted) == 0 {
			return fsentry.FileEntry{}, false
		}

		next := f.sorted[0]
		f.sorted = f.sorted[1:]
		return next, true
	}

	if f.children == nil {
		return fsentry.FileEntry{}, false
	}

	return f.children.Next()
}

func (f *frame) err() error {
	if f.children == nil {
		return nil
	}

	return f.children.Err()
}
