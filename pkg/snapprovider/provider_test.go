package snapprovider

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/snapview/pkg/fsentry"
	"github.com/function61/snapview/pkg/fsmetadata"
	"github.com/function61/snapview/pkg/fssnapshot"
	"github.com/function61/snapview/pkg/pathmapper"
	"github.com/spf13/afero"
)

// /data/a.txt (10 bytes), /data/sub/, /data/link -> /data/sub
func makeDataDir(t *testing.T) string {
	t.Helper()

	data := filepath.Join(t.TempDir(), "data")
	assert.Ok(t, os.MkdirAll(filepath.Join(data, "sub"), 0755))
	assert.Ok(t, os.WriteFile(filepath.Join(data, "a.txt"), []byte("0123456789"), 0644))
	assert.Ok(t, os.Symlink(filepath.Join(data, "sub"), filepath.Join(data, "link")))

	return data
}

func passThroughFor(root string) *Provider {
	snap, _ := fssnapshot.NullSnapshotter().Snapshot(context.Background(), fssnapshot.Volume{MountPoint: root})

	return New(*snap, pathmapper.Identity([]string{root}), afero.NewOsFs(), fsmetadata.New())
}

func listChildren(t *testing.T, p *Provider, dir string) []fsentry.FileEntry {
	t.Helper()

	children, err := p.EnumerateChildren(dir)
	assert.Ok(t, err)
	defer children.Close()

	entries := []fsentry.FileEntry{}
	for {
		entry, ok := children.Next()
		if !ok {
			break
		}
		entries = append(entries, entry)
	}
	assert.Ok(t, children.Err())

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return entries
}

func TestEnumerateChildren(t *testing.T) {
	data := makeDataDir(t)

	entries := listChildren(t, passThroughFor(data), data)

	assert.Assert(t, len(entries) == 3)

	assert.EqualString(t, entries[0].Name(), "a.txt")
	assert.Assert(t, entries[0].Kind == fsentry.KindFile)
	assert.Assert(t, entries[0].Size == 10)

	assert.EqualString(t, entries[1].Name(), "link")
	assert.Assert(t, entries[1].Kind == fsentry.KindSymlink)
	assert.EqualString(t, entries[1].SymlinkTarget, filepath.Join(data, "sub"))
	assert.Assert(t, entries[1].Attributes.Has(fsentry.AttrReparsePoint))

	assert.EqualString(t, entries[2].Name(), "sub")
	assert.Assert(t, entries[2].Kind == fsentry.KindDirectory)
	assert.Assert(t, entries[2].Size == 0)
}

func TestQueries(t *testing.T) {
	data := makeDataDir(t)
	p := passThroughFor(data)

	size, err := p.Size(filepath.Join(data, "a.txt"))
	assert.Ok(t, err)
	assert.Assert(t, size == 10)

	target, isLink, err := p.SymlinkTarget(filepath.Join(data, "link"))
	assert.Ok(t, err)
	assert.Assert(t, isLink)
	assert.EqualString(t, target, filepath.Join(data, "sub"))

	_, isLink, err = p.SymlinkTarget(filepath.Join(data, "a.txt"))
	assert.Ok(t, err)
	assert.Assert(t, !isLink)

	isBlockDev, err := p.IsBlockDevice(filepath.Join(data, "a.txt"))
	assert.Ok(t, err)
	assert.Assert(t, !isBlockDev)

	attrs, err := p.Attributes(filepath.Join(data, "sub"))
	assert.Ok(t, err)
	assert.Assert(t, attrs.Has(fsentry.AttrDirectory))

	stream, err := p.OpenForRead(filepath.Join(data, "a.txt"))
	assert.Ok(t, err)
	defer stream.Close()

	_, err = stream.Seek(5, io.SeekStart)
	assert.Ok(t, err)
	rest, err := io.ReadAll(stream)
	assert.Ok(t, err)
	assert.EqualString(t, string(rest), "56789")
}

func TestVanishedFileIsNotFound(t *testing.T) {
	data := makeDataDir(t)
	p := passThroughFor(data)

	assert.Ok(t, os.Remove(filepath.Join(data, "a.txt")))

	_, err := p.Size(filepath.Join(data, "a.txt"))
	assert.Assert(t, errors.Is(err, ErrNotFound))
	// provider internals must not leak, but real path does
	assert.EqualString(t, err.Error(), "snapprovider: not found: "+filepath.Join(data, "a.txt"))

	_, err = p.OpenForRead(filepath.Join(data, "a.txt"))
	assert.Assert(t, errors.Is(err, ErrNotFound))
}

func TestOutOfScope(t *testing.T) {
	data := makeDataDir(t)

	_, err := passThroughFor(data).Stat(filepath.Dir(data))
	assert.Assert(t, errors.Is(err, pathmapper.ErrOutOfScope))
}

func TestAccessDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission checks")
	}

	data := makeDataDir(t)
	restricted := filepath.Join(data, "restricted")
	assert.Ok(t, os.Mkdir(restricted, 0000))
	defer func() { _ = os.Chmod(restricted, 0755) }()

	_, err := passThroughFor(data).EnumerateChildren(restricted)
	assert.Assert(t, errors.Is(err, ErrAccessDenied))
}

// reads go to the snapshot, yet callers only ever see real paths
func TestSnapshotMapping(t *testing.T) {
	volume := t.TempDir()
	snapshotRoot := t.TempDir()

	live := filepath.Join(volume, "docs")
	assert.Ok(t, os.MkdirAll(live, 0755))
	assert.Ok(t, os.WriteFile(filepath.Join(live, "report.txt"), []byte("changed after snapshot"), 0644))

	// what the volume looked like at snapshot time
	assert.Ok(t, os.MkdirAll(filepath.Join(snapshotRoot, "docs"), 0755))
	assert.Ok(t, os.WriteFile(filepath.Join(snapshotRoot, "docs", "report.txt"), []byte("original"), 0644))

	mapper, err := pathmapper.New(volume, snapshotRoot, []string{live})
	assert.Ok(t, err)

	p := New(fssnapshot.Snapshot{
		ID:                    "snap-test",
		Kind:                  fssnapshot.KindBlockLevel,
		Volume:                fssnapshot.Volume{MountPoint: volume},
		SnapshotRootMountPath: snapshotRoot,
	}, mapper, afero.NewOsFs(), fsmetadata.New())

	entries := listChildren(t, p, live)
	assert.Assert(t, len(entries) == 1)
	assert.EqualString(t, entries[0].Path, filepath.Join(live, "report.txt"))
	assert.Assert(t, entries[0].Size == int64(len("original")))

	stream, err := p.OpenForRead(filepath.Join(live, "report.txt"))
	assert.Ok(t, err)
	defer stream.Close()

	content, err := io.ReadAll(stream)
	assert.Ok(t, err)
	assert.EqualString(t, string(content), "original")

	assert.Ok(t, p.Healthy())
	assert.Ok(t, os.RemoveAll(snapshotRoot))
	assert.Assert(t, p.Healthy() != nil)
}

func TestMemMapFsWithoutSymlinkSupport(t *testing.T) {
	memFs := afero.NewMemMapFs()
	assert.Ok(t, memFs.MkdirAll("/data/sub", 0755))
	assert.Ok(t, afero.WriteFile(memFs, "/data/a.txt", []byte("0123456789"), 0644))

	p := New(fssnapshot.Snapshot{Kind: fssnapshot.KindPassThrough}, pathmapper.Identity([]string{"/data"}), memFs, fsmetadata.NewWithoutXattrs())

	entries := listChildren(t, p, "/data")
	assert.Assert(t, len(entries) == 2)
	assert.EqualString(t, entries[0].Path, "/data/a.txt")
	assert.Assert(t, entries[0].Metadata != nil)
	assert.Assert(t, len(entries[0].Metadata) == 0)
}
