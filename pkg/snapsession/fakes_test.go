package snapsession

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/snapview/pkg/fssnapshot"
	"github.com/function61/snapview/pkg/pathmapper"
)

// hands out a pre-made directory as the "snapshot" of every volume
type fakeSnapshotter struct {
	snapshotRoots map[string]string // volume mount point => snapshot root
	failCreate    error
	failRelease   error

	mu       sync.Mutex
	seq      int
	created  []string
	released []string
}

func (f *fakeSnapshotter) Kind() fssnapshot.Kind {
	return fssnapshot.KindBlockLevel
}

func (f *fakeSnapshotter) IsSupported(volume fssnapshot.Volume) bool {
	_, supported := f.snapshotRoots[volume.MountPoint]
	return supported
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context, volume fssnapshot.Volume) (*fssnapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreate != nil {
		return nil, f.failCreate
	}

	f.seq++
	id := fmt.Sprintf("fake-%d", f.seq)
	f.created = append(f.created, id)

	return &fssnapshot.Snapshot{
		ID:                    id,
		Kind:                  fssnapshot.KindBlockLevel,
		Volume:                volume,
		SnapshotRootMountPath: f.snapshotRoots[volume.MountPoint],
		Created:               time.Now(),
	}, nil
}

func (f *fakeSnapshotter) Release(snapshot fssnapshot.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.released = append(f.released, snapshot.ID)

	return f.failRelease
}

func (f *fakeSnapshotter) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.created)
}

func (f *fakeSnapshotter) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string{}, f.released...)
}

type fakeVolumes []fssnapshot.Volume

func (f fakeVolumes) VolumeFor(path string) (*fssnapshot.Volume, error) {
	for _, volume := range f {
		if pathmapper.IsWithin(volume.MountPoint, path) {
			volume := volume
			return &volume, nil
		}
	}

	return nil, errors.New("no volume for " + path)
}

// <tmp>/live/vol1/data/a.txt = "live data", <tmp>/snap/vol1/data/a.txt = "snapshot data".
// same for vol2.
type fixture struct {
	live map[string]string // volume name => mount point
	snap map[string]string // volume name => snapshot root
}

func (f fixture) volumes() fakeVolumes {
	return fakeVolumes{
		{MountPoint: f.live["vol1"], Device: "/dev/fake/vol1"},
		{MountPoint: f.live["vol2"], Device: "/dev/fake/vol2"},
	}
}

func (f fixture) snapshotter() *fakeSnapshotter {
	return &fakeSnapshotter{
		snapshotRoots: map[string]string{
			f.live["vol1"]: f.snap["vol1"],
			f.live["vol2"]: f.snap["vol2"],
		},
	}
}

func (f fixture) dataDir(volume string) string {
	return filepath.Join(f.live[volume], "data")
}

func makeFixture(t *testing.T) fixture {
	t.Helper()

	tmp := t.TempDir()

	fix := fixture{
		live: map[string]string{},
		snap: map[string]string{},
	}

	for _, volume := range []string{"vol1", "vol2"} {
		fix.live[volume] = filepath.Join(tmp, "live", volume)
		fix.snap[volume] = filepath.Join(tmp, "snap", volume)

		writeFile(t, filepath.Join(fix.live[volume], "data", "a.txt"), "live data")
		writeFile(t, filepath.Join(fix.live[volume], "other", "b.txt"), "live b")
		writeFile(t, filepath.Join(fix.snap[volume], "data", "a.txt"), "snapshot data")
		writeFile(t, filepath.Join(fix.snap[volume], "other", "b.txt"), "snapshot b")
	}

	return fix
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()

	assert.Ok(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.Ok(t, os.WriteFile(path, []byte(content), 0644))
}
