package fssnapshot

import (
	"context"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestNullSnapshotter(t *testing.T) {
	snapshotter := NullSnapshotter()

	snap, err := snapshotter.Snapshot(context.Background(), Volume{MountPoint: "/data"})
	assert.Ok(t, err)

	assert.Assert(t, snap.Kind == KindPassThrough)
	assert.EqualString(t, snap.SnapshotRootMountPath, "/data")
	assert.Ok(t, snapshotter.Release(*snap))
}
