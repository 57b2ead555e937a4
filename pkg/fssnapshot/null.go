package fssnapshot

import (
	"context"
	"time"
)

// you can use NullSnapshotter when your application gives the option of using snapshots.
// in the cases where snapshotting is not available (or user doesn't want it), you can do
// your file accessing using the same logic (take snapshot, read files, release snapshot)
// regardless of if snapshotting is actually used or not.

func NullSnapshotter() Snapshotter {
	return &nullSnapshotter{}
}

type nullSnapshotter struct{}

func (n *nullSnapshotter) Kind() Kind {
	return KindPassThrough
}

func (n *nullSnapshotter) IsSupported(Volume) bool {
	return true
}

func (n *nullSnapshotter) Snapshot(_ context.Context, volume Volume) (*Snapshot, error) {
	return &Snapshot{
		ID:                    "No snapshotting was used",
		Kind:                  KindPassThrough,
		Volume:                volume,
		SnapshotRootMountPath: volume.MountPoint,
		Created:               time.Now(),
	}, nil
}

func (n *nullSnapshotter) Release(Snapshot) error {
	return nil
}
