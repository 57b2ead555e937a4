// Cross-platform filesystem snapshotting library
package fssnapshot

import (
	"context"
	"time"
)

// which mechanism provides the consistent view
type Kind string

const (
	KindPassThrough Kind = "passthrough" // live filesystem, no isolation from writers
	KindShadowCopy  Kind = "shadowcopy"  // Windows VSS
	KindBlockLevel  Kind = "blocklevel"  // LVM snapshot
)

type Volume struct {
	MountPoint string `json:"mount_point"` // where the volume is visible in real path space
	Device     string `json:"device"`      // backing device (LVM: /dev/mapper/vg-lv), may be empty
	FsType     string `json:"fs_type"`
}

type Snapshot struct {
	ID                    string    `json:"id"` // opaque platform-specific string (do not use for anything)
	Kind                  Kind      `json:"kind"`
	Volume                Volume    `json:"volume"`             // snapshot taken from
	SnapshotRootMountPath string    `json:"snapshot_root_path"` // path used to access the snapshotted volume root
	Created               time.Time `json:"created"`
}

type Snapshotter interface {
	Kind() Kind
	// cheap check without side effects. false means Snapshot() is known to fail for this volume
	IsSupported(volume Volume) bool
	Snapshot(ctx context.Context, volume Volume) (*Snapshot, error)
	// must work from a Snapshot that was persisted & loaded back (used for orphan cleanup)
	Release(Snapshot) error
}

type VolumeResolver interface {
	VolumeFor(path string) (*Volume, error)
}

type Config struct {
	LvmSnapshotSize string // copy-on-write area size, in lvcreate's syntax
	MountBase       string // LVM snapshots get mounted at <MountBase>/<snapshot id>
}

func DefaultConfig() Config {
	return Config{
		LvmSnapshotSize: "1GB",
		MountBase:       "/mnt",
	}
}
