//go:build !linux && !windows

package fssnapshot

import (
	"log"
)

// no snapshot facility we know how to drive (yet). APFS/ZFS would go here.
func PlatformSpecificSnapshotter(_ Config, _ *log.Logger) Snapshotter {
	return NullSnapshotter()
}

func PlatformVolumeResolver() VolumeResolver {
	return &singleVolumeResolver{}
}
