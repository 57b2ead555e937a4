//go:build linux

package fssnapshot

import (
	"log"
)

func PlatformSpecificSnapshotter(conf Config, logger *log.Logger) Snapshotter {
	return LvmSnapshotter(conf.LvmSnapshotSize, conf.MountBase, logger)
}

func PlatformVolumeResolver() VolumeResolver {
	return procfsVolumes()
}
