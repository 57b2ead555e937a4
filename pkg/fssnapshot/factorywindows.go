//go:build windows

package fssnapshot

import (
	"log"
)

func PlatformSpecificSnapshotter(_ Config, logger *log.Logger) Snapshotter {
	return WindowsSnapshotter(logger)
}

func PlatformVolumeResolver() VolumeResolver {
	return &driveLetterVolumeResolver{}
}
