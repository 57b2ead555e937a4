package fssnapshot

import (
	"fmt"
	"path/filepath"
)

type driveLetterVolumeResolver struct{}

func (d *driveLetterVolumeResolver) VolumeFor(path string) (*Volume, error) {
	drive := filepath.VolumeName(path)
	if len(drive) != 2 || drive[1] != ':' {
		return nil, fmt.Errorf("not on a drive letter volume: %s", path)
	}

	return &Volume{
		MountPoint: drive + `\`,
		Device:     drive,
	}, nil
}
