//go:build linux

package fssnapshot

import (
	"errors"

	"github.com/function61/snapview/pkg/pathmapper"
	"github.com/prometheus/procfs"
)

type procfsVolumeResolver struct {
	mounts func() ([]*procfs.Mount, error)
}

func procfsVolumes() VolumeResolver {
	return &procfsVolumeResolver{
		mounts: func() ([]*procfs.Mount, error) {
			procSelf, err := procfs.Self()
			if err != nil {
				return nil, err
			}

			return procSelf.MountStats()
		},
	}
}

func (p *procfsVolumeResolver) VolumeFor(path string) (*Volume, error) {
	mounts, err := p.mounts()
	if err != nil {
		return nil, err
	}

	mountOfOrigin := mountForPath(path, mounts)
	if mountOfOrigin == nil {
		return nil, errors.New("unable to resolve mount for path")
	}

	return &Volume{
		MountPoint: mountOfOrigin.Mount,
		Device:     mountOfOrigin.Device,
		FsType:     mountOfOrigin.Type,
	}, nil
}

// later entries win on ties, because a later mount over the same point shadows the earlier
func mountForPath(path string, mounts []*procfs.Mount) *procfs.Mount {
	var longestMatchingMount *procfs.Mount = nil

	for _, mount := range mounts {
		if !pathmapper.IsWithin(mount.Mount, path) || (longestMatchingMount != nil && len(mount.Mount) < len(longestMatchingMount.Mount)) {
			continue
		}

		longestMatchingMount = mount
	}

	return longestMatchingMount
}
