// Read access to one volume through a snapshot (or the live filesystem)
package snapprovider

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/function61/snapview/pkg/fsentry"
	"github.com/function61/snapview/pkg/fsmetadata"
	"github.com/function61/snapview/pkg/fssnapshot"
	"github.com/function61/snapview/pkg/pathmapper"
	"github.com/spf13/afero"
)

// Provider is a tagged variant: Kind is fixed at creation and the read operations are the
// same for every kind (the snapshot mechanism only changes where paths map to).
//
// every method takes a real path and translates it through the mapper.
type Provider struct {
	snapshot fssnapshot.Snapshot
	mapper   *pathmapper.Mapper
	fs       afero.Fs
	metadata *fsmetadata.Extractor
}

func New(
	snapshot fssnapshot.Snapshot,
	mapper *pathmapper.Mapper,
	filesystem afero.Fs,
	metadata *fsmetadata.Extractor,
) *Provider {
	return &Provider{
		snapshot: snapshot,
		mapper:   mapper,
		fs:       filesystem,
		metadata: metadata,
	}
}

func (p *Provider) Kind() fssnapshot.Kind {
	return p.snapshot.Kind
}

func (p *Provider) Snapshot() fssnapshot.Snapshot {
	return p.snapshot
}

func (p *Provider) Mapper() *pathmapper.Mapper {
	return p.mapper
}

// non-nil => snapshot root has gone away (unmounted under us, VSS diff area exhausted, ..)
func (p *Provider) Healthy() error {
	if p.snapshot.Kind == fssnapshot.KindPassThrough {
		return nil
	}

	if _, err := p.fs.Stat(p.snapshot.SnapshotRootMountPath); err != nil {
		return fmt.Errorf("snapshot %s root unreachable: %w", p.snapshot.ID, stripPath(err))
	}

	return nil
}

// seekable stream. caller closes.
func (p *Provider) OpenForRead(filePath string) (io.ReadSeekCloser, error) {
	providerPath, err := p.mapper.ToProviderPath(filePath)
	if err != nil {
		return nil, err
	}

	file, err := p.fs.Open(providerPath)
	if err != nil {
		return nil, classify(filePath, err)
	}

	return file, nil
}

func (p *Provider) Stat(path string) (fsentry.FileEntry, error) {
	providerPath, err := p.mapper.ToProviderPath(path)
	if err != nil {
		return fsentry.FileEntry{}, err
	}

	info, err := p.lstat(providerPath)
	if err != nil {
		return fsentry.FileEntry{}, classify(path, err)
	}

	return p.entryFromInfo(filepath.Clean(path), providerPath, info), nil
}

func (p *Provider) Size(filePath string) (int64, error) {
	info, err := p.lstatReal(filePath)
	if err != nil {
		return 0, err
	}

	if !info.Mode().IsRegular() {
		return 0, nil
	}

	return info.Size(), nil
}

func (p *Provider) LastWriteTime(filePath string) (time.Time, error) {
	info, err := p.lstatReal(filePath)
	if err != nil {
		return time.Time{}, err
	}

	return info.ModTime(), nil
}

// second return is false when filePath is not a symlink ("no target")
func (p *Provider) SymlinkTarget(filePath string) (string, bool, error) {
	info, err := p.lstatReal(filePath)
	if err != nil {
		return "", false, err
	}

	if info.Mode()&os.ModeSymlink == 0 {
		return "", false, nil
	}

	providerPath, err := p.mapper.ToProviderPath(filePath)
	if err != nil {
		return "", false, err
	}

	target, err := p.readlink(providerPath)
	if err != nil {
		return "", false, classify(filePath, err)
	}

	return target, true, nil
}

func (p *Provider) Attributes(filePath string) (fsentry.Attributes, error) {
	info, err := p.lstatReal(filePath)
	if err != nil {
		return 0, err
	}

	return p.metadata.Attributes(filePath, info), nil
}

// per-key failures are inside the result. the error is only for the node itself.
func (p *Provider) Metadata(filePath string) (fsmetadata.Result, error) {
	providerPath, err := p.mapper.ToProviderPath(filePath)
	if err != nil {
		return fsmetadata.Result{}, err
	}

	info, err := p.lstat(providerPath)
	if err != nil {
		return fsmetadata.Result{}, classify(filePath, err)
	}

	return p.metadata.Extract(providerPath, info), nil
}

func (p *Provider) IsBlockDevice(filePath string) (bool, error) {
	info, err := p.lstatReal(filePath)
	if err != nil {
		return false, err
	}

	return fsentry.IsBlockDeviceMode(info.Mode()), nil
}

func (p *Provider) lstatReal(realPath string) (os.FileInfo, error) {
	providerPath, err := p.mapper.ToProviderPath(realPath)
	if err != nil {
		return nil, err
	}

	info, err := p.lstat(providerPath)
	if err != nil {
		return nil, classify(realPath, err)
	}

	return info, nil
}

// filesystems without symlink support get plain Stat()
func (p *Provider) lstat(providerPath string) (os.FileInfo, error) {
	if lstater, ok := p.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(providerPath)
		return info, err
	}

	return p.fs.Stat(providerPath)
}

func (p *Provider) readlink(providerPath string) (string, error) {
	linkReader, ok := p.fs.(afero.LinkReader)
	if !ok {
		return "", &os.PathError{Op: "readlink", Path: providerPath, Err: afero.ErrNoReadlink}
	}

	return linkReader.ReadlinkIfPossible(providerPath)
}

// never fails: things we can't read about the node end up in MetadataErrors
func (p *Provider) entryFromInfo(realPath string, providerPath string, info os.FileInfo) fsentry.FileEntry {
	kind := fsentry.KindFromMode(info.Mode())

	entry := fsentry.FileEntry{
		Path:        realPath,
		Kind:        kind,
		LastWrite:   info.ModTime(),
		Attributes:  p.metadata.Attributes(realPath, info),
		BlockDevice: kind == fsentry.KindBlockDevice,
	}

	if kind == fsentry.KindFile {
		entry.Size = info.Size()
	}

	if devID, known := fsmetadata.DeviceID(info); known {
		entry.DeviceID = devID
	}

	meta := p.metadata.Extract(providerPath, info)

	if kind == fsentry.KindSymlink {
		target, err := p.readlink(providerPath)
		if err != nil {
			meta.Errors["symlink"] = stripPath(err)
		} else {
			entry.SymlinkTarget = target
		}
	}

	entry.Metadata = meta.Values
	entry.MetadataErrors = meta.ErrorStrings()

	return entry
}
