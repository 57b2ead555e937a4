// Value types for filesystem nodes observed through a snapshot session
package fsentry

import (
	"os"
	"path/filepath"
	"time"
)

type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	KindBlockDevice
	KindOther // char devices, pipes, sockets, ..
	KindError // synthetic: a directory that could not be listed
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "dir"
	case KindSymlink:
		return "symlink"
	case KindBlockDevice:
		return "blockdev"
	case KindOther:
		return "other"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// classifies by Lstat()-style mode, i.e. symlinks are not resolved
func KindFromMode(mode os.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return KindFile
	case mode.IsDir():
		return KindDirectory
	case mode&os.ModeSymlink != 0:
		return KindSymlink
	case IsBlockDeviceMode(mode):
		return KindBlockDevice
	default:
		return KindOther
	}
}

// Go sets ModeDevice for both block and char devices, and adds ModeCharDevice for the latter
func IsBlockDeviceMode(mode os.FileMode) bool {
	return mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0
}

// FileEntry is a point-in-time observation of one node. Path is always in "real" path
// space (the path the user knows), never the provider-internal path.
//
// Entries are not mutated after creation. Metadata maps are owned by the entry.
type FileEntry struct {
	Path          string
	Kind          Kind
	Size          int64 // regular files only
	LastWrite     time.Time
	Attributes    Attributes
	SymlinkTarget string // only when Kind == KindSymlink
	Metadata      map[string]string
	// keys whose extraction failed. rest of Metadata is still valid
	MetadataErrors map[string]string
	BlockDevice    bool
	// ID of the device containing the node, 0 if platform doesn't tell us
	DeviceID uint64
	// only for Kind == KindError
	Err error
}

func ErrorEntry(path string, err error) FileEntry {
	return FileEntry{
		Path: path,
		Kind: KindError,
		Err:  err,
	}
}

func (f FileEntry) Name() string {
	return filepath.Base(f.Path)
}

func (f FileEntry) IsDir() bool {
	return f.Kind == KindDirectory
}

func (f FileEntry) IsRegular() bool {
	return f.Kind == KindFile
}

// lazy, pull-driven sequence of entries. stopping early is fine, but Close() must be
// called to release the directory handle.
type Iterator interface {
	// returns false when exhausted or on error. check Err() to tell them apart
	Next() (FileEntry, bool)
	Err() error
	Close() error
}
