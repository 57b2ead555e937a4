// Collects attribute bits & extended metadata for a single filesystem node
package fsmetadata

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/djherbis/times"
	"github.com/function61/snapview/pkg/fsentry"
)

const (
	KeyBirthTime  = "time:birth"
	KeyChangeTime = "time:change"
	KeyAccessTime = "time:access"
	KeyXattrList  = "xattr"
	xattrPrefix   = "xattr:"
)

// Result is partial-success by nature: a failure for one key doesn't invalidate others
type Result struct {
	Values map[string]string
	Errors map[string]error
}

func (r Result) set(key string, value string) {
	r.Values[key] = value
}

func (r Result) fail(key string, err error) {
	r.Errors[key] = err
}

// keys that failed, formatted for embedding into a FileEntry
func (r Result) ErrorStrings() map[string]string {
	if len(r.Errors) == 0 {
		return nil
	}

	strs := map[string]string{}
	for key, err := range r.Errors {
		strs[key] = err.Error()
	}

	return strs
}

type Extractor struct {
	skipXattrs bool
}

func New() *Extractor {
	return &Extractor{}
}

// for when reading xattrs is too expensive (large trees on network filesystems)
func NewWithoutXattrs() *Extractor {
	return &Extractor{skipXattrs: true}
}

// path must be a path the OS can resolve (i.e. already translated to provider space).
// info must be from Lstat() of the same path.
//
// never fails as a whole. when the platform has nothing to offer, you get an empty mapping.
func (e *Extractor) Extract(path string, info os.FileInfo) Result {
	res := Result{
		Values: map[string]string{},
		Errors: map[string]error{},
	}

	if hasPlatformStat(info) {
		// https://unix.stackexchange.com/questions/2802/what-is-the-difference-between-modify-and-change-in-stat-command-context
		allTimes := times.Get(info)

		res.set(KeyAccessTime, formatTime(allTimes.AccessTime()))

		if allTimes.HasBirthTime() {
			res.set(KeyBirthTime, formatTime(allTimes.BirthTime()))
		}

		if allTimes.HasChangeTime() {
			res.set(KeyChangeTime, formatTime(allTimes.ChangeTime()))
		}

		addPlatformMetadata(res, info)
	}

	if !e.skipXattrs {
		addXattrs(res, path)
	}

	return res
}

// name is used only for its base name (dotfiles are "hidden" on Unix-likes)
func (e *Extractor) Attributes(name string, info os.FileInfo) fsentry.Attributes {
	attrs := fsentry.Attributes(0)

	mode := info.Mode()

	if mode.IsDir() {
		attrs |= fsentry.AttrDirectory
	}

	if mode&os.ModeSymlink != 0 {
		attrs |= fsentry.AttrReparsePoint
	}

	if mode&(os.ModeDevice|os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 {
		attrs |= fsentry.AttrDevice
	}

	if mode.Perm()&0222 == 0 {
		attrs |= fsentry.AttrReadOnly
	}

	attrs |= platformAttributes(filepath.Base(name), info)

	if attrs == 0 {
		attrs = fsentry.AttrNormal
	}

	return attrs
}

// 0, false if the platform doesn't report devices (or info is not from the OS)
func DeviceID(info os.FileInfo) (uint64, bool) {
	return platformDeviceID(info)
}

func isHiddenName(base string) bool {
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
