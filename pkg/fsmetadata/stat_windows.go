package fsmetadata

import (
	"os"
	"strconv"
	"syscall"

	"github.com/function61/snapview/pkg/fsentry"
)

const (
	KeyWinAttributes = "win:attributes"
)

func hasPlatformStat(info os.FileInfo) bool {
	_, ok := info.Sys().(*syscall.Win32FileAttributeData)
	return ok
}

func addPlatformMetadata(res Result, info os.FileInfo) {
	data, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return
	}

	res.set(KeyWinAttributes, strconv.FormatUint(uint64(data.FileAttributes), 16))
}

// raw attributes are a superset of what we derive from mode bits
func platformAttributes(base string, info os.FileInfo) fsentry.Attributes {
	data, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return 0
	}

	return fsentry.Attributes(data.FileAttributes)
}

// volume serial numbers need a handle (GetFileInformationByHandle), which FileInfo
// doesn't carry. walker treats 0 as "unknown" and doesn't enforce volume boundaries.
func platformDeviceID(info os.FileInfo) (uint64, bool) {
	return 0, false
}
