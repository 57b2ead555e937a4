//go:build !windows

package fsmetadata

import (
	"os"
	"strconv"
	"syscall"

	"github.com/function61/snapview/pkg/fsentry"
)

const (
	KeyUnixUID   = "unix:uid"
	KeyUnixGID   = "unix:gid"
	KeyUnixMode  = "unix:mode"
	KeyUnixNlink = "unix:nlink"
	KeyUnixInode = "unix:inode"
)

// in-memory filesystems give FileInfo without a Stat_t
func hasPlatformStat(info os.FileInfo) bool {
	_, ok := info.Sys().(*syscall.Stat_t)
	return ok
}

func addPlatformMetadata(res Result, info os.FileInfo) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}

	res.set(KeyUnixUID, strconv.FormatUint(uint64(stat.Uid), 10))
	res.set(KeyUnixGID, strconv.FormatUint(uint64(stat.Gid), 10))
	// includes setuid/setgid/sticky, which os.FileMode.Perm() drops
	res.set(KeyUnixMode, strconv.FormatUint(uint64(stat.Mode)&07777, 8))
	// >1 for hardlinked files. lets consumers detect them without re-reading content
	res.set(KeyUnixNlink, strconv.FormatUint(uint64(stat.Nlink), 10))
	res.set(KeyUnixInode, strconv.FormatUint(uint64(stat.Ino), 10))
}

func platformAttributes(base string, info os.FileInfo) fsentry.Attributes {
	if isHiddenName(base) {
		return fsentry.AttrHidden
	}

	return 0
}

func platformDeviceID(info os.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}

	return uint64(stat.Dev), true
}
