//go:build !linux && !darwin && !freebsd && !netbsd

package fsmetadata

func addXattrs(res Result, path string) {
	// platform has no extended attributes that pkg/xattr can reach
}
