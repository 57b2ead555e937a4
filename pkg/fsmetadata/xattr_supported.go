//go:build linux || darwin || freebsd || netbsd

package fsmetadata

import (
	"encoding/base64"
	"errors"
	"syscall"

	"github.com/pkg/xattr"
)

// values are arbitrary bytes (e.g. security.capability), so they're base64-encoded
func addXattrs(res Result, path string) {
	// L-variants: don't follow symlinks, we want the link's own attributes
	names, err := xattr.LList(path)
	if err != nil {
		if !isNotSupported(err) {
			res.fail(KeyXattrList, err)
		}
		return
	}

	for _, name := range names {
		value, err := xattr.LGet(path, name)
		if err != nil {
			res.fail(xattrPrefix+name, err)
			continue
		}

		res.set(xattrPrefix+name, base64.StdEncoding.EncodeToString(value))
	}
}

// symlinks on Linux, special files on some filesystems, tmpfs without xattr support..
func isNotSupported(err error) bool {
	var xerr *xattr.Error
	if errors.As(err, &xerr) {
		err = xerr.Err
	}

	return errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EPERM)
}
