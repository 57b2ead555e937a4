package snapprovider

import (
	"errors"
	"fmt"
	"io/fs"
)

// per-entry errors. none of these are fatal to the session: files come and go during a
// live backup.
var (
	ErrNotFound     = errors.New("snapprovider: not found")
	ErrAccessDenied = errors.New("snapprovider: access denied")
	ErrIO           = errors.New("snapprovider: I/O error")
)

// maps OS errors onto our taxonomy. message mentions realPath only, because provider
// paths are an implementation detail callers must never see.
func classify(realPath string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, realPath)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrAccessDenied, realPath)
	default:
		return fmt.Errorf("%w: %s: %v", ErrIO, realPath, stripPath(err))
	}
}

// *PathError embeds the provider path, only keep the cause
func stripPath(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}

	return err
}
