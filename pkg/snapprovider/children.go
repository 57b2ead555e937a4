package snapprovider

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/function61/snapview/pkg/fsentry"
	"github.com/spf13/afero"
)

// large enough to amortize syscalls, small enough that huge dirs don't balloon memory
const readdirBatchSize = 256

// lazy listing of one directory. order is whatever the OS gives us.
type ChildIterator struct {
	provider    *Provider
	dirReal     string
	dirProvider string
	dir         afero.File
	batch       []os.FileInfo
	exhausted   bool
	err         error
}

var _ fsentry.Iterator = (*ChildIterator)(nil)

// not restartable. to re-enumerate, call again.
func (p *Provider) EnumerateChildren(dirPath string) (*ChildIterator, error) {
	dirPath = filepath.Clean(dirPath)

	providerPath, err := p.mapper.ToProviderPath(dirPath)
	if err != nil {
		return nil, err
	}

	dir, err := p.fs.Open(providerPath)
	if err != nil {
		return nil, classify(dirPath, err)
	}

	return &ChildIterator{
		provider:    p,
		dirReal:     dirPath,
		dirProvider: providerPath,
		dir:         dir,
	}, nil
}

func (c *ChildIterator) Next() (fsentry.FileEntry, bool) {
	for len(c.batch) == 0 {
		if c.exhausted {
			return fsentry.FileEntry{}, false
		}

		batch, err := c.dir.Readdir(readdirBatchSize)
		if err != nil {
			c.exhausted = true

			if !errors.Is(err, io.EOF) {
				c.err = classify(c.dirReal, err)
			}
		}

		c.batch = batch
	}

	info := c.batch[0]
	c.batch = c.batch[1:]

	return c.provider.entryFromInfo(
		filepath.Join(c.dirReal, info.Name()),
		filepath.Join(c.dirProvider, info.Name()),
		info), true
}

func (c *ChildIterator) Err() error {
	return c.err
}

func (c *ChildIterator) Close() error {
	return c.dir.Close()
}
