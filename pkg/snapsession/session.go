package snapsession

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/function61/snapview/pkg/fsentry"
	"github.com/function61/snapview/pkg/fsmetadata"
	"github.com/function61/snapview/pkg/fssnapshot"
	"github.com/function61/snapview/pkg/pathmapper"
	"github.com/function61/snapview/pkg/snapprovider"
	"github.com/samber/lo"
)

// Session is one open consistent view over a set of roots. Only the opener owns it.
// Operations take real paths. After Close() (explicit, or by provider failure) every
// operation fails with ErrSessionClosed.
type Session struct {
	id      string
	roots   []string
	manager *Manager
	// creation order. released in reverse
	providers []*snapprovider.Provider

	// ops hold read lock, close holds write lock
	mu     sync.RWMutex
	closed bool
	// why we closed ourselves. nil if closed by owner
	closeCause error

	handlesMu  sync.Mutex
	handles    map[int]sessionHandle
	nextHandle int
}

func (s *Session) ID() string {
	return s.id
}

// roots that made it into the session, as absolute paths
func (s *Session) Roots() []string {
	return append([]string{}, s.roots...)
}

func (s *Session) Snapshots() []fssnapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Map(s.providers, func(provider *snapprovider.Provider, _ int) fssnapshot.Snapshot {
		return provider.Snapshot()
	})
}

func (s *Session) KindFor(path string) (fssnapshot.Kind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	provider, err := s.providerFor(path)
	if err != nil {
		return "", err
	}

	return provider.Kind(), nil
}

func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.closed
}

// non-nil if the session closed itself due to an unrecoverable provider error
func (s *Session) CloseCause() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.closeCause
}

// releases every provider, even if some fail. failures are returned as joined
// *ResourceReleaseFailure errors. second call is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.releaseResources()
}

func (s *Session) closeWithCause(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.manager.log.Error.Printf("session %s: closing due to provider failure: %v", s.id, cause)

	s.closed = true
	s.closeCause = cause

	if err := s.releaseResources(); err != nil {
		s.manager.log.Error.Printf("session %s: %v", s.id, err)
	}
}

// caller holds write lock (or is the sole owner, as in Open())
func (s *Session) releaseResources() error {
	s.handlesMu.Lock()
	handles := s.handles
	s.handles = map[int]sessionHandle{}
	s.handlesMu.Unlock()

	for _, handle := range handles {
		handle.forceClose()
	}

	releaseErrs := []error{}
	for _, provider := range lo.Reverse(append([]*snapprovider.Provider{}, s.providers...)) {
		if err := s.manager.release(s.id, provider.Snapshot()); err != nil {
			releaseErrs = append(releaseErrs, err)
		}
	}

	s.providers = nil

	if s.manager.isLive(s.id) {
		s.manager.untrackLive(s)
		s.manager.metrics.sessionClosed()
	}

	return errors.Join(releaseErrs...)
}

func (s *Session) Stat(path string) (fsentry.FileEntry, error) {
	return withProvider(s, path, func(provider *snapprovider.Provider) (fsentry.FileEntry, error) {
		return provider.Stat(path)
	})
}

// seekable stream of the file's content. caller closes. closing the session closes it too.
func (s *Session) OpenForRead(filePath string) (io.ReadSeekCloser, error) {
	return withProvider(s, filePath, func(provider *snapprovider.Provider) (io.ReadSeekCloser, error) {
		file, err := provider.OpenForRead(filePath)
		if err != nil {
			return nil, err
		}

		tracked := &trackedStream{file: file, session: s}
		tracked.handle = s.track(tracked)
		return tracked, nil
	})
}

// children of dirPath, unsorted. closing the session closes the iterator too.
func (s *Session) EnumerateChildren(dirPath string) (fsentry.Iterator, error) {
	return withProvider(s, dirPath, func(provider *snapprovider.Provider) (fsentry.Iterator, error) {
		children, err := provider.EnumerateChildren(dirPath)
		if err != nil {
			return nil, err
		}

		tracked := &trackedIterator{iter: children, provider: provider, session: s}
		tracked.handle = s.track(tracked)
		return tracked, nil
	})
}

func (s *Session) Size(filePath string) (int64, error) {
	return withProvider(s, filePath, func(provider *snapprovider.Provider) (int64, error) {
		return provider.Size(filePath)
	})
}

func (s *Session) LastWriteTime(filePath string) (time.Time, error) {
	return withProvider(s, filePath, func(provider *snapprovider.Provider) (time.Time, error) {
		return provider.LastWriteTime(filePath)
	})
}

// "" when not a symlink
func (s *Session) SymlinkTarget(filePath string) (string, error) {
	return withProvider(s, filePath, func(provider *snapprovider.Provider) (string, error) {
		target, _, err := provider.SymlinkTarget(filePath)
		return target, err
	})
}

func (s *Session) Attributes(filePath string) (fsentry.Attributes, error) {
	return withProvider(s, filePath, func(provider *snapprovider.Provider) (fsentry.Attributes, error) {
		return provider.Attributes(filePath)
	})
}

func (s *Session) Metadata(filePath string) (fsmetadata.Result, error) {
	return withProvider(s, filePath, func(provider *snapprovider.Provider) (fsmetadata.Result, error) {
		return provider.Metadata(filePath)
	})
}

func (s *Session) IsBlockDevice(filePath string) (bool, error) {
	return withProvider(s, filePath, func(provider *snapprovider.Provider) (bool, error) {
		return provider.IsBlockDevice(filePath)
	})
}

// runs op under the read lock against the provider owning path. if op fails in a way
// that could mean the whole snapshot went away, checks provider health and closes the
// session when it's gone.
func withProvider[T any](s *Session, path string, op func(*snapprovider.Provider) (T, error)) (T, error) {
	var zero T

	s.mu.RLock()

	if s.closed {
		s.mu.RUnlock()
		return zero, s.closedError()
	}

	provider, err := s.providerFor(path)
	if err != nil {
		s.mu.RUnlock()
		return zero, err
	}

	result, err := op(provider)

	s.mu.RUnlock()

	if err != nil {
		if healthErr := s.checkHealth(provider, err); healthErr != nil {
			return zero, healthErr
		}

		return zero, err
	}

	return result, nil
}

// non-nil if opErr was caused by the provider itself being gone
func (s *Session) checkHealth(provider *snapprovider.Provider, opErr error) error {
	if !errors.Is(opErr, snapprovider.ErrNotFound) && !errors.Is(opErr, snapprovider.ErrIO) {
		return nil
	}

	healthErr := provider.Healthy()
	if healthErr == nil {
		return nil
	}

	s.closeWithCause(healthErr)

	return fmt.Errorf("%w: %w", ErrSessionClosed, healthErr)
}

func (s *Session) closedError() error {
	if s.closeCause != nil {
		return fmt.Errorf("%w: %w", ErrSessionClosed, s.closeCause)
	}

	return ErrSessionClosed
}

// innermost root wins when roots nest across volumes
func (s *Session) providerFor(path string) (*snapprovider.Provider, error) {
	var best *snapprovider.Provider
	bestRoot := ""

	for _, provider := range s.providers {
		root, found := provider.Mapper().RootFor(path)
		if found && len(root) > len(bestRoot) {
			best = provider
			bestRoot = root
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: %s", pathmapper.ErrOutOfScope, path)
	}

	return best, nil
}

func (s *Session) track(handle sessionHandle) int {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()

	s.nextHandle++
	s.handles[s.nextHandle] = handle
	return s.nextHandle
}

func (s *Session) untrack(handle int) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()

	delete(s.handles, handle)
}

// streams & iterators handed out by a session
type sessionHandle interface {
	// session is closing: close without calling back into the session
	forceClose()
}

type trackedStream struct {
	file    io.ReadSeekCloser
	session *Session
	handle  int

	mu              sync.Mutex
	closed          bool
	closedBySession bool
}

func (t *trackedStream) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, t.closedError()
	}

	return t.file.Read(p)
}

func (t *trackedStream) Seek(offset int64, whence int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, t.closedError()
	}

	return t.file.Seek(offset, whence)
}

func (t *trackedStream) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	t.session.untrack(t.handle)

	return t.file.Close()
}

func (t *trackedStream) forceClose() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.closed = true
	t.closedBySession = true
	_ = t.file.Close()
}

func (t *trackedStream) closedError() error {
	if t.closedBySession {
		return ErrSessionClosed
	}

	return fs.ErrClosed
}

type trackedIterator struct {
	iter     fsentry.Iterator
	provider *snapprovider.Provider
	session  *Session
	handle   int

	mu     sync.Mutex
	closed bool
	err    error
}

var _ fsentry.Iterator = (*trackedIterator)(nil)

func (t *trackedIterator) Next() (fsentry.FileEntry, bool) {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return fsentry.FileEntry{}, false
	}

	entry, ok := t.iter.Next()
	var iterErr error
	if !ok {
		iterErr = t.iter.Err()
	}

	t.mu.Unlock()

	// outside our lock, because closing the session force-closes us
	if iterErr != nil {
		if healthErr := t.session.checkHealth(t.provider, iterErr); healthErr != nil {
			iterErr = healthErr
		}

		t.mu.Lock()
		t.err = iterErr
		t.mu.Unlock()
	}

	return entry, ok
}

func (t *trackedIterator) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return t.err
	}

	return t.iter.Err()
}

func (t *trackedIterator) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	t.session.untrack(t.handle)

	return t.iter.Close()
}

func (t *trackedIterator) forceClose() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.closed = true
	if t.err == nil {
		t.err = ErrSessionClosed
	}
	_ = t.iter.Close()
}
