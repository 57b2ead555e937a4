// Opens snapshot sessions over a set of roots and guarantees their teardown
package snapsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"

	"github.com/function61/gokit/cryptorandombytes"
	"github.com/function61/gokit/logex"
	"github.com/function61/snapview/pkg/fsmetadata"
	"github.com/function61/snapview/pkg/fssnapshot"
	"github.com/function61/snapview/pkg/mutexmap"
	"github.com/function61/snapview/pkg/pathmapper"
	"github.com/function61/snapview/pkg/snapprovider"
	"github.com/function61/snapview/pkg/snapregistry"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

type ManagerOptions struct {
	Snapshotter fssnapshot.Snapshotter    // nil = pass-through only
	Volumes     fssnapshot.VolumeResolver // nil = platform's resolver
	Registry    *snapregistry.Registry    // nil = snapshots not recorded for orphan cleanup
	Metrics     *Metrics                  // nil = no metrics
	Fs          afero.Fs                  // nil = OS filesystem
	Logger      *log.Logger
}

type Manager struct {
	snapshotter fssnapshot.Snapshotter
	passThrough fssnapshot.Snapshotter
	volumes     fssnapshot.VolumeResolver
	registry    *snapregistry.Registry
	metrics     *Metrics
	fs          afero.Fs
	log         *logex.Leveled
	// one snapshot creation per volume at a time. sessions still own separate snapshots
	volumeLocks *mutexmap.M

	liveMu sync.Mutex
	live   map[string]*Session
}

func NewManager(opts ManagerOptions) *Manager {
	passThrough := fssnapshot.NullSnapshotter()

	snapshotter := opts.Snapshotter
	if snapshotter == nil {
		snapshotter = passThrough
	}

	volumes := opts.Volumes
	if volumes == nil {
		volumes = fssnapshot.PlatformVolumeResolver()
	}

	filesystem := opts.Fs
	if filesystem == nil {
		filesystem = afero.NewOsFs()
	}

	return &Manager{
		snapshotter: snapshotter,
		passThrough: passThrough,
		volumes:     volumes,
		registry:    opts.Registry,
		metrics:     opts.Metrics,
		fs:          filesystem,
		log:         logex.Levels(logex.NonNil(opts.Logger)),
		volumeLocks: mutexmap.New(),
		live:        map[string]*Session{},
	}
}

// roots on the same volume share one snapshot. error can be *PartialRootFailure together
// with a non-nil session, in which case the caller owns (and must close) the session.
func (m *Manager) Open(ctx context.Context, roots []string, conf Config) (*Session, error) {
	roots, err := normalizeRoots(roots)
	if err != nil {
		return nil, err
	}

	succeeded := []string{}
	failed := map[string]error{}

	for _, root := range roots {
		if err := m.checkRoot(root); err != nil {
			m.log.Error.Printf("root %s unusable: %v", root, err)
			m.metrics.rootFailed()
			failed[root] = err
			continue
		}

		succeeded = append(succeeded, root)
	}

	var partialFailure *PartialRootFailure
	if len(failed) > 0 {
		partialFailure = &PartialRootFailure{
			Succeeded: succeeded,
			Failed:    failed,
		}

		if len(succeeded) == 0 {
			return nil, errors.Join(ErrProviderUnavailable, partialFailure)
		}

		if conf.RequireAllRoots {
			return nil, partialFailure
		}
	}

	session := &Session{
		id:      "sess-" + cryptorandombytes.Hex(4),
		roots:   succeeded,
		manager: m,
		handles: map[int]sessionHandle{},
	}

	completedSuccesfully := false

	defer func() {
		if !completedSuccesfully { // release what we managed to acquire
			if err := session.releaseResources(); err != nil {
				m.log.Error.Printf("open %s aborted, cleanup: %v", session.id, err)
			}
		}
	}()

	for _, group := range m.groupByVolume(succeeded) {
		provider, err := m.providerFor(ctx, session.id, group, conf)
		if err != nil {
			return nil, err
		}

		session.providers = append(session.providers, provider)
	}

	m.trackLive(session)
	m.metrics.sessionOpened()

	completedSuccesfully = true

	if partialFailure != nil {
		return session, partialFailure
	}

	return session, nil
}

// same as session.Close()
func (m *Manager) Close(session *Session) error {
	return session.Close()
}

type volumeGroup struct {
	volume fssnapshot.Volume
	// volume could not be resolved. only pass-through is possible
	unresolved bool
	roots      []string
}

// in order of first appearance
func (m *Manager) groupByVolume(roots []string) []volumeGroup {
	groups := []volumeGroup{}

	for _, root := range roots {
		volume, err := m.volumes.VolumeFor(root)
		if err != nil {
			m.log.Error.Printf("resolving volume of %s: %v (using pass-through)", root, err)

			groups = append(groups, volumeGroup{
				volume:     fssnapshot.Volume{MountPoint: root},
				unresolved: true,
				roots:      []string{root},
			})
			continue
		}

		_, idx, found := lo.FindIndexOf(groups, func(group volumeGroup) bool {
			return !group.unresolved && group.volume.MountPoint == volume.MountPoint
		})
		if found {
			groups[idx].roots = append(groups[idx].roots, root)
		} else {
			groups = append(groups, volumeGroup{
				volume: *volume,
				roots:  []string{root},
			})
		}
	}

	return groups
}

func (m *Manager) providerFor(
	ctx context.Context,
	sessionID string,
	group volumeGroup,
	conf Config,
) (*snapprovider.Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if conf.Mode != ModePassThrough && !group.unresolved && m.snapshotter.Kind() != fssnapshot.KindPassThrough {
		if m.snapshotter.IsSupported(group.volume) {
			provider, err := m.snapshotProvider(ctx, sessionID, group, conf)
			if err == nil {
				return provider, nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil { // no point falling back if we're cancelled
				return nil, ctxErr
			}

			m.log.Error.Printf(
				"%s snapshot of %s failed, falling back to pass-through: %v",
				m.snapshotter.Kind(),
				group.volume.MountPoint,
				err)
			m.metrics.fellBack()
		} else {
			m.log.Debug.Printf("%s not supported for %s (%s)", m.snapshotter.Kind(), group.volume.MountPoint, group.volume.Device)
		}
	}

	snapshot, err := m.passThrough.Snapshot(ctx, group.volume)
	if err != nil {
		return nil, err
	}

	m.metrics.providerCreated(snapshot.Kind)

	return snapprovider.New(
		*snapshot,
		pathmapper.Identity(group.roots),
		m.fs,
		metadataExtractor(conf),
	), nil
}

func (m *Manager) snapshotProvider(
	ctx context.Context,
	sessionID string,
	group volumeGroup,
	conf Config,
) (*snapprovider.Provider, error) {
	snapshot, err := m.takeSnapshot(ctx, sessionID, group.volume, conf)
	if err != nil {
		return nil, err
	}

	mapper, err := pathmapper.New(group.volume.MountPoint, snapshot.SnapshotRootMountPath, group.roots)
	if err != nil {
		return nil, errors.Join(err, m.release(sessionID, *snapshot))
	}

	m.log.Info.Printf(
		"session %s: %s snapshot %s of %s at %s",
		sessionID,
		snapshot.Kind,
		snapshot.ID,
		group.volume.MountPoint,
		snapshot.SnapshotRootMountPath)
	m.metrics.providerCreated(snapshot.Kind)

	return snapprovider.New(*snapshot, mapper, m.fs, metadataExtractor(conf)), nil
}

// snapshot is in the registry when this returns without error
func (m *Manager) takeSnapshot(
	ctx context.Context,
	sessionID string,
	volume fssnapshot.Volume,
	conf Config,
) (*fssnapshot.Snapshot, error) {
	unlock, free := m.volumeLocks.TryLock(volume.MountPoint)
	if !free {
		m.log.Debug.Printf("waiting for another session's snapshot of %s", volume.MountPoint)

		var err error
		unlock, err = m.volumeLocks.Lock(ctx, volume.MountPoint)
		if err != nil {
			return nil, err
		}
	}
	defer unlock()

	if conf.SnapshotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.SnapshotTimeout)
		defer cancel()
	}

	snapshot, err := m.snapshotter.Snapshot(ctx, volume)
	if err != nil {
		return nil, err
	}

	if m.registry != nil {
		if err := m.registry.Record(sessionID, *snapshot); err != nil {
			// can't guarantee cleanup after a crash => don't use it
			return nil, errors.Join(
				fmt.Errorf("recording snapshot: %w", err),
				m.snapshotter.Release(*snapshot))
		}
	}

	return snapshot, nil
}

// releases snapshot & forgets it from the registry. on failure the registry entry is kept
func (m *Manager) release(sessionID string, snapshot fssnapshot.Snapshot) error {
	if snapshot.Kind == fssnapshot.KindPassThrough {
		return nil
	}

	if snapshot.Kind != m.snapshotter.Kind() {
		return m.releaseFailed(sessionID, snapshot, fmt.Errorf("no snapshotter for kind %s", snapshot.Kind))
	}

	if err := m.snapshotter.Release(snapshot); err != nil {
		return m.releaseFailed(sessionID, snapshot, err)
	}

	if m.registry != nil {
		if err := m.registry.Forget(sessionID, snapshot.ID); err != nil {
			// released fine, so worst case is a spurious orphan report
			m.log.Error.Printf("forgetting released snapshot %s: %v", snapshot.ID, err)
		}
	}

	return nil
}

func (m *Manager) releaseFailed(sessionID string, snapshot fssnapshot.Snapshot, err error) error {
	m.log.Error.Printf("session %s: release of snapshot %s failed: %v", sessionID, snapshot.ID, err)
	m.metrics.releaseFailed()

	return &ResourceReleaseFailure{
		SessionID: sessionID,
		Snapshot:  snapshot,
		Err:       err,
	}
}

func (m *Manager) checkRoot(root string) error {
	info, err := m.fs.Stat(root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	dir, err := m.fs.Open(root)
	if err != nil {
		return err
	}
	defer dir.Close()

	if _, err := dir.Readdirnames(1); err != nil && err != io.EOF {
		return err
	}

	return nil
}

func (m *Manager) trackLive(session *Session) {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()

	m.live[session.id] = session
}

func (m *Manager) untrackLive(session *Session) {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()

	delete(m.live, session.id)
}

func (m *Manager) isLive(sessionID string) bool {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()

	_, live := m.live[sessionID]
	return live
}

func metadataExtractor(conf Config) *fsmetadata.Extractor {
	if conf.SkipXattrs {
		return fsmetadata.NewWithoutXattrs()
	}

	return fsmetadata.New()
}

// absolute, clean, deduplicated, in the order given
func normalizeRoots(roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no roots given", ErrProviderUnavailable)
	}

	normalized := []string{}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}

		normalized = append(normalized, abs)
	}

	return lo.Uniq(normalized), nil
}
