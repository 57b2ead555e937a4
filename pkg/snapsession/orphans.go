package snapsession

import (
	"context"
	"errors"

	"github.com/function61/snapview/pkg/snapregistry"
)

// registry records not owned by any live session of this manager, i.e. left behind by
// a previous run that didn't get to release them. logged as errors.
func (m *Manager) ReportOrphans() ([]snapregistry.Record, error) {
	if m.registry == nil {
		return nil, nil
	}

	records, err := m.registry.List()
	if err != nil {
		return nil, err
	}

	orphans := []snapregistry.Record{}
	for _, record := range records {
		if m.isLive(record.SessionID) {
			continue
		}

		m.log.Error.Printf(
			"orphaned %s snapshot %s of %s (session %s, created %s)",
			record.Snapshot.Kind,
			record.Snapshot.ID,
			record.Snapshot.Volume.MountPoint,
			record.SessionID,
			record.Snapshot.Created.Format("2006-01-02 15:04:05"))

		orphans = append(orphans, record)
	}

	return orphans, nil
}

// releases orphans. returns how many were released; failures are joined
// *ResourceReleaseFailure errors and stay in the registry.
func (m *Manager) CleanupOrphans(ctx context.Context) (int, error) {
	orphans, err := m.ReportOrphans()
	if err != nil {
		return 0, err
	}

	released := 0
	releaseErrs := []error{}

	for _, orphan := range orphans {
		if err := ctx.Err(); err != nil {
			releaseErrs = append(releaseErrs, err)
			break
		}

		if err := m.release(orphan.SessionID, orphan.Snapshot); err != nil {
			releaseErrs = append(releaseErrs, err)
			continue
		}

		m.log.Info.Printf("released orphaned snapshot %s", orphan.Snapshot.ID)
		released++
	}

	return released, errors.Join(releaseErrs...)
}
