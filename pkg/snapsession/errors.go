package snapsession

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/function61/snapview/pkg/fssnapshot"
)

var (
	// no root could be accessed at all, not even by reading the live filesystem
	ErrProviderUnavailable = errors.New("snapsession: no usable provider")
	ErrSessionClosed       = errors.New("snapsession: session closed")
)

// some (or all) requested roots were unusable. when at least one root succeeded, Open()
// returns this alongside a usable session so the caller can decide to go on with the subset.
type PartialRootFailure struct {
	Succeeded []string
	Failed    map[string]error
}

func (p *PartialRootFailure) Error() string {
	failedRoots := make([]string, 0, len(p.Failed))
	for root := range p.Failed {
		failedRoots = append(failedRoots, root)
	}
	sort.Strings(failedRoots)

	reasons := []string{}
	for _, root := range failedRoots {
		reasons = append(reasons, fmt.Sprintf("%s: %v", root, p.Failed[root]))
	}

	return fmt.Sprintf(
		"snapsession: %d of %d roots unusable: %s",
		len(p.Failed),
		len(p.Failed)+len(p.Succeeded),
		strings.Join(reasons, "; "))
}

// teardown of one OS snapshot resource failed. the resource is left in the cleanup
// registry, so it shows up as an orphan later.
type ResourceReleaseFailure struct {
	SessionID string
	Snapshot  fssnapshot.Snapshot
	Err       error
}

func (r *ResourceReleaseFailure) Error() string {
	return fmt.Sprintf(
		"snapsession: releasing %s snapshot %s of %s (session %s): %v",
		r.Snapshot.Kind,
		r.Snapshot.ID,
		r.Snapshot.Volume.MountPoint,
		r.SessionID,
		r.Err)
}

func (r *ResourceReleaseFailure) Unwrap() error {
	return r.Err
}
