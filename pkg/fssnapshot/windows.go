package fssnapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/function61/gokit/logex"
)

// I wrote an overview of this process @ https://github.com/restic/restic/issues/340#issuecomment-442446540
// thanks for pointers: https://github.com/restic/restic/issues/340#issuecomment-307636386

func WindowsSnapshotter(logger *log.Logger) Snapshotter {
	return &windowsSnapshotter{
		run: runCommand,
		log: logex.Levels(logex.NonNil(logger)),
	}
}

type windowsSnapshotter struct {
	run commandRunner
	log *logex.Leveled
}

func (w *windowsSnapshotter) Kind() Kind {
	return KindShadowCopy
}

// VSS works on drive letters only (no mounted folders, no network shares)
func (w *windowsSnapshotter) IsSupported(volume Volume) bool {
	return len(volume.MountPoint) >= 2 && volume.MountPoint[1] == ':'
}

func (w *windowsSnapshotter) Snapshot(ctx context.Context, volume Volume) (*Snapshot, error) {
	completedSuccesfully := false

	driveLetter := driveLetterFromPath(volume.MountPoint)

	// Microsoft being the usual dick that M$FT is, they disable creating snapshots from
	// vssadmin on non-server OSs, therefore we must bypass the restriction by using wmic
	// instead. https://superuser.com/a/1125605/284803
	createSnapshotOutput, err := w.run(
		ctx,
		"wmic",
		"shadowcopy",
		"call",
		"create",
		fmt.Sprintf(`Volume="%s:\"`, driveLetter))
	if err != nil {
		return nil, fmt.Errorf(
			"error creating snapshot: %s, output: %s",
			err.Error(),
			createSnapshotOutput)
	}

	snapshotID := findSnapshotIDFromCreateOutput(string(createSnapshotOutput))
	if snapshotID == "" {
		return nil, fmt.Errorf("unable to find snapshot ID from create output")
	}

	defer func() {
		if completedSuccesfully {
			return
		}

		w.log.Info.Printf("cleaning snapshot %s", snapshotID)

		if err := w.deleteSnapshot(snapshotID); err != nil {
			w.log.Error.Printf("cleaning up snapshot: %v", err)
		}
	}()

	getSnapshotDetailsOutput, err := w.run(
		ctx,
		"vssadmin",
		"list",
		"shadows",
		"/Shadow="+snapshotID)
	if err != nil {
		return nil, fmt.Errorf(
			"unable to list snapshot details: %s, output: %s",
			err.Error(),
			getSnapshotDetailsOutput)
	}

	snapshotDeviceID := findSnapshotDeviceFromDetailsOutput(string(getSnapshotDetailsOutput))
	if snapshotDeviceID == "" {
		return nil, fmt.Errorf("unable to find device ID from list output")
	}

	snapshotRootMountPath := driveLetter + ":/snapshots/" + randomSnapID()

	if err := os.MkdirAll(filepath.Dir(snapshotRootMountPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to make parent dir for snapshot mount: %s", err.Error())
	}

	// Windows makes a distinction between file and directory symlinks. os.Symlink()
	// doesn't seem to support directory type links on Windows. additionally, "mklink" is
	// a cmd-builtin, so we must invoke cmd to run mklink. Windows + CLI = LOLOLOL.
	// https://twitter.com/joonas_fi/status/1067810155872563200
	mklinkOutput, err := w.run(
		ctx,
		"cmd",
		"/c",
		"mklink",
		"/D",
		windowsPath(snapshotRootMountPath),
		windowsPath(snapshotDeviceID+"/"))
	if err != nil {
		return nil, fmt.Errorf(
			"failed to make directory symlink: %s, output: %s",
			err.Error(),
			mklinkOutput)
	}

	completedSuccesfully = true // cancel cleanups

	w.log.Info.Printf("shadow copy %s of %s linked at %s", snapshotID, volume.MountPoint, snapshotRootMountPath)

	return &Snapshot{
		ID:                    snapshotID,
		Kind:                  KindShadowCopy,
		Volume:                volume,
		SnapshotRootMountPath: snapshotRootMountPath,
		Created:               time.Now(),
	}, nil
}

// link goes first: it points into the shadow volume and would dangle otherwise
func (w *windowsSnapshotter) Release(snap Snapshot) error {
	errs := []error{}

	if err := os.Remove(snap.SnapshotRootMountPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("unable to remove Snapshot SnapshotRootMountPath: %s", err.Error()))
	}

	if err := w.deleteSnapshot(snap.ID); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (w *windowsSnapshotter) deleteSnapshot(shadowID string) error {
	// cleanup must not be cut short by the canceled context that might've caused it
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	removeSnapshotOutput, err := w.run(
		ctx,
		"vssadmin",
		"delete",
		"shadows",
		"/Quiet",
		"/Shadow="+shadowID)
	if err != nil {
		return fmt.Errorf(
			"unable to remove Snapshot: %s, output: %s",
			err.Error(),
			removeSnapshotOutput)
	}

	return nil
}

// '/' => '\'
func windowsPath(in string) string {
	return strings.ReplaceAll(in, "/", `\`)
}

func driveLetterFromPath(path string) string {
	return path[0:1]
}

var findSnapshotDeviceFromDetailsOutputRe = regexp.MustCompile(`Shadow Copy Volume: (\S+)`)

func findSnapshotDeviceFromDetailsOutput(output string) string {
	match := findSnapshotDeviceFromDetailsOutputRe.FindStringSubmatch(output)
	if match == nil {
		return ""
	}

	return match[1]
}

var findSnapshotIDFromCreateOutputRe = regexp.MustCompile(`ShadowID = "([^ "]+)"`)

func findSnapshotIDFromCreateOutput(output string) string {
	match := findSnapshotIDFromCreateOutputRe.FindStringSubmatch(output)
	if match == nil {
		return ""
	}

	return match[1]
}
