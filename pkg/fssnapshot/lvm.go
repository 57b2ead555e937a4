//go:build linux

// must exclude from Windows build due to syscall.Mount(), syscall.Unmount()

package fssnapshot

// snapshots on Linux using LVM

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/function61/gokit/logex"
)

func LvmSnapshotter(snapshotSize string, mountBase string, logger *log.Logger) Snapshotter {
	return &lvmSnapshotter{
		snapshotSize: snapshotSize,
		mountBase:    mountBase,
		run:          runCommand,
		mount:        syscall.Mount,
		unmount:      syscall.Unmount,
		log:          logex.Levels(logex.NonNil(logger)),
	}
}

type lvmSnapshotter struct {
	snapshotSize string
	mountBase    string
	run          commandRunner
	mount        func(source string, target string, fstype string, flags uintptr, data string) error
	unmount      func(target string, flags int) error
	log          *logex.Leveled
}

func (l *lvmSnapshotter) Kind() Kind {
	return KindBlockLevel
}

// "/dev/vg/lv"
var lvDevicePathRe = regexp.MustCompile(`^/dev/[^/]+/[^/]+$`)

func (l *lvmSnapshotter) IsSupported(volume Volume) bool {
	return strings.HasPrefix(volume.Device, "/dev/mapper/") || lvDevicePathRe.MatchString(volume.Device)
}

func (l *lvmSnapshotter) Snapshot(ctx context.Context, volume Volume) (*Snapshot, error) {
	snapshotID := randomSnapID()

	lvcreateOutput, err := l.run(
		ctx,
		"lvcreate",
		"--snapshot",
		"--size", l.snapshotSize,
		"--name", snapshotID,
		volume.Device)
	if err != nil {
		if ctx.Err() != nil { // killed midway, LV might exist
			if err := l.deleteLvmSnapshot("", snapshotID); err != nil {
				l.log.Debug.Printf("lvremove after canceled lvcreate: %v", err)
			}
		}

		return nil, fmt.Errorf(
			"lvcreate failed: %s, output: %s",
			err.Error(),
			lvcreateOutput)
	}

	completedSuccesfully := false

	// we don't yet know the device path, but lvremove can find the LV by name
	snapshotDevicePath := ""

	defer func() {
		if completedSuccesfully {
			return
		}

		l.log.Info.Printf("cleaning up snapshot %s", snapshotID)

		if err := l.deleteLvmSnapshot(snapshotDevicePath, snapshotID); err != nil {
			l.log.Error.Printf("deleteLvmSnapshot: %v", err)
		}
	}()

	// we don't know the *device name* of the snapshot before using this command
	lvsOutput, err := l.run(
		ctx,
		"lvs",
		"--noheadings",
		"--options", "lv_name,lv_path")
	if err != nil {
		return nil, fmt.Errorf(
			"lvs failed: %s, output: %s",
			err.Error(),
			lvsOutput)
	}

	snapshotDevicePath = devicePathFromLvsOutput(snapshotID, lvsOutput)
	if snapshotDevicePath == "" {
		return nil, errors.New("failed to resolve snapshot path from lvs output")
	}

	snapshotMountPath := filepath.Join(l.mountBase, snapshotID)

	if err := os.MkdirAll(snapshotMountPath, 0700); err != nil {
		return nil, fmt.Errorf(
			"failed to make directory %s for snapshot: %s",
			snapshotMountPath,
			err.Error())
	}

	defer func() {
		if completedSuccesfully {
			return
		}

		l.log.Info.Printf("cleanup: deleting mount path")

		if err := deleteLvmSnapshotMountPath(snapshotMountPath); err != nil {
			l.log.Error.Printf("deleteLvmSnapshotMountPath: %v", err)
		}
	}()

	if err := l.mount(
		snapshotDevicePath,
		snapshotMountPath,
		volume.FsType,
		syscall.MS_RDONLY,
		mountOptionsFor(volume.FsType),
	); err != nil {
		return nil, fmt.Errorf("mounting snapshot failed: %s", err.Error())
	}

	completedSuccesfully = true // cancel cleanups

	l.log.Info.Printf("snapshot %s of %s mounted at %s", snapshotDevicePath, volume.MountPoint, snapshotMountPath)

	return &Snapshot{
		ID:                    snapshotDevicePath,
		Kind:                  KindBlockLevel,
		Volume:                volume,
		SnapshotRootMountPath: snapshotMountPath,
		Created:               time.Now(),
	}, nil
}

// every step is attempted even if an earlier one fails. a busy mount makes lvremove
// fail too, but the caller deserves to hear about both.
func (l *lvmSnapshotter) Release(snapshot Snapshot) error {
	errs := []error{}

	if err := l.unmount(snapshot.SnapshotRootMountPath, 0); err != nil && !errors.Is(err, syscall.EINVAL) {
		// EINVAL = not mounted (e.g. previous release got this far already)
		errs = append(errs, fmt.Errorf("unmounting snapshot failed: %s", err.Error()))
	}

	if err := deleteLvmSnapshotMountPath(snapshot.SnapshotRootMountPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}

	if err := l.deleteLvmSnapshot(snapshot.ID, ""); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func deleteLvmSnapshotMountPath(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove snapshotMountPath: %w", err)
	}

	return nil
}

// prefers device path, falls back to selecting by LV name
func (l *lvmSnapshotter) deleteLvmSnapshot(snapshotPath string, name string) error {
	// cleanup must not be cut short by the canceled context that might've caused it
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	args := []string{"--force", snapshotPath}
	if snapshotPath == "" {
		args = []string{"--force", "--select", "lv_name=" + name}
	}

	removeOutput, err := l.run(ctx, "lvremove", args...)
	if err != nil {
		return fmt.Errorf(
			"lvremove for %s failed: %s, output: %s",
			strings.Join(args[1:], " "),
			err.Error(),
			removeOutput)
	}

	return nil
}

// XFS refuses to mount a snapshot alongside its origin because they share the UUID
func mountOptionsFor(fsType string) string {
	if fsType == "xfs" {
		return "nouuid"
	}

	return ""
}

// see test for output example
var devicePathFromLvsOutputRe = regexp.MustCompile("^  ([^ ]+) +(.+)")

func devicePathFromLvsOutput(name string, output []byte) string {
	scanner := bufio.NewScanner(bytes.NewBuffer(output))
	for scanner.Scan() {
		matches := devicePathFromLvsOutputRe.FindStringSubmatch(scanner.Text())
		if matches == nil {
			continue
		}

		if matches[1] == name {
			return strings.TrimSpace(matches[2])
		}
	}
	if err := scanner.Err(); err != nil {
		return ""
	}

	return ""
}
