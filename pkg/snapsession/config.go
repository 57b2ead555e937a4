package snapsession

import (
	"time"
)

type Mode string

const (
	ModeAuto        Mode = "auto"        // platform snapshot if possible, pass-through otherwise
	ModePassThrough Mode = "passthrough" // never snapshot
)

func ParseMode(mode string) (Mode, bool) {
	switch Mode(mode) {
	case ModeAuto, ModePassThrough:
		return Mode(mode), true
	default:
		return "", false
	}
}

// per-Open() settings
type Config struct {
	Mode Mode
	// any unusable root fails the whole Open()
	RequireAllRoots bool
	// bounds one volume's snapshot creation. zero = no limit other than the ctx
	SnapshotTimeout time.Duration
	// extended attributes can be slow on network filesystems
	SkipXattrs bool
}

func DefaultConfig() Config {
	return Config{
		Mode:            ModeAuto,
		SnapshotTimeout: 2 * time.Minute,
	}
}
