package fssnapshot

import (
	"context"
	"os/exec"

	"github.com/function61/gokit/cryptorandombytes"
)

func randomSnapID() string {
	return "snap-" + cryptorandombytes.Hex(4)
}

// swappable in tests so we can exercise cleanup paths without lvcreate/vssadmin
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	//nolint:gosec // ok
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
