package fssnapshot

import (
	"context"
	"errors"
	"strings"
)

type fakeCommand struct {
	output string
	err    error
}

// records invocations & answers from a table keyed by command name
type fakeRunner struct {
	responses map[string]fakeCommand
	calls     []string
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))

	response, found := f.responses[name]
	if !found {
		return nil, errors.New("unexpected command: " + name)
	}

	return []byte(response.output), response.err
}

func (f *fakeRunner) called(prefix string) bool {
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}

	return false
}
