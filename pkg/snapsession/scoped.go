package snapsession

import (
	"context"
	"errors"
)

// opens a session, runs fn and closes the session on every exit path: normal return,
// error, ctx cancellation observed by fn, and panic (re-panicked after release).
//
// a *PartialRootFailure from Open() is not fatal here unless conf.RequireAllRoots.
func WithSession(
	ctx context.Context,
	manager *Manager,
	roots []string,
	conf Config,
	fn func(ctx context.Context, session *Session) error,
) (err error) {
	session, openErr := manager.Open(ctx, roots, conf)
	if session == nil {
		return openErr
	}

	defer func() {
		panicked := recover()

		closeErr := session.Close()

		if panicked != nil {
			if closeErr != nil {
				manager.log.Error.Printf("session %s closed after panic: %v", session.ID(), closeErr)
			}

			panic(panicked)
		}

		err = errors.Join(err, closeErr)
	}()

	if openErr != nil {
		manager.log.Error.Printf("session %s: continuing with subset: %v", session.ID(), openErr)
	}

	return fn(ctx, session)
}
