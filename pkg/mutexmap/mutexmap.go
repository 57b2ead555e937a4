// Named locks: one holder per key at a time, unlimited number of keys
package mutexmap

import (
	"context"
	"sync"
)

// Think of this as an infinite number of named bathroom stalls. Each named stall can only
// be occupied by one person. Stalls exist only while occupied.
type M struct {
	// closed when the holder of the key releases it
	locks    map[string]chan struct{}
	masterMu sync.Mutex
}

func New() *M {
	return &M{
		locks: map[string]chan struct{}{},
	}
}

// blocks until key is ours or ctx is done. on success the returned func releases the key.
func (n *M) Lock(ctx context.Context, key string) (func(), error) {
	for {
		unlock, released := n.tryLockInternal(key)
		if unlock != nil {
			return unlock, nil
		}

		// not guaranteed to get it after release: someone else might be waiting too
		select {
		case <-released:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// false if already held by someone else
func (n *M) TryLock(key string) (func(), bool) {
	unlock, _ := n.tryLockInternal(key)
	return unlock, unlock != nil
}

// either unlock (we got it) or released (chan to wait on) is non-nil
func (n *M) tryLockInternal(key string) (func(), chan struct{}) {
	n.masterMu.Lock()
	defer n.masterMu.Unlock()

	if released, held := n.locks[key]; held {
		return nil, released
	}

	released := make(chan struct{})
	n.locks[key] = released

	var once sync.Once

	return func() {
		once.Do(func() {
			n.masterMu.Lock()
			defer n.masterMu.Unlock()

			delete(n.locks, key)
			close(released)
		})
	}, nil
}
