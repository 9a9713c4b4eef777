// Package lock serialises current-attempt resolution per scope.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned when releasing a lock this holder no longer owns
// (for example after its TTL expired).
var ErrNotHeld = errors.New("lock not held")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker grants exclusive access to a key until the returned Unlock runs.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Local is an in-process Locker for single-node deployments and tests.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		err := ErrNotHeld
		once.Do(func() {
			<-ch
			err = nil
		})
		return err
	}, nil
}
