package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLeaseHeld is returned by TryLease when someone else owns the key.
var ErrLeaseHeld = errors.New("lease held by another owner")

// Leaser hands out exclusive leases that last until released. Unlike Lock,
// TryLease never waits.
type Leaser interface {
	TryLease(ctx context.Context, key string) (*Lease, error)
}

// Lease is exclusive ownership of a key. Its context is done once the lease
// is released, lost, or the parent context ends.
type Lease struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

func newLease(parent context.Context, release func()) *Lease {
	ctx, cancel := context.WithCancel(parent)
	return &Lease{ctx: ctx, cancel: cancel, release: release}
}

func (l *Lease) Context() context.Context {
	return l.ctx
}

// Release gives the key back. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cancel()
		l.release()
	})
}

// TryLease takes key if it is free in this process.
func (k *KeyedMutex) TryLease(ctx context.Context, key string) (*Lease, error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	default:
		k.release(key, s, false)
		return nil, ErrLeaseHeld
	}
	return newLease(ctx, func() { k.release(key, s, true) }), nil
}
