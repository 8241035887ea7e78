package hotwallet

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrLockLost = errors.New("wallet lock lease lost")

// Locker serializes nonce selection, signing and broadcast for one wallet.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context) (*Lease, error)
}

// Lease is a held wallet lock. Holders check Err before every step that must
// not run concurrently with another holder.
type Lease struct {
	release  func()
	lost     chan struct{}
	once     sync.Once
	lostOnce sync.Once
}

func newLease(release func()) *Lease {
	return &Lease{release: release, lost: make(chan struct{})}
}

// Unlock releases the lock. Calling it again is a no-op.
func (l *Lease) Unlock() {
	l.once.Do(l.release)
}

// Lost is closed once the lock can no longer be guaranteed.
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

// Err returns ErrLockLost after the lease was lost, nil while it is held.
func (l *Lease) Err() error {
	select {
	case <-l.lost:
		return ErrLockLost
	default:
		return nil
	}
}

func (l *Lease) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// MutexLocker is an in-process Locker that honours context cancellation.
type MutexLocker struct {
	sem chan struct{}
}

var _ Locker = (*MutexLocker)(nil)

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{sem: make(chan struct{}, 1)}
}

func (l *MutexLocker) Lock(ctx context.Context) (*Lease, error) {
	select {
	case l.sem <- struct{}{}:
		return newLease(func() { <-l.sem }), nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "failed to acquire wallet lock")
	}
}
