package leaselock

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
)

// Keys are always taken in sorted order so that two callers locking
// overlapping sets cannot deadlock.

// KeyedLocker implements store.Locker with one lease per node uid, so
// several processes sharing a database serialize on the same uids.
type KeyedLocker struct {
	client *Client
	opts   Options
	prefix string
}

var _ store.Locker = (*KeyedLocker)(nil)

// Locker returns a store.Locker whose lease keys are prefix + uid. Waiting
// for held keys is always enabled.
func (c *Client) Locker(prefix string, opts Options) *KeyedLocker {
	opts.Wait = true
	return &KeyedLocker{client: c, opts: opts, prefix: prefix}
}

func (k *KeyedLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = common.NormalizeUIDs(keys)
	leases := make([]*Lease, 0, len(keys))
	release := func() {
		for i := len(leases) - 1; i >= 0; i-- {
			if err := leases[i].Release(context.Background()); err != nil {
				logger.Warn("[LeaseLock] Failed to release lease", "key", leases[i].Key, "err", err)
			}
		}
	}
	for _, key := range keys {
		l, err := k.client.Acquire(ctx, k.prefix+key, k.opts)
		if err != nil {
			release()
			return nil, err
		}
		leases = append(leases, l)
	}
	return release, nil
}

// Local implements store.Locker with in-process mutexes. Waiting honours
// context cancellation. The zero value is ready to use.
type Local struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	held chan struct{}
	refs int
}

var _ store.Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = common.NormalizeUIDs(keys)
	taken := make([]string, 0, len(keys))
	release := func() {
		for i := len(taken) - 1; i >= 0; i-- {
			l.release(taken[i])
		}
	}
	for _, key := range keys {
		if err := l.acquire(ctx, key); err != nil {
			release()
			return nil, err
		}
		taken = append(taken, key)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*keyLock)
	}
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{held: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.held <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.unref(key, kl)
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *Local) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	<-kl.held
	l.unref(key, kl)
}

func (l *Local) unref(key string, kl *keyLock) {
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys have holders or waiters.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
