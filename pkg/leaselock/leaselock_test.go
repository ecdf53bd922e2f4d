package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.key
	return nil
}

// fakeDB keeps lock owners in memory and ignores expiry.
type fakeDB struct {
	mu     sync.Mutex
	owners map[string]string
	execs  []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{owners: make(map[string]string)}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	if sql == releaseSQL {
		key, token := args[0].(string), args[1].(string)
		if f.owners[key] == token {
			delete(f.owners, key)
		}
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	owner, held := f.owners[key]
	switch sql {
	case tryAcquireSQL:
		if held && owner != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		f.owners[key] = token
		return fakeRow{key: key}
	case renewSQL:
		if !held || owner != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{key: key}
	}
	return fakeRow{err: errors.New("unexpected query")}
}

func (f *fakeDB) held(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.owners[key]
	return ok
}

func TestAcquireBusyAndRelease(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	c := New(db)

	lease, err := c.Acquire(ctx, "node:a", Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := c.Acquire(ctx, "node:a", Options{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if lease.Context.Err() == nil {
		t.Fatalf("lease context not cancelled on release")
	}
	if db.held("node:a") {
		t.Fatalf("lock row survived release")
	}
	again, err := c.Acquire(ctx, "node:a", Options{})
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestAcquireWaitHonoursContext(t *testing.T) {
	db := newFakeDB()
	c := New(db)
	lease, err := c.Acquire(context.Background(), "k", Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx, "k", Options{Wait: true, WaitInterval: 5 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRenewDetectsLostLease(t *testing.T) {
	db := newFakeDB()
	c := New(db)
	lease, err := c.Acquire(context.Background(), "k", Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	db.mu.Lock()
	db.owners["k"] = "someone-else"
	db.mu.Unlock()

	if err := lease.renewOnce(1000); !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost, got %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	db := newFakeDB()
	if err := New(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0] != schemaSQL {
		t.Fatalf("expected schema statement, got %v", db.execs)
	}
}

func TestKeyedLockerReleasesAll(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	l := New(db).Locker("kg:", Options{WaitInterval: time.Millisecond})

	unlock, err := l.Lock(ctx, "b", "a", "b")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !db.held("kg:a") || !db.held("kg:b") {
		t.Fatalf("expected both keys leased")
	}
	unlock()
	if db.held("kg:a") || db.held("kg:b") {
		t.Fatalf("leases survived unlock")
	}
}

func TestLocalExcludes(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	var mu sync.Mutex
	active, peak := 0, 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "a", "b")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected exclusive access, peak holders %d", peak)
	}
	if n := l.size(); n != 0 {
		t.Fatalf("expected no lock entries left, got %d", n)
	}
}

func TestLocalDuplicateKeys(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "a", "a")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
	unlock()
	if n := l.size(); n != 0 {
		t.Fatalf("expected no lock entries left, got %d", n)
	}
}

func TestLocalCancelledWait(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// b is taken first and must be given back when a times out
	if _, err := l.Lock(ctx, "b", "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	unlock()
	if n := l.size(); n != 0 {
		t.Fatalf("expected no lock entries left, got %d", n)
	}
}
