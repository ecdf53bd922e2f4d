// Package resilience wraps a store.Backend with retries and a circuit
// breaker. Transport failures are retried with backoff and counted by the
// breaker; once it opens, calls fail fast with store.ErrBackendUnavailable
// until the breaker lets a probe through.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/kgstore/internal/util"
	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/sony/gobreaker"
)

// Options configures Wrap.
type Options struct {
	Name string
	// Retries is the number of attempts per call, including the first.
	Retries int
	Backoff util.Backoff
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// Interval clears the failure counts while closed. Zero never clears.
	Interval         time.Duration
	MinRequests      uint32
	FailureThreshold float64
	// HalfOpenRequests is how many probes run while half-open.
	HalfOpenRequests uint32
}

// DefaultOptions returns the settings used by the services.
func DefaultOptions(name string) Options {
	return Options{
		Name:             name,
		Retries:          3,
		Backoff:          util.Backoff{Base: 50 * time.Millisecond, Max: time.Second, Jitter: 25 * time.Millisecond},
		Timeout:          30 * time.Second,
		Interval:         time.Minute,
		MinRequests:      5,
		FailureThreshold: 0.6,
		HalfOpenRequests: 1,
	}
}

// Backend decorates another backend. It always implements the optional
// capabilities and reports errors.ErrUnsupported when the inner backend
// lacks one.
type Backend struct {
	inner   store.Backend
	opts    Options
	breaker *gobreaker.CircuitBreaker
}

var (
	_ store.Backend        = (*Backend)(nil)
	_ store.VectorSearcher = (*Backend)(nil)
	_ store.EdgeIndexer    = (*Backend)(nil)
)

// Wrap returns inner guarded by retries and a circuit breaker.
func Wrap(inner store.Backend, opts Options) *Backend {
	if opts.Name == "" {
		opts.Name = "store"
	}
	b := &Backend{inner: inner, opts: opts}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.HalfOpenRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < opts.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[Resilience] Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !transient(err)
		},
	})
	return b
}

// State reports the breaker state, for health checks.
func (b *Backend) State() gobreaker.State {
	return b.breaker.State()
}

// Unwrap returns the decorated backend.
func (b *Backend) Unwrap() store.Backend {
	return b.inner
}

// transient reports whether err looks like a transport failure worth
// retrying. Kind errors describe the data and would recur.
func transient(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrInvalidArgument),
		errors.Is(err, store.ErrInvalidReference),
		errors.Is(err, errors.ErrUnsupported),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func open(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// call runs fn through the breaker, retrying transient failures up to
// tries times.
func call[T any](ctx context.Context, b *Backend, tries int, fn func(context.Context) (T, error)) (T, error) {
	retryable := func(err error) bool {
		var stop stopRetry
		return transient(err) && !open(err) && !errors.As(err, &stop)
	}
	res, err := util.Do(ctx, b.opts.Backoff, tries, retryable, func(ctx context.Context) (T, error) {
		v, err := b.breaker.Execute(func() (any, error) {
			return fn(ctx)
		})
		if err != nil {
			var zero T
			return zero, err
		}
		return v.(T), nil
	})
	if open(err) {
		return res, store.Unavailable(err)
	}
	return res, err
}

func exec(ctx context.Context, b *Backend, fn func(context.Context) error) error {
	_, err := call(ctx, b, b.opts.Retries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// stopRetry carries a failure that still counts against the breaker but
// must not be retried.
type stopRetry struct{ err error }

func (s stopRetry) Error() string { return s.err.Error() }
func (s stopRetry) Unwrap() error { return s.err }

// scan retries only while fn has not seen a record, so callers never get
// duplicates.
func scan[T any](ctx context.Context, b *Backend, run func(context.Context, func(T) error) error, fn func(T) error) error {
	delivered := false
	_, err := call(ctx, b, b.opts.Retries, func(ctx context.Context) (struct{}, error) {
		err := run(ctx, func(v T) error {
			delivered = true
			return fn(v)
		})
		if err != nil && delivered {
			return struct{}{}, stopRetry{err}
		}
		return struct{}{}, err
	})
	var stop stopRetry
	if errors.As(err, &stop) {
		return stop.err
	}
	return err
}

func (b *Backend) GetNode(ctx context.Context, uid string) (common.Node, error) {
	return call(ctx, b, b.opts.Retries, func(ctx context.Context) (common.Node, error) {
		return b.inner.GetNode(ctx, uid)
	})
}

// InsertNode runs once: a retry after a lost acknowledgement would report
// ErrAlreadyExists for the caller's own write.
func (b *Backend) InsertNode(ctx context.Context, node common.Node) error {
	_, err := call(ctx, b, 1, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.inner.InsertNode(ctx, node)
	})
	return err
}

func (b *Backend) PutNode(ctx context.Context, node common.Node) error {
	return exec(ctx, b, func(ctx context.Context) error { return b.inner.PutNode(ctx, node) })
}

func (b *Backend) DeleteNode(ctx context.Context, uid string) error {
	return exec(ctx, b, func(ctx context.Context) error { return b.inner.DeleteNode(ctx, uid) })
}

func (b *Backend) NodeExists(ctx context.Context, uid string) (bool, error) {
	return call(ctx, b, b.opts.Retries, func(ctx context.Context) (bool, error) {
		return b.inner.NodeExists(ctx, uid)
	})
}

func (b *Backend) ScanNodes(ctx context.Context, fn func(common.Node) error) error {
	return scan(ctx, b, b.inner.ScanNodes, fn)
}

func (b *Backend) GetEdge(ctx context.Context, key string) (common.Edge, error) {
	return call(ctx, b, b.opts.Retries, func(ctx context.Context) (common.Edge, error) {
		return b.inner.GetEdge(ctx, key)
	})
}

func (b *Backend) PutEdge(ctx context.Context, edge common.Edge) error {
	return exec(ctx, b, func(ctx context.Context) error { return b.inner.PutEdge(ctx, edge) })
}

func (b *Backend) DeleteEdge(ctx context.Context, key string) error {
	return exec(ctx, b, func(ctx context.Context) error { return b.inner.DeleteEdge(ctx, key) })
}

func (b *Backend) EdgeExists(ctx context.Context, key string) (bool, error) {
	return call(ctx, b, b.opts.Retries, func(ctx context.Context) (bool, error) {
		return b.inner.EdgeExists(ctx, key)
	})
}

func (b *Backend) ScanEdges(ctx context.Context, fn func(common.Edge) error) error {
	return scan(ctx, b, b.inner.ScanEdges, fn)
}

func (b *Backend) GetCommunity(ctx context.Context, title string) (common.Community, error) {
	return call(ctx, b, b.opts.Retries, func(ctx context.Context) (common.Community, error) {
		return b.inner.GetCommunity(ctx, title)
	})
}

func (b *Backend) PutCommunity(ctx context.Context, c common.Community) error {
	return exec(ctx, b, func(ctx context.Context) error { return b.inner.PutCommunity(ctx, c) })
}

func (b *Backend) ScanCommunities(ctx context.Context, fn func(common.Community) error) error {
	return scan(ctx, b, b.inner.ScanCommunities, fn)
}

func (b *Backend) EdgesTouching(ctx context.Context, uid string) ([]common.Edge, error) {
	ix, ok := b.inner.(store.EdgeIndexer)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return call(ctx, b, b.opts.Retries, func(ctx context.Context) ([]common.Edge, error) {
		return ix.EdgesTouching(ctx, uid)
	})
}

func (b *Backend) NearestNodes(ctx context.Context, query []float32, k int, m store.DistanceMeasure) ([]store.Neighbor, error) {
	vs, ok := b.inner.(store.VectorSearcher)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return call(ctx, b, b.opts.Retries, func(ctx context.Context) ([]store.Neighbor, error) {
		return vs.NearestNodes(ctx, query, k, m)
	})
}

func (b *Backend) Flush(ctx context.Context) error {
	return exec(ctx, b, b.inner.Flush)
}

func (b *Backend) Close() error {
	return b.inner.Close()
}
