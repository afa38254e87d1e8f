// Package coalesce collapses concurrent cache-miss computations for the
// same key into a single in-flight call, using golang.org/x/sync/singleflight.
package coalesce

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group deduplicates concurrent calls keyed by cache key.
type Group struct {
	g singleflight.Group
}

// New returns an empty coalescing group.
func New() *Group {
	return &Group{}
}

// Result is what Do returns on success: the computed value and Shared,
// singleflight's flag that the value was handed to more than one caller.
// Do returns errors separately and does not set Waiters.
type Result struct {
	Value   interface{}
	Shared  bool
	Waiters int
}

// Do executes fn for key if no call is already in flight, otherwise waits
// for the in-flight call's result. ctx cancellation does not abort a call
// already in flight on behalf of other waiters; it only stops this caller
// from waiting past its own deadline.
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (Result, error) {
	done := make(chan Result, 1)
	errc := make(chan error, 1)

	go func() {
		v, err, shared := g.g.Do(key, func() (interface{}, error) {
			return fn(context.WithoutCancel(ctx))
		})
		if err != nil {
			errc <- err
			return
		}
		done <- Result{Value: v, Shared: shared}
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case err := <-errc:
		return Result{}, err
	case r := <-done:
		return r, nil
	}
}

// Forget releases any in-flight or cached call for key immediately, so a
// subsequent Do will execute fn again rather than rejoin a prior call.
func (g *Group) Forget(key string) {
	g.g.Forget(key)
}
