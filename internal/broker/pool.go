package broker

import (
	"context"
	"fmt"
)

// Pool is a bounded queue of pipelined transaction handles, acquired and
// released around each multi-step broker operation (spec §5, "Shared-resource
// policy"). A Handle is whatever the concrete broker implementation needs to
// pipeline several calls; Broker implementations that have no notion of a
// handle (e.g. the in-memory fake) can use Pool with Handle = struct{}{}.
type Pool[H any] struct {
	handles chan H
}

// NewPool creates a pool pre-filled with size handles, each produced by new.
func NewPool[H any](size int, newHandle func() (H, error)) (*Pool[H], error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool[H]{handles: make(chan H, size)}
	for i := 0; i < size; i++ {
		h, err := newHandle()
		if err != nil {
			return nil, fmt.Errorf("broker: pool init: %w", err)
		}
		p.handles <- h
	}
	return p, nil
}

// With acquires a handle, runs fn, and guarantees the handle is returned to
// the pool on every exit path, including a panic (which is re-raised after
// release).
func (p *Pool[H]) With(ctx context.Context, fn func(h H) error) (err error) {
	var h H
	select {
	case h = <-p.handles:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		p.handles <- h
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	err = fn(h)
	return err
}

// Len reports the number of handles currently idle in the pool.
func (p *Pool[H]) Len() int { return len(p.handles) }
