package queue

import (
	"context"
	"time"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/metrics"
)

// PriorityQueue is a broker-backed sorted collection addressed by a
// caller-chosen float priority (spec §4.8). By default the lowest score is
// the most important (popped first); pass maxHighestPrio=true to invert
// that.
type PriorityQueue struct {
	core *priorityQueueCore
}

// NewPriorityQueue constructs a queue named name for element, deleting any
// pre-existing backing collection under the same key.
func NewPriorityQueue(ctx context.Context, b broker.Broker, sink metrics.Sink, name, element string, maxLen int64, maxHighestPrio bool) (*PriorityQueue, error) {
	core, err := newCore(ctx, b, sink, "priority", name, element, maxLen, maxHighestPrio)
	if err != nil {
		return nil, err
	}
	return &PriorityQueue{core: core}, nil
}

// Put inserts item at prio. If prune and the queue now exceeds its
// configured max length, the least-important items are popped until size
// is back at max length; those pruned items are returned decoded. codecName
// selects the body codec ("" selects the queue's default, msgpack); peers
// sharing this queue must agree on it out of band.
func (q *PriorityQueue) Put(ctx context.Context, item map[string]interface{}, prio float64, prune bool, codecName string) (newSize int64, pruned []map[string]interface{}, err error) {
	enc, err := q.core.resolveCodec(codecName)
	if err != nil {
		return 0, nil, err
	}
	return q.core.put(ctx, item, prio, prune, enc)
}

// Get pops the most-important item. block waits up to timeout (0 means
// forever) for one to appear; non-blocking (block=false) returns ok=false
// immediately if the queue is empty. codecName selects the body codec used
// to decode it ("" selects the default).
func (q *PriorityQueue) Get(ctx context.Context, block bool, timeout time.Duration, codecName string) (item map[string]interface{}, ok bool, err error) {
	dec, err := q.core.resolveCodec(codecName)
	if err != nil {
		return nil, false, err
	}
	return q.core.get(ctx, block, timeout, dec)
}

// GetN pops up to n most-important items, never blocking.
func (q *PriorityQueue) GetN(ctx context.Context, n int64, codecName string) ([]map[string]interface{}, error) {
	dec, err := q.core.resolveCodec(codecName)
	if err != nil {
		return nil, err
	}
	return q.core.getN(ctx, n, dec)
}

// PeekN returns up to n items in priority order without consuming them.
func (q *PriorityQueue) PeekN(ctx context.Context, n int64, codecName string) ([]map[string]interface{}, error) {
	dec, err := q.core.resolveCodec(codecName)
	if err != nil {
		return nil, err
	}
	return q.core.peekN(ctx, n, dec)
}

// Size returns the current element count.
func (q *PriorityQueue) Size(ctx context.Context) (int64, error) {
	return q.core.size(ctx)
}

// Finish deletes the backing collection.
func (q *PriorityQueue) Finish(ctx context.Context) error {
	return q.core.finish(ctx)
}
