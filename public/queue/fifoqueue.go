package queue

import (
	"context"
	"time"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/metrics"
)

// FIFOQueue is a PriorityQueue specialized to monotonic-clock priorities:
// oldest is most important, and pruning drops the newest item on overflow
// (spec §4.8). The score is the broker's wall clock, seconds plus a
// fractional microsecond component, so insertion order survives even
// across process restarts.
type FIFOQueue struct {
	core *priorityQueueCore
	b    broker.Broker
}

// NewFIFOQueue constructs a FIFO queue named name for element.
func NewFIFOQueue(ctx context.Context, b broker.Broker, sink metrics.Sink, name, element string, maxLen int64) (*FIFOQueue, error) {
	core, err := newCore(ctx, b, sink, "fifo", name, element, maxLen, false)
	if err != nil {
		return nil, err
	}
	return &FIFOQueue{core: core, b: b}, nil
}

func clockScore(sec, usec int64) float64 {
	return float64(sec) + float64(usec)/1e6
}

// Put inserts item, scored by the broker's current clock unless override
// is non-nil (a caller-supplied timestamp, used to preserve strict FIFO
// ordering under scheduling jitter). codecName selects the body codec (""
// selects the queue's default, msgpack).
func (q *FIFOQueue) Put(ctx context.Context, item map[string]interface{}, prune bool, override *float64, codecName string) (newSize int64, pruned []map[string]interface{}, err error) {
	enc, err := q.core.resolveCodec(codecName)
	if err != nil {
		return 0, nil, err
	}
	prio := 0.0
	if override != nil {
		prio = *override
	} else {
		sec, usec, err := q.b.Time(ctx)
		if err != nil {
			return 0, nil, err
		}
		prio = clockScore(sec, usec)
	}
	return q.core.put(ctx, item, prio, prune, enc)
}

// Get pops the oldest item. block waits up to timeout (0 means forever).
func (q *FIFOQueue) Get(ctx context.Context, block bool, timeout time.Duration, codecName string) (item map[string]interface{}, ok bool, err error) {
	dec, err := q.core.resolveCodec(codecName)
	if err != nil {
		return nil, false, err
	}
	return q.core.get(ctx, block, timeout, dec)
}

// GetN pops up to n oldest items, never blocking.
func (q *FIFOQueue) GetN(ctx context.Context, n int64, codecName string) ([]map[string]interface{}, error) {
	dec, err := q.core.resolveCodec(codecName)
	if err != nil {
		return nil, err
	}
	return q.core.getN(ctx, n, dec)
}

// PeekN returns up to n oldest items without consuming them.
func (q *FIFOQueue) PeekN(ctx context.Context, n int64, codecName string) ([]map[string]interface{}, error) {
	dec, err := q.core.resolveCodec(codecName)
	if err != nil {
		return nil, err
	}
	return q.core.peekN(ctx, n, dec)
}

// Size returns the current element count.
func (q *FIFOQueue) Size(ctx context.Context) (int64, error) {
	return q.core.size(ctx)
}

// Finish deletes the backing collection.
func (q *FIFOQueue) Finish(ctx context.Context) error {
	return q.core.finish(ctx)
}
