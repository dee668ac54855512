// Package queue implements the two queue flavors spec §4.8 describes:
// PriorityQueue, a broker-backed sorted collection addressed by a caller
// chosen float priority, and FIFOQueue, the same structure specialized to
// monotonic-clock priorities. Both share one implementation
// (priorityQueueCore); FIFOQueue only fixes the scoring rule.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/envelope/codec"
	"github.com/fatash89/atom/internal/metrics"
)

// EmptyMarker is what Get returns (as its ok value) when a non-blocking or
// timed-out pop finds nothing, per spec §4.8 ("non-blocking returns an
// empty marker if empty").
var EmptyMarker = false

func keyFor(name string) string { return "atom-prio-queue-" + name }

type priorityQueueCore struct {
	key     string
	element string
	maxLen  int64

	// highestIsMostImportant selects which end of the score range Get pops
	// from: true pops the highest score first, false (the default) pops
	// the lowest score first.
	highestIsMostImportant bool

	b      broker.Broker
	codec  codec.Codec
	sink   metrics.Sink
	prefix string // metrics key prefix, e.g. "queue:priority:<name>" or "queue:fifo:<name>"
}

func newCore(ctx context.Context, b broker.Broker, sink metrics.Sink, kind, name, element string, maxLen int64, highestIsMostImportant bool) (*priorityQueueCore, error) {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	c := &priorityQueueCore{
		key:                    keyFor(name),
		element:                element,
		maxLen:                 maxLen,
		highestIsMostImportant: highestIsMostImportant,
		b:                      b,
		codec:                  codec.Default(),
		sink:                   sink,
		prefix:                 fmt.Sprintf("queue:%s:%s", kind, name),
	}
	// Constructor deletes any pre-existing backing collection under the
	// same queue key (spec §4.8).
	if err := b.DeleteKey(ctx, c.key); err != nil {
		return nil, fmt.Errorf("queue: reset %s: %w", c.key, err)
	}
	return c, nil
}

func (c *priorityQueueCore) metric(name string) string { return c.prefix + ":" + name }

// resolveCodec looks up the codec named name, falling back to core's
// default (msgpack) when name is "". Every Put/Get/GetN/PeekN on
// PriorityQueue and FIFOQueue takes a codec name through this, so
// columnar/identity are reachable per call rather than fixed at queue
// construction (spec §4.1).
func (c *priorityQueueCore) resolveCodec(name string) (codec.Codec, error) {
	if name == "" {
		return c.codec, nil
	}
	return codec.Resolve(name)
}

// put serializes item with enc, inserts it at prio, and if prune is set and
// the resulting size exceeds maxLen, repeatedly pops the least-important
// element (the end opposite Get) until size == maxLen. Returns the size
// right after insertion (before any pruning) and the decoded pruned items.
func (c *priorityQueueCore) put(ctx context.Context, item map[string]interface{}, prio float64, prune bool, enc codec.Codec) (int64, []map[string]interface{}, error) {
	start := time.Now()
	buf, err := enc.Marshal(item)
	if err != nil {
		return 0, nil, fmt.Errorf("queue: marshal item: %w", err)
	}

	size, err := c.b.ZAdd(ctx, c.key, buf, prio)
	if err != nil {
		return 0, nil, fmt.Errorf("queue: put: %w", err)
	}
	c.sink.Inc(c.metric("put"), 1)
	c.sink.Set(c.metric("size"), float64(size))
	c.sink.Set(c.metric("put_priority"), prio)
	c.sink.Set(c.metric("put_ms"), float64(time.Since(start).Milliseconds()))

	var pruned []map[string]interface{}
	if prune && c.maxLen > 0 && size > c.maxLen {
		overflow := size - c.maxLen
		items, err := c.popLeastImportantN(ctx, overflow, enc)
		if err != nil {
			return size, nil, fmt.Errorf("queue: prune: %w", err)
		}
		pruned = items
		c.sink.Inc(c.metric("pruned"), float64(len(items)))
	}
	return size, pruned, nil
}

func (c *priorityQueueCore) popLeastImportantN(ctx context.Context, n int64, dec codec.Codec) ([]map[string]interface{}, error) {
	var scored []broker.ScoredItem
	var err error
	if c.highestIsMostImportant {
		scored, err = c.b.ZPopMinN(ctx, c.key, n)
	} else {
		scored, err = c.b.ZPopMaxN(ctx, c.key, n)
	}
	if err != nil {
		return nil, err
	}
	return c.decodeAll(scored, dec)
}

func (c *priorityQueueCore) decodeAll(scored []broker.ScoredItem, dec codec.Codec) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(scored))
	for _, s := range scored {
		m, err := dec.Unmarshal(s.Member)
		if err != nil {
			return nil, fmt.Errorf("queue: decode item: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// get pops the most-important item: blocking waits up to timeout
// (0 = infinite) for one to appear; non-blocking returns ok=false
// immediately if the queue is empty.
func (c *priorityQueueCore) get(ctx context.Context, block bool, timeout time.Duration, dec codec.Codec) (map[string]interface{}, bool, error) {
	start := time.Now()
	var item broker.ScoredItem
	var ok bool
	var err error
	if c.highestIsMostImportant {
		item, ok, err = c.b.ZPopMax(ctx, c.key, block, timeout)
	} else {
		item, ok, err = c.b.ZPopMin(ctx, c.key, block, timeout)
	}
	if err != nil {
		return nil, false, fmt.Errorf("queue: get: %w", err)
	}
	c.sink.Inc(c.metric("get"), 1)
	c.sink.Set(c.metric("get_ms"), float64(time.Since(start).Milliseconds()))
	if !ok {
		c.sink.Inc(c.metric("get_empty"), 1)
		return nil, false, nil
	}
	c.sink.Inc(c.metric("get_data"), 1)
	c.sink.Set(c.metric("get_priority"), item.Score)

	m, err := dec.Unmarshal(item.Member)
	if err != nil {
		return nil, false, fmt.Errorf("queue: decode item: %w", err)
	}
	return m, true, nil
}

// getN pops up to n most-important items, never blocking.
func (c *priorityQueueCore) getN(ctx context.Context, n int64, dec codec.Codec) ([]map[string]interface{}, error) {
	var scored []broker.ScoredItem
	var err error
	if c.highestIsMostImportant {
		scored, err = c.b.ZPopMaxN(ctx, c.key, n)
	} else {
		scored, err = c.b.ZPopMinN(ctx, c.key, n)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get_n: %w", err)
	}
	c.sink.Inc(c.metric("get"), float64(len(scored)))
	c.sink.Inc(c.metric("get_data"), float64(len(scored)))
	return c.decodeAll(scored, dec)
}

// peekN returns up to n items in priority order without consuming them.
func (c *priorityQueueCore) peekN(ctx context.Context, n int64, dec codec.Codec) ([]map[string]interface{}, error) {
	var scored []broker.ScoredItem
	var err error
	if c.highestIsMostImportant {
		scored, err = c.b.ZPeekMax(ctx, c.key, n)
	} else {
		scored, err = c.b.ZPeekMin(ctx, c.key, n)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: peek_n: %w", err)
	}
	return c.decodeAll(scored, dec)
}

func (c *priorityQueueCore) size(ctx context.Context) (int64, error) {
	n, err := c.b.ZCard(ctx, c.key)
	if err != nil {
		return 0, fmt.Errorf("queue: size: %w", err)
	}
	c.sink.Set(c.metric("size"), float64(n))
	return n, nil
}

func (c *priorityQueueCore) finish(ctx context.Context) error {
	return c.b.DeleteKey(ctx, c.key)
}
