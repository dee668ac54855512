package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatash89/atom/internal/brokertest"
	"github.com/fatash89/atom/internal/metrics"
)

func TestPriorityQueuePutGetOrder(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()
	q, err := NewPriorityQueue(ctx, fake, metrics.NoopSink{}, "jobs", "scheduler", 10, false)
	require.NoError(t, err)

	_, _, err = q.Put(ctx, map[string]interface{}{"name": "low"}, 5, false, "")
	require.NoError(t, err)
	_, _, err = q.Put(ctx, map[string]interface{}{"name": "high"}, 1, false, "")
	require.NoError(t, err)

	item, ok, err := q.Get(ctx, false, 0, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high", item["name"])
}

func TestPriorityQueuePrune(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()
	q, err := NewPriorityQueue(ctx, fake, metrics.NoopSink{}, "bounded", "scheduler", 2, false)
	require.NoError(t, err)

	for i, prio := range []float64{1, 2, 3} {
		_, pruned, err := q.Put(ctx, map[string]interface{}{"i": int64(i)}, prio, true, "")
		require.NoError(t, err)
		if prio == 3 {
			require.Len(t, pruned, 1)
		}
	}

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func TestPriorityQueueGetEmpty(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()
	q, err := NewPriorityQueue(ctx, fake, metrics.NoopSink{}, "empty", "scheduler", 10, false)
	require.NoError(t, err)

	_, ok, err := q.Get(ctx, false, 0, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFIFOQueueOrder(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()
	q, err := NewFIFOQueue(ctx, fake, metrics.NoopSink{}, "pipeline", "worker", 10)
	require.NoError(t, err)

	first := 100.0
	second := 200.0
	_, _, err = q.Put(ctx, map[string]interface{}{"name": "first"}, false, &first, "")
	require.NoError(t, err)
	_, _, err = q.Put(ctx, map[string]interface{}{"name": "second"}, false, &second, "")
	require.NoError(t, err)

	item, ok, err := q.Get(ctx, false, 0, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", item["name"])
}

func TestFIFOQueuePruneDropsNewest(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()
	q, err := NewFIFOQueue(ctx, fake, metrics.NoopSink{}, "bounded-fifo", "worker", 1)
	require.NoError(t, err)

	older := 1.0
	newer := 2.0
	_, _, err = q.Put(ctx, map[string]interface{}{"name": "older"}, false, &older, "")
	require.NoError(t, err)
	_, pruned, err := q.Put(ctx, map[string]interface{}{"name": "newer"}, true, &newer, "")
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.Equal(t, "newer", pruned[0]["name"])

	item, ok, err := q.Get(ctx, false, 0, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "older", item["name"])
}

func TestPeekNDoesNotConsume(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()
	q, err := NewPriorityQueue(ctx, fake, metrics.NoopSink{}, "peekable", "scheduler", 10, false)
	require.NoError(t, err)

	_, _, err = q.Put(ctx, map[string]interface{}{"name": "a"}, 1, false, "")
	require.NoError(t, err)

	peeked, err := q.PeekN(ctx, 5, "")
	require.NoError(t, err)
	require.Len(t, peeked, 1)

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestFinishDeletesCollection(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()
	q, err := NewPriorityQueue(ctx, fake, metrics.NoopSink{}, "finishable", "scheduler", 10, false)
	require.NoError(t, err)

	_, _, err = q.Put(ctx, map[string]interface{}{"name": "a"}, 1, false, "")
	require.NoError(t, err)
	require.NoError(t, q.Finish(ctx))

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestPriorityQueueWithColumnarCodec(t *testing.T) {
	fake := brokertest.New()
	ctx := context.Background()
	q, err := NewPriorityQueue(ctx, fake, metrics.NoopSink{}, "columnar-jobs", "scheduler", 10, false)
	require.NoError(t, err)

	_, _, err = q.Put(ctx, map[string]interface{}{"name": "a"}, 1, false, "columnar")
	require.NoError(t, err)
	_, _, err = q.Put(ctx, map[string]interface{}{"name": "b"}, 2, false, "columnar")
	require.NoError(t, err)

	peeked, err := q.PeekN(ctx, 10, "columnar")
	require.NoError(t, err)
	require.Len(t, peeked, 2)
	assert.Equal(t, "a", peeked[0]["name"])

	items, err := q.GetN(ctx, 10, "columnar")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0]["name"])
}
