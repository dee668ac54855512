package element

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatash89/atom/internal/brokertest"
	"github.com/fatash89/atom/internal/config"
)

func newTestElement(t *testing.T, name string, fake *brokertest.Fake) *Element {
	t.Helper()
	cfg := config.Defaults()
	cfg.AckTimeoutMS = 500
	cfg.ResponseTimeoutMS = 500
	e, err := New(context.Background(), name, "localhost", fake, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestPublishAndReadN(t *testing.T) {
	fake := brokertest.New()
	e := newTestElement(t, "producer", fake)
	ctx := context.Background()

	_, err := e.Publish(ctx, "events", map[string]interface{}{"kind": "tick"}, 0, true, "")
	require.NoError(t, err)
	_, err = e.Publish(ctx, "events", map[string]interface{}{"kind": "tock"}, 0, true, "")
	require.NoError(t, err)

	entries, err := e.ReadN(ctx, "producer", "events", 10, true, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "tock", entries[0].Fields["kind"])
	assert.Equal(t, "tick", entries[1].Fields["kind"])
}

func TestReadSinceFromBeginning(t *testing.T) {
	fake := brokertest.New()
	e := newTestElement(t, "producer", fake)
	ctx := context.Background()

	_, err := e.Publish(ctx, "events", map[string]interface{}{"kind": "tick"}, 0, true, "")
	require.NoError(t, err)

	entries, err := e.ReadSince(ctx, "producer", "events", "0", 10, nil, true, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tick", entries[0].Fields["kind"])
}

func TestCommandRoundTrip(t *testing.T) {
	fake := brokertest.New()
	server := newTestElement(t, "responder", fake)
	client := newTestElement(t, "caller", fake)

	err := server.Handle("double", func(data map[string]interface{}, kwargs map[string]interface{}) (*Result, error) {
		n, _ := data["n"].(int64)
		return &Result{Data: map[string]interface{}{"n": n * 2}}, nil
	}, true, 0, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	resp, err := client.Send(ctx, "responder", "double", map[string]interface{}{"n": int64(21)}, true, true, 2000, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0, int(resp.ErrCode))
	assert.Equal(t, int64(42), resp.Data["n"])
}

func TestCommandUnsupported(t *testing.T) {
	fake := brokertest.New()
	server := newTestElement(t, "responder2", fake)
	client := newTestElement(t, "caller2", fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	resp, err := client.Send(ctx, "responder2", "missing", nil, true, true, 2000, nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, 0, int(resp.ErrCode))
}

func TestPublishAndReadWithColumnarCodec(t *testing.T) {
	fake := brokertest.New()
	e := newTestElement(t, "producer2", fake)
	ctx := context.Background()

	_, err := e.Publish(ctx, "events", map[string]interface{}{"kind": "tick"}, 0, true, "columnar")
	require.NoError(t, err)

	entries, err := e.ReadN(ctx, "producer2", "events", 1, true, "columnar")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tick", entries[0].Fields["kind"])
}

func TestCommandRoundTripWithColumnarCodec(t *testing.T) {
	fake := brokertest.New()
	server := newTestElement(t, "responder4", fake)
	client := newTestElement(t, "caller4", fake)

	err := server.Handle("double", func(data map[string]interface{}, kwargs map[string]interface{}) (*Result, error) {
		n, _ := data["n"].(int64)
		return &Result{Data: map[string]interface{}{"n": n * 2}}, nil
	}, true, 0, "columnar")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	resp, err := client.Send(ctx, "responder4", "double", map[string]interface{}{"n": int64(21)}, true, true, 2000, nil, "columnar")
	require.NoError(t, err)
	assert.Equal(t, 0, int(resp.ErrCode))
	assert.Equal(t, int64(42), resp.Data["n"])
}

func TestVersionAndHealthcheck(t *testing.T) {
	fake := brokertest.New()
	server := newTestElement(t, "responder3", fake)
	client := newTestElement(t, "caller3", fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	v, err := client.GetElementVersion(ctx, "responder3")
	require.NoError(t, err)
	assert.Equal(t, ModuleVersion, v)

	require.NoError(t, client.WaitForElementsHealthy(ctx, []string{"responder3"}, 50*time.Millisecond, 0, true))
}
