package reference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/brokertest"
)

func newTestStore(t *testing.T) (*Store, *brokertest.Fake) {
	t.Helper()
	fake := brokertest.New()
	s, err := New(context.Background(), fake, "widget-maker")
	require.NoError(t, err)
	return s, fake
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, map[string]interface{}{"status": "ready", "count": int64(3)}, 0, "")
	require.NoError(t, err)

	got, err := s.Get(ctx, "", id)
	require.NoError(t, err)
	require.Contains(t, got, id)
	assert.True(t, got[id].Found)
	assert.Equal(t, "ready", got[id].Data["status"])
}

func TestGetMarksAbsentExplicitly(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, map[string]interface{}{"a": int64(1)}, 0, "")
	require.NoError(t, err)

	got, err := s.Get(ctx, "", id, "does-not-exist")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[id].Found)
	assert.False(t, got["does-not-exist"].Found)
	assert.Nil(t, got["does-not-exist"].Data)
}

func TestCreateAndGetWithColumnarCodec(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, map[string]interface{}{"status": "ready"}, 0, "columnar")
	require.NoError(t, err)

	got, err := s.Get(ctx, "columnar", id)
	require.NoError(t, err)
	require.True(t, got[id].Found)
	assert.Equal(t, "ready", got[id].Data["status"])
}

func TestUpdateAndGetTTL(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, map[string]interface{}{"a": int64(1)}, 0, "")
	require.NoError(t, err)

	ttl, err := s.GetTTL(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	require.NoError(t, s.UpdateTTL(ctx, id, time.Hour))
	ttl, err = s.GetTTL(ctx, id)
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, map[string]interface{}{"a": int64(1)}, 0, "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	require.ErrorIs(t, s.Delete(ctx, id), broker.ErrNotFound)
}

func TestCreateFromStream(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	_, err := fake.Append(ctx, "stream:widget-maker:events", map[string][]byte{
		"kind": []byte("started"),
	}, 0)
	require.NoError(t, err)

	ids, err := s.CreateFromStream(ctx, "stream:widget-maker:events", "", time.Minute)
	require.NoError(t, err)
	require.Contains(t, ids, "kind")

	val, err := s.GetValue(ctx, ids["kind"])
	require.NoError(t, err)
	assert.Equal(t, "started", string(val))
}

func TestCreateFromStreamByEntryID(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	firstID, err := fake.Append(ctx, "stream:widget-maker:events", map[string][]byte{
		"kind": []byte("started"),
	}, 0)
	require.NoError(t, err)
	_, err = fake.Append(ctx, "stream:widget-maker:events", map[string][]byte{
		"kind": []byte("finished"),
	}, 0)
	require.NoError(t, err)

	ids, err := s.CreateFromStream(ctx, "stream:widget-maker:events", string(firstID), time.Minute)
	require.NoError(t, err)

	val, err := s.GetValue(ctx, ids["kind"])
	require.NoError(t, err)
	assert.Equal(t, "started", string(val))
}

func TestCreateFromStreamEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateFromStream(context.Background(), "stream:widget-maker:nothing", "", 0)
	require.Error(t, err)
}
