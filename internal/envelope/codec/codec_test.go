package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgpackRoundTrip(t *testing.T) {
	c, err := Get("msgpack")
	require.NoError(t, err)

	in := map[string]interface{}{"name": "widget", "count": int64(3)}
	buf, err := c.Marshal(in)
	require.NoError(t, err)

	out, err := c.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, "widget", out["name"])
}

func TestIdentityPassthrough(t *testing.T) {
	c, err := Get("identity")
	require.NoError(t, err)

	raw := []byte("opaque bytes")
	buf, err := c.Marshal(map[string]interface{}{"_raw": raw})
	require.NoError(t, err)
	assert.Equal(t, raw, buf)

	out, err := c.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, raw, out["_raw"])
}

func TestColumnarRoundTrip(t *testing.T) {
	c, err := Get("columnar")
	require.NoError(t, err)

	in := map[string]interface{}{
		"name":   "widget",
		"count":  int64(7),
		"weight": 1.5,
		"active": true,
	}
	buf, err := c.Marshal(in)
	require.NoError(t, err)

	out, err := c.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, "widget", out["name"])
	assert.Equal(t, int64(7), out["count"])
	assert.Equal(t, 1.5, out["weight"])
	assert.Equal(t, true, out["active"])
}

func TestEncodeDecodeValue(t *testing.T) {
	c := Default()
	buf, err := EncodeValue(c, "hello")
	require.NoError(t, err)

	v, err := DecodeValue(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestUnknownCodec(t *testing.T) {
	_, err := Get("nonexistent")
	assert.Error(t, err)
}
