package element

import (
	"context"
	"fmt"

	"github.com/fatash89/atom/internal/envelope/codec"
)

// Publish implements entry_write (spec §4.3): it appends one entry to
// stream:<element>:<stream>, capped at maxlen (0 uses the element's
// configured default), and records stream in this element's owned-stream
// set. If serialize, each field value is encoded individually with the
// body codec named codecName ("" selects the element's default, msgpack);
// fields already []byte pass through unchanged when serialize is false. The
// caller's fields map is never mutated.
func (e *Element) Publish(ctx context.Context, stream string, fields map[string]interface{}, maxlen int64, serialize bool, codecName string) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("element: stream name must not be empty")
	}
	if maxlen <= 0 {
		maxlen = e.cfg.StreamMaxLen
	}

	c, err := e.resolveCodec(codecName)
	if err != nil {
		return "", fmt.Errorf("element: entry_write: %w", err)
	}

	encoded := make(map[string][]byte, len(fields))
	for k, v := range fields {
		if serialize {
			b, err := codec.EncodeValue(c, v)
			if err != nil {
				return "", fmt.Errorf("element: encode field %q: %w", k, err)
			}
			encoded[k] = b
			continue
		}
		b, ok := v.([]byte)
		if !ok {
			return "", fmt.Errorf("element: field %q must be []byte when serialize=false, got %T", k, v)
		}
		encoded[k] = b
	}

	key := streamKey(e.Name, stream)
	id, err := e.b.Append(ctx, key, encoded, maxlen)
	if err != nil {
		return "", fmt.Errorf("element: entry_write %s: %w", key, err)
	}

	e.ownedMu.Lock()
	e.ownedStreams[stream] = struct{}{}
	e.ownedMu.Unlock()

	return string(id), nil
}
