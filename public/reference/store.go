// Package reference implements the keyed, expiring reference store spec
// §4.2 describes: a broker-resident key-value cache addressed by
// `reference:<element>:<uuid>`, with an optional server-side-scripted path
// for snapshotting one stream entry (the latest by default) into one
// reference per field without round-tripping the data through the caller.
package reference

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/envelope/codec"
)

//go:embed stream_to_ref.lua
var streamToRefSource string

// Store is a reference store scoped to one owning element. Every key it
// touches is prefixed "reference:<element>:".
type Store struct {
	b       broker.Broker
	element string
	codec   codec.Codec

	scriptSHA string
}

// New returns a Store for element, loading the stream-to-reference script
// onto the broker so CreateFromStream can invoke it by SHA. Loading the
// script is part of construction, not lazy, so the first CreateFromStream
// call never pays a surprise round trip.
func New(ctx context.Context, b broker.Broker, element string) (*Store, error) {
	sha, err := b.ScriptLoad(ctx, streamToRefSource)
	if err != nil {
		return nil, fmt.Errorf("reference: load stream_to_ref script: %w", err)
	}
	return &Store{b: b, element: element, codec: codec.Default(), scriptSHA: sha}, nil
}

func (s *Store) key(id string) string {
	return fmt.Sprintf("reference:%s:%s", s.element, id)
}

// resolveCodec looks up the codec named name, falling back to the store's
// default (msgpack) when name is "". Create and Get both take a codec name
// through this, so columnar/identity are reachable per call (spec §4.1).
// CreateFromStream does not: it copies a stream entry's raw field bytes
// verbatim, with no re-encoding step to select a codec for.
func (s *Store) resolveCodec(name string) (codec.Codec, error) {
	if name == "" {
		return s.codec, nil
	}
	return codec.Resolve(name)
}

// Create stores data under a newly generated reference id, with ttl (0 =
// no expiry), and returns that id. codecName selects the body codec ("" is
// the store's default, msgpack); Get must be called with the same codec
// name to read it back.
func (s *Store) Create(ctx context.Context, data map[string]interface{}, ttl time.Duration, codecName string) (string, error) {
	c, err := s.resolveCodec(codecName)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	buf, err := c.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("reference: marshal: %w", err)
	}
	ok, err := s.b.SetNX(ctx, s.key(id), buf, ttl)
	if err != nil {
		return "", fmt.Errorf("reference: create: %w", err)
	}
	if !ok {
		// uuid collision is astronomically unlikely; treat it as a broker
		// state problem rather than retrying silently.
		return "", broker.ErrKeyExists
	}
	return id, nil
}

// CreateFromStream snapshots one entry of streamName (an element-owned data
// stream, e.g. "stream:<element>:<name>") into one reference per field of
// that entry, atomically on the broker side, and returns a map of field
// name to the reference id holding that field's raw value. entryID selects
// which entry to snapshot; "" selects the stream's most recent entry.
// Fetch a field's value with GetValue(ctx, ids["field"]).
func (s *Store) CreateFromStream(ctx context.Context, streamName, entryID string, ttl time.Duration) (map[string]string, error) {
	base := s.key(uuid.NewString())
	res, err := s.b.EvalSHA(ctx, s.scriptSHA, []string{streamName}, entryID, base, ttl.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("reference: create from stream: %w", err)
	}
	pairs, err := toStringSlice(res)
	if err != nil {
		return nil, fmt.Errorf("reference: create from stream: %w", err)
	}
	if len(pairs) == 0 {
		if entryID == "" {
			return nil, fmt.Errorf("reference: stream %q has no entries", streamName)
		}
		return nil, fmt.Errorf("reference: stream %q has no entry %q", streamName, entryID)
	}
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("reference: create from stream: script returned odd-length field/key list")
	}

	prefix := s.key("")
	out := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		field, key := pairs[i], pairs[i+1]
		out[field] = strings.TrimPrefix(key, prefix)
	}
	return out, nil
}

func toStringSlice(v interface{}) ([]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script result type %T", v)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := asString(item)
		if !ok {
			return nil, fmt.Errorf("unexpected script result element type %T", item)
		}
		out[i] = s
	}
	return out, nil
}

func asString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}

// Get performs a pipelined multi-get of ids using codecName to decode each
// value ("" is the store's default, msgpack). The result always has one
// entry per requested id: ids with no live reference (absent or expired)
// map to (nil, false); live ones map to (data, true). This lets callers
// tell "absent" apart from "never asked about."
func (s *Store) Get(ctx context.Context, codecName string, ids ...string) (map[string]GetResult, error) {
	c, err := s.resolveCodec(codecName)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	keyToID := make(map[string]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
		keyToID[keys[i]] = id
	}

	raw, err := s.b.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("reference: get: %w", err)
	}

	out := make(map[string]GetResult, len(ids))
	for _, id := range ids {
		out[id] = GetResult{Found: false}
	}
	for key, buf := range raw {
		data, err := c.Unmarshal(buf)
		if err != nil {
			return nil, fmt.Errorf("reference: unmarshal %s: %w", key, err)
		}
		out[keyToID[key]] = GetResult{Data: data, Found: true}
	}
	return out, nil
}

// GetValue fetches the single raw value stored at id, without decoding it.
// It is meant for reading the per-field references CreateFromStream
// produces, whose values are a stream entry's raw field bytes rather than
// a codec-encoded map.
func (s *Store) GetValue(ctx context.Context, id string) ([]byte, error) {
	raw, err := s.b.MGet(ctx, s.key(id))
	if err != nil {
		return nil, fmt.Errorf("reference: get_value: %w", err)
	}
	buf, ok := raw[s.key(id)]
	if !ok {
		return nil, broker.ErrNotFound
	}
	return buf, nil
}

// GetResult is one entry of Get's result: Found reports whether id had a
// live reference, distinguishing "absent" from "never requested" (spec
// §4.2).
type GetResult struct {
	Data  map[string]interface{}
	Found bool
}

// UpdateTTL sets id's expiry to ttl, or removes it entirely if ttl<=0.
func (s *Store) UpdateTTL(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return s.b.Persist(ctx, s.key(id))
	}
	return s.b.PExpire(ctx, s.key(id), ttl)
}

// GetTTL returns id's remaining ttl, -1 if it has none, or ErrNotFound.
func (s *Store) GetTTL(ctx context.Context, id string) (time.Duration, error) {
	return s.b.PTTL(ctx, s.key(id))
}

// Delete removes the named references, returning ErrNotFound if any was
// already absent.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	return s.b.Unlink(ctx, keys...)
}
