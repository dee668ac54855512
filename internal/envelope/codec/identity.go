package codec

import "fmt"

// rawKey is the single key identityCodec looks for: a value that is already
// wire-ready bytes, bypassing any encoding step.
const rawKey = "_raw"

// identityCodec is the passthrough codec for payloads that arrive already
// as bytes (e.g. a handler forwarding an opaque blob it never inspects).
type identityCodec struct{}

func (identityCodec) Name() string { return "identity" }

func (identityCodec) Marshal(v map[string]interface{}) ([]byte, error) {
	raw, ok := v[rawKey]
	if !ok {
		return nil, fmt.Errorf("codec/identity: data must contain a %q []byte value", rawKey)
	}
	b, ok := raw.([]byte)
	if !ok {
		return nil, fmt.Errorf("codec/identity: %q value must be []byte, got %T", rawKey, raw)
	}
	return b, nil
}

func (identityCodec) Unmarshal(data []byte) (map[string]interface{}, error) {
	return map[string]interface{}{rawKey: data}, nil
}
