package codec

import "fmt"

// EncodeValue encodes a single value with c, for callers that need one
// field at a time (entry_write's "encode each field value individually")
// rather than a whole map (Command/Response's single "data" blob). Every
// codec but identity wraps v in a one-key map under the hood; identity
// requires v already be []byte and returns it unchanged.
func EncodeValue(c Codec, v interface{}) ([]byte, error) {
	if c.Name() == "identity" {
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("codec: identity codec requires a []byte value, got %T", v)
		}
		return b, nil
	}
	return c.Marshal(map[string]interface{}{"v": v})
}

// DecodeValue reverses EncodeValue.
func DecodeValue(c Codec, data []byte) (interface{}, error) {
	if c.Name() == "identity" {
		return data, nil
	}
	m, err := c.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return m["v"], nil
}
