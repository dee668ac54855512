package codec

import "github.com/vmihailenco/msgpack/v5"

// msgpackCodec is the default "compact binary map" codec: a direct
// map[string]interface{} <-> msgpack round trip via vmihailenco/msgpack/v5,
// the same library cellorg and omni both pull in for this exact role.
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v map[string]interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
