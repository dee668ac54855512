package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"
)

// columnarCodec is the field-oriented bulk codec: it encodes a
// map[string]interface{} as a flatbuffers vector of (key, type, bytes)
// triples instead of a single nested msgpack blob, so same-shaped records
// (element publish/read, command send, queue put/get, reference
// create/get) can be decoded field-by-field without unpacking the whole
// map, when a caller selects "columnar" for that operation. It uses the
// flatbuffers builder directly rather than a generated schema, since the
// value shape (an arbitrary Go map) isn't known at schema-compile time.
type columnarCodec struct{}

func (columnarCodec) Name() string { return "columnar" }

const (
	vtString byte = iota
	vtInt64
	vtFloat64
	vtBool
	vtBytes
	vtNull
)

func encodeScalar(v interface{}) (byte, []byte, error) {
	switch t := v.(type) {
	case nil:
		return vtNull, nil, nil
	case string:
		return vtString, []byte(t), nil
	case []byte:
		return vtBytes, t, nil
	case bool:
		if t {
			return vtBool, []byte{1}, nil
		}
		return vtBool, []byte{0}, nil
	case int64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(t))
		return vtInt64, b, nil
	case int:
		return encodeScalar(int64(t))
	case float64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(t))
		return vtFloat64, b, nil
	default:
		return 0, nil, fmt.Errorf("codec/columnar: unsupported value type %T", v)
	}
}

func decodeScalar(vtype byte, b []byte) (interface{}, error) {
	switch vtype {
	case vtNull:
		return nil, nil
	case vtString:
		return string(b), nil
	case vtBytes:
		return append([]byte(nil), b...), nil
	case vtBool:
		return len(b) > 0 && b[0] != 0, nil
	case vtInt64:
		if len(b) != 8 {
			return nil, fmt.Errorf("codec/columnar: malformed int64 field")
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case vtFloat64:
		if len(b) != 8 {
			return nil, fmt.Errorf("codec/columnar: malformed float64 field")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return nil, fmt.Errorf("codec/columnar: unknown field type %d", vtype)
	}
}

func (columnarCodec) Marshal(v map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := flatbuffers.NewBuilder(0)
	fieldOffsets := make([]flatbuffers.UOffsetT, 0, len(keys))
	for _, k := range keys {
		vtype, raw, err := encodeScalar(v[k])
		if err != nil {
			return nil, err
		}
		valOff := b.CreateByteVector(raw)
		keyOff := b.CreateString(k)

		b.StartObject(3)
		b.PrependUOffsetTSlot(0, keyOff, 0)
		b.PrependByteSlot(1, vtype, 0)
		b.PrependUOffsetTSlot(2, valOff, 0)
		fieldOffsets = append(fieldOffsets, b.EndObject())
	}

	b.StartVector(4, len(fieldOffsets), 4)
	for i := len(fieldOffsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(fieldOffsets[i])
	}
	vec := b.EndVector(len(fieldOffsets))

	b.StartObject(1)
	b.PrependUOffsetTSlot(0, vec, 0)
	root := b.EndObject()
	b.Finish(root)
	return b.FinishedBytes(), nil
}

func (columnarCodec) Unmarshal(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	n := flatbuffers.GetUOffsetT(data)
	root := &flatbuffers.Table{Bytes: data, Pos: n}

	out := map[string]interface{}{}
	fo := flatbuffers.UOffsetT(root.Offset(4))
	if fo == 0 {
		return out, nil
	}
	vecPos := root.Vector(fo)
	length := root.VectorLen(fo)

	for i := 0; i < length; i++ {
		elemPos := vecPos + flatbuffers.UOffsetT(i)*4
		elemPos = root.Indirect(elemPos)
		field := &flatbuffers.Table{Bytes: data, Pos: elemPos}

		var key string
		if ko := flatbuffers.UOffsetT(field.Offset(4)); ko != 0 {
			key = string(field.ByteVector(ko + field.Pos))
		}
		var vtype byte
		if vo := flatbuffers.UOffsetT(field.Offset(6)); vo != 0 {
			vtype = field.GetByte(vo + field.Pos)
		}
		var raw []byte
		if bo := flatbuffers.UOffsetT(field.Offset(8)); bo != 0 {
			raw = field.ByteVector(bo + field.Pos)
		}

		val, err := decodeScalar(vtype, raw)
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}
