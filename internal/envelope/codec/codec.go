// Package codec packs envelope data maps into the flat []byte field values
// stream entries and key-value records are actually stored as, and unpacks
// them again. Handlers pick a codec per stream/command by name; the zero
// value of the registry defaults to msgpack.
package codec

import "fmt"

// Codec packs a Go value (always a map[string]interface{} in this module)
// into bytes and back.
type Codec interface {
	Name() string
	Marshal(v map[string]interface{}) ([]byte, error)
	Unmarshal(data []byte) (map[string]interface{}, error)
}

var registry = map[string]Codec{}

func register(c Codec) { registry[c.Name()] = c }

// Get looks up a codec by name.
func Get(name string) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	return c, nil
}

// Default is the compact binary map codec (msgpack), used whenever a caller
// does not name one explicitly.
func Default() Codec { return registry["msgpack"] }

// Resolve looks up the codec named name, treating "" as a request for the
// default codec. Every per-operation codec selector in this module (element
// publish/read/send, queue put/get, reference create) goes through Resolve
// so "" keeps meaning "use the default" uniformly.
func Resolve(name string) (Codec, error) {
	if name == "" {
		return Default(), nil
	}
	return Get(name)
}

func init() {
	register(identityCodec{})
	register(msgpackCodec{})
	register(columnarCodec{})
}
