package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrDecode wraps every payload decoding failure. A decode failure only ever
// affects the frame it happened in.
var ErrDecode = errors.New("Failed to decode payload")

// Codec turns payload values into bytes and back.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// MsgpackCodec is the default payload codec.
//
// Generic values are decoded loosely: integers come back as int64 or uint64,
// floats as float64, arrays as []interface{} and maps as map[string]interface{}.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return nil
}

var _ Codec = MsgpackCodec{}
