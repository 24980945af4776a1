package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var ErrMalformedEnvelope = errors.New("Envelope is malformed")

// Call is the payload of REQUEST, NOTICE and REGISTER frames, encoded as the
// two element array [method, args].
type Call struct {
	Method string
	Args   []interface{}
}

// Reply is the payload of RESPONSE frames, encoded as the two element array
// [error, result]. An empty Error is sent as nil.
type Reply struct {
	Error  string
	Result interface{}
}

func (c *Call) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}

	if err := enc.EncodeString(c.Method); err != nil {
		return err
	}

	if err := enc.EncodeArrayLen(len(c.Args)); err != nil {
		return err
	}

	for _, arg := range c.Args {
		if err := enc.Encode(arg); err != nil {
			return err
		}
	}

	return nil
}

func (c *Call) DecodeMsgpack(dec *msgpack.Decoder) error {
	if err := decodePair(dec); err != nil {
		return err
	}

	method, err := dec.DecodeString()
	if err != nil {
		return err
	}
	c.Method = method

	code, err := dec.PeekCode()
	if err != nil {
		return err
	}

	if !isArray(code) {
		// Older peers send a lone argument without wrapping it in an array,
		// notably the node name of a REGISTER.
		arg, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return err
		}

		c.Args = []interface{}{arg}
		return nil
	}

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}

	c.Args = make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		arg, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return err
		}

		c.Args = append(c.Args, arg)
	}

	return nil
}

func (r *Reply) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}

	var err error
	if r.Error == "" {
		err = enc.EncodeNil()
	} else {
		err = enc.EncodeString(r.Error)
	}

	if err != nil {
		return err
	}

	return enc.Encode(r.Result)
}

func (r *Reply) DecodeMsgpack(dec *msgpack.Decoder) error {
	if err := decodePair(dec); err != nil {
		return err
	}

	code, err := dec.PeekCode()
	if err != nil {
		return err
	}

	if code == msgpcode.Nil {
		if err := dec.DecodeNil(); err != nil {
			return err
		}
		r.Error = ""
	} else {
		if r.Error, err = dec.DecodeString(); err != nil {
			return err
		}
	}

	r.Result, err = dec.DecodeInterfaceLoose()
	return err
}

func decodePair(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}

	if n != 2 {
		return fmt.Errorf("expected 2 elements, got %d: %w", n, ErrMalformedEnvelope)
	}

	return nil
}

func isArray(code byte) bool {
	return msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32
}

var (
	_ msgpack.CustomEncoder = (*Call)(nil)
	_ msgpack.CustomDecoder = (*Call)(nil)
	_ msgpack.CustomEncoder = (*Reply)(nil)
	_ msgpack.CustomDecoder = (*Reply)(nil)
)
