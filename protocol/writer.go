package protocol

import (
	"io"
)

// WriteCall encodes call as the payload of a frame of type t and writes the
// complete frame with a single Write.
func WriteCall(w io.Writer, c Codec, t MsgType, id int32, call *Call) error {
	payload, err := c.Encode(call)
	if err != nil {
		return err
	}

	_, err = w.Write(EncodeFrame(t, id, payload))
	return err
}

// ReplyFrame encodes reply as a complete RESPONSE frame for the request id.
func ReplyFrame(c Codec, id int32, reply *Reply) ([]byte, error) {
	payload, err := c.Encode(reply)
	if err != nil {
		return nil, err
	}

	return EncodeFrame(MsgResponse, id, payload), nil
}
