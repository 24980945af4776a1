package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of a frame header: length(4) + type(1) + id(4).
const HeaderSize = 9

// MsgType identifies how the payload of a frame is interpreted.
type MsgType uint8

const (
	MsgRequest  MsgType = 0
	MsgResponse MsgType = 1
	MsgNotice   MsgType = 2
	MsgRegister MsgType = 3
)

var (
	ErrFrameTooLarge = errors.New("Frame payload exceeds the maximum allowed size")
	ErrUnknownType   = errors.New("Frame has an unknown message type")
)

func (t MsgType) String() string {
	switch t {
	case MsgRequest:
		return "REQUEST"
	case MsgResponse:
		return "RESPONSE"
	case MsgNotice:
		return "NOTICE"
	case MsgRegister:
		return "REGISTER"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the four known message types.
func (t MsgType) Valid() bool {
	return t <= MsgRegister
}

// Frame is a single length-prefixed, typed, correlation-tagged unit on the wire.
type Frame struct {
	Type    MsgType
	ID      int32
	Payload []byte
}

// AppendFrame appends the wire encoding of a frame to dst and returns the
// extended slice. The whole frame is produced as one slice so that it can be
// handed to the transport in a single write.
func AppendFrame(dst []byte, t MsgType, id int32, payload []byte) []byte {
	var header [HeaderSize]byte

	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	header[4] = byte(t)
	binary.BigEndian.PutUint32(header[5:9], uint32(id))

	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// EncodeFrame returns a freshly allocated wire encoding of a frame.
func EncodeFrame(t MsgType, id int32, payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), t, id, payload)
}

// FrameBuffer reassembles frames out of a byte stream that may deliver them
// split across reads or several at a time. It is not safe for concurrent use;
// each connection owns exactly one.
type FrameBuffer struct {
	buf []byte
	off int

	// MaxPayload bounds the announced payload length. Zero means unbounded.
	MaxPayload uint32
}

// Write appends bytes read from the stream. It never fails.
func (b *FrameBuffer) Write(p []byte) (int, error) {
	b.compact()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame, if there is one. An incomplete trailing
// frame stays buffered until more bytes are written.
//
// A frame with an unknown type is consumed and reported with ErrUnknownType,
// the caller may keep calling Next. ErrFrameTooLarge is not recoverable: the
// buffer cannot find the next frame boundary once the limit is exceeded.
func (b *FrameBuffer) Next() (Frame, bool, error) {
	pending := b.buf[b.off:]
	if len(pending) < HeaderSize {
		return Frame{}, false, nil
	}

	length := binary.BigEndian.Uint32(pending[0:4])
	if b.MaxPayload > 0 && length > b.MaxPayload {
		return Frame{}, false, fmt.Errorf("%d > %d bytes: %w", length, b.MaxPayload, ErrFrameTooLarge)
	}

	if uint64(len(pending)-HeaderSize) < uint64(length) {
		return Frame{}, false, nil
	}

	end := HeaderSize + int(length)
	frame := Frame{
		Type:    MsgType(pending[4]),
		ID:      int32(binary.BigEndian.Uint32(pending[5:9])),
		Payload: make([]byte, length),
	}
	copy(frame.Payload, pending[HeaderSize:end])
	b.off += end

	if !frame.Type.Valid() {
		return frame, true, fmt.Errorf("type %d, id %d: %w", uint8(frame.Type), frame.ID, ErrUnknownType)
	}

	return frame, true, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (b *FrameBuffer) Buffered() int {
	return len(b.buf) - b.off
}

// compact drops bytes already consumed by Next, so that the arena is reused
// rather than grown for the lifetime of the connection.
func (b *FrameBuffer) compact() {
	if b.off == 0 {
		return
	}

	n := copy(b.buf, b.buf[b.off:])
	b.buf = b.buf[:n]
	b.off = 0
}
