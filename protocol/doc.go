// Package protocol implements framing and payload encoding for the protocol
// tether peers use to talk to each other.
//
// Many calls are multiplexed over one byte stream. Every message on the wire
// is a frame:
//
//   0        4      5        9
//   +--------+------+--------+------------------+
//   | length | type |   id   | payload ...      |
//   | uint32 | uint8| int32  | length bytes     |
//   +--------+------+--------+------------------+
//
// All integers are big endian. `length` counts payload bytes only, the header
// is always 9 bytes.
//
// === Message types
//
// - `REQUEST (0)`  - call a method, the peer answers with a RESPONSE carrying the
//                    same id.
// - `RESPONSE (1)` - the answer to a REQUEST or REGISTER.
// - `NOTICE (2)`   - call a method and forget about it. Never answered.
// - `REGISTER (3)` - ask a duplex server to make this connection reachable under
//                    a node name. Answered like a REQUEST with true or false.
//
// === Payloads
//
// Payloads are msgpack encoded.
//
//   REQUEST, NOTICE, REGISTER   [method, [arg, ...]]
//   RESPONSE                    [error or nil, result or nil]
//
// A RESPONSE with a non-nil, non-empty error failed, its result is ignored.
//
// === Ids
//
// Ids are chosen by the side that sends the REQUEST or REGISTER and are only
// meaningful on that connection. Ids count up from 0 and wrap back to 0 after
// 2^30, so no more than 2^30 calls may be outstanding on one connection.
//
// Responses can arrive in any order. A frame is always written atomically, so
// frames never interleave on the wire.
//
// === Errors
//
// A payload that fails to decode only loses its own frame, the frames behind
// it in the stream are still processed. Nothing is sent back to the peer for a
// frame that could not be decoded.
package protocol
