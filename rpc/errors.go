package rpc

import (
	"errors"
)

var (
	ErrTimeout       = errors.New("Request timed out")
	ErrConnClosed    = errors.New("Connection closed")
	ErrUnknownMethod = errors.New("Unknown method")
	ErrRateLimited   = errors.New("Rate limit exceeded")
	ErrBadArguments  = errors.New("Bad arguments")
)

// RemoteError is the error text a peer sent back in a RESPONSE.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsRemote reports whether err carries an error message sent by the peer.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}
