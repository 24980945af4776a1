package transport

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultReadBufferSize = 16 * 1024
	DefaultWriteQueueSize = 127
	DefaultCloseTimeout   = 2 * time.Second
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT. Without it, or with Port 0,
	// only a single listener is started.
	Reuseport bool

	NumListeners int

	Conn ConnOptions

	Log *zap.Logger
}

type ConnOptions struct {
	// ReadBufferSize is the size of each read from the socket
	ReadBufferSize int

	// WriteQueueSize is how many writes may be queued before Write blocks
	WriteQueueSize int

	// CloseTimeout bounds how long Close waits for the peer to hang up once
	// the queued writes have been flushed
	CloseTimeout time.Duration

	// Trace will log every read and write. This is only useful in local debugging
	Trace bool
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}

	if o.WriteQueueSize <= 0 {
		o.WriteQueueSize = DefaultWriteQueueSize
	}

	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}

	return o
}
