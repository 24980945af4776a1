package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luma/tether/rpc"
	"github.com/luma/tether/transport"
)

var ErrRegisterRejected = errors.New("Registration rejected")

type Options struct {
	// Name registers this client as a node when set
	Name string

	// Services answers calls the server routes to this client
	Services *rpc.Services

	// RequestTimeout bounds how long calls wait for a response. Zero waits
	// until the connection closes.
	RequestTimeout time.Duration

	// MaxPayload bounds inbound frame payloads, zero is unbounded
	MaxPayload uint32

	ReadBufferSize int

	// OnClosed is called once the connection has closed
	OnClosed func()

	Log *zap.Logger
}

// Client is one connection to a server.
type Client struct {
	conn   *rpc.Conn
	stream *transport.TCPConn

	log *zap.Logger
}

// Dial connects to addr. When Options.Name is set it also registers that name
// and fails, closing the connection, if the server turns it down.
func Dial(ctx context.Context, addr string, options Options) (*Client, error) {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{log: log}

	stream, err := transport.Dial(ctx, addr, func(stream *transport.TCPConn) transport.Session {
		c.conn = rpc.NewConn(stream, rpc.ConnOptions{
			Service:        options.Services,
			RequestTimeout: options.RequestTimeout,
			MaxPayload:     options.MaxPayload,
			Peer:           addr,
			Log:            log.Named("conn"),
		})

		return c.conn
	}, transport.ConnOptions{ReadBufferSize: options.ReadBufferSize}, log.Named("tcp"))

	if err != nil {
		return nil, fmt.Errorf("Failed to dial %s: %w", addr, err)
	}

	c.stream = stream

	if options.OnClosed != nil {
		c.conn.NotifyClose(func(*rpc.Conn) { options.OnClosed() })
	}

	if options.Name != "" {
		if err := c.Register(ctx, options.Name); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

// Register registers name with the server and waits for its answer.
func (c *Client) Register(ctx context.Context, name string) error {
	ret, err := c.conn.Register(name).Wait(ctx)
	if err != nil {
		return fmt.Errorf("Failed to register %q: %w", name, err)
	}

	if accepted, _ := ret.(bool); !accepted {
		c.log.Warn("Register failed", zap.String("name", name))
		return fmt.Errorf("%q: %w", name, ErrRegisterRejected)
	}

	c.log.Debug("Registered", zap.String("name", name))
	return nil
}

// Call calls method on the server.
func (c *Client) Call(method string, args ...interface{}) *rpc.Result {
	return c.conn.Call(method, args...)
}

// CallNode asks the server to route a call to the node registered as name.
func (c *Client) CallNode(name, method string, args ...interface{}) *rpc.Result {
	return c.conn.Call(rpc.CallNodeMethod, append([]interface{}{name, method}, args...)...)
}

func (c *Client) Notice(method string, args ...interface{}) error {
	return c.conn.Notice(method, args...)
}

func (c *Client) Conn() *rpc.Conn {
	return c.conn
}

func (c *Client) LocalAddr() string {
	return c.stream.LocalAddr().String()
}

// Done is closed once the connection has closed.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Close fails pending calls and closes the connection. It returns once the
// calls and notices already sent have been written out and the connection has
// stopped, so it must not be called from a handler running on this connection.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.stream.Done()

	return err
}
