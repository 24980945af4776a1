package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/tether/protocol"
)

const (
	// RegisterMethod is the method name carried by REGISTER frames.
	RegisterMethod = "register"

	// CallNodeMethod asks a duplex server to route a call to a registered
	// node: call_node(name, method, args...)
	CallNodeMethod = "call_node"
)

// Stream is the byte stream a Conn writes frames to. Each Write must be
// applied atomically and in the order it was issued.
type Stream interface {
	Write(p []byte) (int, error)
	Close() error
}

type ConnOptions struct {
	// Codec encodes payloads, MsgpackCodec when nil
	Codec protocol.Codec

	// Service answers REQUEST, NOTICE and REGISTER frames. Every inbound call
	// fails with ErrUnknownMethod when nil.
	Service Invoker

	// RequestTimeout bounds how long Call and Register wait for a RESPONSE.
	// Zero waits until the connection closes.
	RequestTimeout time.Duration

	// MaxPayload bounds inbound frame payloads, zero is unbounded.
	MaxPayload uint32

	// Peer names the remote end in logs
	Peer string

	Log *zap.Logger
}

// Conn runs the protocol over one byte stream: it issues calls and notices,
// correlates responses and answers the peer's calls using its Service.
type Conn struct {
	ctx    context.Context
	cancel context.CancelFunc

	stream  Stream
	codec   protocol.Codec
	service Invoker
	timeout time.Duration
	peer    string

	// frames is only touched by OnData
	frames protocol.FrameBuffer
	ids    IDGenerator
	table  *Table

	writeMu sync.Mutex

	closeOnce  sync.Once
	hooksMu    sync.Mutex
	closeHooks []func(*Conn)

	log *zap.Logger
}

func NewConn(stream Stream, options ConnOptions) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}
	if options.Peer != "" {
		log = log.With(zap.String("peer", options.Peer))
	}

	codec := options.Codec
	if codec == nil {
		codec = protocol.MsgpackCodec{}
	}

	service := options.Service
	if service == nil {
		service = NewServices()
	}

	return &Conn{
		ctx:     ctx,
		cancel:  cancel,
		stream:  stream,
		codec:   codec,
		service: service,
		timeout: options.RequestTimeout,
		peer:    options.Peer,
		frames:  protocol.FrameBuffer{MaxPayload: options.MaxPayload},
		table:   NewTable(log.Named("table")),
		log:     log,
	}
}

// Call sends a REQUEST and returns its pending result straight after the write.
func (c *Conn) Call(method string, args ...interface{}) *Result {
	return c.issue(protocol.MsgRequest, method, args)
}

// Register asks the peer to route calls for name to this connection. The
// result completes with the peer's answer, true when the name was accepted.
func (c *Conn) Register(name string) *Result {
	return c.issue(protocol.MsgRegister, RegisterMethod, []interface{}{name})
}

// Notice sends a NOTICE. Nothing is tracked and no answer ever arrives.
func (c *Conn) Notice(method string, args ...interface{}) error {
	if !c.isRunning() {
		return ErrConnClosed
	}

	return c.writeCall(protocol.MsgNotice, c.ids.Next(), method, args)
}

func (c *Conn) issue(t protocol.MsgType, method string, args []interface{}) *Result {
	if !c.isRunning() {
		return Failed(ErrConnClosed)
	}

	id := c.ids.Next()
	result := NewResult()

	// Track the call before writing, the response may beat us back.
	c.table.Add(id, result, c.timeout)

	if !c.isRunning() {
		// Closed between the check above and Add, FailAll may have missed us.
		c.table.Resolve(id, nil, ErrConnClosed)
		return result
	}

	if err := c.writeCall(t, id, method, args); err != nil {
		c.table.Remove(id)
		result.Complete(nil, fmt.Errorf("Failed to send %s %s: %w", t, method, err))
	}

	return result
}

// OnData feeds bytes read from the stream and dispatches every frame they
// complete, in arrival order. It must not be called concurrently.
func (c *Conn) OnData(data []byte) {
	c.frames.Write(data)

	for {
		frame, ok, err := c.frames.Next()

		if errors.Is(err, protocol.ErrFrameTooLarge) {
			c.log.Error("Closing connection, peer sent an oversized frame", zap.Error(err))
			c.Close()
			return
		}

		if !ok {
			return
		}

		if err != nil {
			c.log.Warn("Dropping frame", zap.Error(err))
			continue
		}

		c.dispatch(frame)
	}
}

func (c *Conn) dispatch(frame protocol.Frame) {
	if frame.Type == protocol.MsgResponse {
		var reply protocol.Reply
		if err := c.codec.Decode(frame.Payload, &reply); err != nil {
			c.dropFrame(frame, err)
			return
		}

		var err error
		if reply.Error != "" {
			err = &RemoteError{Message: reply.Error}
		}

		c.table.Resolve(frame.ID, reply.Result, err)
		return
	}

	var call protocol.Call
	if err := c.codec.Decode(frame.Payload, &call); err != nil {
		c.dropFrame(frame, err)
		return
	}

	switch frame.Type {
	case protocol.MsgRequest:
		ret, err := c.service.Invoke(c.ctx, call.Method, call.Args...)
		c.reply(frame.ID, call.Method, ret, err)

	case protocol.MsgRegister:
		ret, err := c.service.InvokeWithConn(c.ctx, call.Method, c, call.Args...)
		c.reply(frame.ID, call.Method, ret, err)

	case protocol.MsgNotice:
		ret, err := c.service.Invoke(c.ctx, call.Method, call.Args...)
		if err != nil {
			c.log.Error("Notice handler failed", zap.String("method", call.Method), zap.Error(err))
			return
		}

		if pending, ok := ret.(*Result); ok {
			pending.Then(func(_ interface{}, err error) {
				if err != nil {
					c.log.Error("Notice handler failed", zap.String("method", call.Method), zap.Error(err))
				}
			})
		}
	}
}

// reply answers the REQUEST or REGISTER with the given id. Asynchronous
// results are answered once they complete.
func (c *Conn) reply(id int32, method string, ret interface{}, err error) {
	if pending, ok := ret.(*Result); ok && err == nil {
		go func() {
			select {
			case <-pending.Done():
				value, err := pending.Value()
				c.reply(id, method, value, err)

			case <-c.ctx.Done():
			}
		}()
		return
	}

	reply := &protocol.Reply{Result: ret}
	if err != nil {
		reply = &protocol.Reply{Error: err.Error()}
	}

	frame, eerr := protocol.ReplyFrame(c.codec, id, reply)
	if eerr != nil && reply.Error == "" {
		// Tell the caller the result could not be encoded rather than leave it hanging
		frame, eerr = protocol.ReplyFrame(c.codec, id, &protocol.Reply{Error: fmt.Sprintf("%s: %v", method, eerr)})
	}

	if eerr != nil {
		c.log.Error("Failed to encode response",
			zap.String("method", method),
			zap.Int32("id", id),
			zap.Error(eerr))
		return
	}

	c.writeMu.Lock()
	_, werr := c.stream.Write(frame)
	c.writeMu.Unlock()

	if werr != nil {
		c.log.Warn("Failed to write response",
			zap.String("method", method),
			zap.Int32("id", id),
			zap.Error(werr))
	}
}

func (c *Conn) writeCall(t protocol.MsgType, id int32, method string, args []interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return protocol.WriteCall(c.stream, c.codec, t, id, &protocol.Call{Method: method, Args: args})
}

func (c *Conn) dropFrame(frame protocol.Frame, err error) {
	c.log.Warn("Dropping frame that failed to decode",
		zap.Stringer("type", frame.Type),
		zap.Int32("id", frame.ID),
		zap.Int("size", len(frame.Payload)),
		zap.Error(err))
}

// NotifyClose registers fn to run once the connection has closed. fn runs
// immediately if it already has.
func (c *Conn) NotifyClose(fn func(*Conn)) {
	c.hooksMu.Lock()
	if c.isRunning() {
		c.closeHooks = append(c.closeHooks, fn)
		c.hooksMu.Unlock()
		return
	}
	c.hooksMu.Unlock()

	fn(c)
}

// Close closes the underlying stream and fails every pending call.
func (c *Conn) Close() error {
	err := c.stream.Close()
	c.OnClose()
	return err
}

// OnClose is called by the transport once the stream has closed. Every call
// still pending fails with ErrConnClosed.
func (c *Conn) OnClose() {
	c.closeOnce.Do(func() {
		c.hooksMu.Lock()
		c.cancel()
		hooks := c.closeHooks
		c.closeHooks = nil
		c.hooksMu.Unlock()

		if n := c.table.FailAll(ErrConnClosed); n > 0 {
			c.log.Info("Failed pending calls on close", zap.Int("pending", n))
		}

		for _, hook := range hooks {
			hook(c)
		}
	})
}

// Done is closed once the connection has closed.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Pending returns the number of calls waiting for a response.
func (c *Conn) Pending() int {
	return c.table.Len()
}

func (c *Conn) String() string {
	return c.peer
}

// isRunning returns true until the connection closes
func (c *Conn) isRunning() bool {
	select {
	case <-c.ctx.Done():
		return false

	default:
		return true
	}
}
