package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/tether/rpc"
)

var ErrNodeNotFound = errors.New("Node not found")

type DuplexOptions struct {
	Options

	// OnRegistered is called once a node name has been accepted
	OnRegistered func(name string, conn *rpc.Conn)

	// OnUnregistered is called once a node's connection has closed
	OnUnregistered func(name string)
}

// Duplex is a Server that lets connections register as named nodes, and
// routes calls to them on behalf of other connections or the host process.
type Duplex struct {
	*Server

	registry       *Registry
	onRegistered   func(name string, conn *rpc.Conn)
	onUnregistered func(name string)

	log *zap.Logger
}

func NewDuplex(options DuplexOptions) *Duplex {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	d := &Duplex{
		Server:         New(options.Options),
		registry:       NewRegistry(),
		onRegistered:   options.OnRegistered,
		onUnregistered: options.OnUnregistered,
		log:            log.Named("duplex"),
	}

	services := d.Services()
	services.HandleConn(rpc.RegisterMethod, d.handleRegister)
	services.Handle(rpc.CallNodeMethod, d.handleCallNode)

	return d
}

func (d *Duplex) handleRegister(ctx context.Context, conn *rpc.Conn, args ...interface{}) (interface{}, error) {
	name, err := rpc.StringArg(args, 0)
	if err != nil {
		return nil, err
	}

	if !d.registry.Register(name, conn) {
		d.log.Warn("Node already registered", zap.String("name", name), zap.Stringer("peer", conn))
		return false, nil
	}

	// Runs straight away if conn closed while we were registering it
	conn.NotifyClose(d.unregister)

	d.log.Info("Node registered", zap.String("name", name), zap.Stringer("peer", conn))

	if d.onRegistered != nil {
		d.onRegistered(name, conn)
	}

	return true, nil
}

func (d *Duplex) unregister(conn *rpc.Conn) {
	name, ok := d.registry.RemoveConn(conn)
	if !ok {
		return
	}

	d.log.Info("Node unregistered", zap.String("name", name))

	if d.onUnregistered != nil {
		d.onUnregistered(name)
	}
}

func (d *Duplex) handleCallNode(ctx context.Context, args ...interface{}) (interface{}, error) {
	name, err := rpc.StringArg(args, 0)
	if err != nil {
		return nil, err
	}

	method, err := rpc.StringArg(args, 1)
	if err != nil {
		return nil, err
	}

	conn, ok := d.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNodeNotFound)
	}

	// The caller is answered once the node answers
	return conn.Call(method, args[2:]...), nil
}

// CallNode calls method on the node registered as name. Without such a node
// the result fails with ErrNodeNotFound and nothing is sent.
func (d *Duplex) CallNode(name, method string, args ...interface{}) *rpc.Result {
	conn, ok := d.registry.Lookup(name)
	if !ok {
		return rpc.Failed(fmt.Errorf("%q: %w", name, ErrNodeNotFound))
	}

	return conn.Call(method, args...)
}

// Broadcast sends a notice to every registered node.
func (d *Duplex) Broadcast(method string, args ...interface{}) (err error) {
	for _, name := range d.registry.Names() {
		conn, ok := d.registry.Lookup(name)
		if !ok {
			continue
		}

		if nerr := conn.Notice(method, args...); nerr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", name, nerr))
		}
	}

	return err
}

// Nodes returns the names of the registered nodes in sorted order.
func (d *Duplex) Nodes() []string {
	return d.registry.Names()
}

// Node returns the connection registered as name.
func (d *Duplex) Node(name string) (*rpc.Conn, bool) {
	return d.registry.Lookup(name)
}
