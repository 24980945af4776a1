package server

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/tether/rpc"
	"github.com/luma/tether/transport"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT
	Reuseport bool

	NumListeners int

	// RequestTimeout bounds the calls this server makes over its connections.
	// Zero waits until the connection closes.
	RequestTimeout time.Duration

	// MaxFrameSize bounds inbound frame payloads, zero is unbounded
	MaxFrameSize uint32

	ReadBufferSize int

	// Trace will log every read and write. This is only useful in local debugging
	Trace bool

	// Services answers the calls of every connection
	Services *rpc.Services

	// OnConnect and OnClose are called as connections come and go
	OnConnect func(conn *rpc.Conn)
	OnClose   func(conn *rpc.Conn)

	Log *zap.Logger
}

// Server accepts TCP connections and runs an rpc.Conn over each of them.
type Server struct {
	tcp      *transport.TCP
	services *rpc.Services
	options  Options

	mu    sync.Mutex
	conns map[*rpc.Conn]struct{}

	log *zap.Logger
}

func New(options Options) *Server {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	services := options.Services
	if services == nil {
		services = rpc.NewServices()
	}

	s := &Server{
		services: services,
		options:  options,
		conns:    make(map[*rpc.Conn]struct{}),
		log:      log,
	}

	s.tcp = transport.NewTCP(transport.Options{
		Host:         options.Host,
		Port:         options.Port,
		Reuseport:    options.Reuseport,
		NumListeners: options.NumListeners,
		Conn: transport.ConnOptions{
			ReadBufferSize: options.ReadBufferSize,
			Trace:          options.Trace,
		},
		Log: log.Named("tcp"),
	}, s.accept)

	return s
}

// Services returns the method table shared by every connection.
func (s *Server) Services() *rpc.Services {
	return s.services
}

func (s *Server) accept(stream *transport.TCPConn) transport.Session {
	conn := rpc.NewConn(stream, rpc.ConnOptions{
		Service:        s.services,
		RequestTimeout: s.options.RequestTimeout,
		MaxPayload:     s.options.MaxFrameSize,
		Peer:           stream.RemoteAddr().String(),
		Log:            s.log.Named("conn"),
	})

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	conn.NotifyClose(s.onClose)

	s.log.Debug("Accepted connection", zap.Stringer("peer", conn))

	if s.options.OnConnect != nil {
		s.options.OnConnect(conn)
	}

	return conn
}

func (s *Server) onClose(conn *rpc.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	s.log.Debug("Connection closed", zap.Stringer("peer", conn))

	if s.options.OnClose != nil {
		s.options.OnClose(conn)
	}
}

// Start binds the listeners. Addrs is valid once it returns.
func (s *Server) Start(ctx context.Context) error {
	return s.tcp.Start(ctx)
}

func (s *Server) Addrs() []net.Addr {
	return s.tcp.Addrs()
}

// Addr returns the address of the first listener.
func (s *Server) Addr() string {
	addrs := s.Addrs()
	if len(addrs) == 0 {
		return ""
	}

	return addrs[0].String()
}

// Conns returns the connections that are currently open.
func (s *Server) Conns() []*rpc.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*rpc.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}

	return conns
}

// Close stops accepting, closes every connection and waits for them to finish.
func (s *Server) Close() (err error) {
	for _, conn := range s.Conns() {
		err = multierr.Append(err, conn.Close())
	}

	return multierr.Append(err, s.tcp.Close())
}
