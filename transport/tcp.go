package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("connection closed")

// Session consumes one connection's inbound bytes. OnData is never called
// concurrently and OnClose is called exactly once, after the last OnData.
type Session interface {
	OnData(data []byte)
	OnClose()
}

// Acceptor builds the Session for a new connection. The connection is usable
// for writes from within the Acceptor.
type Acceptor func(conn *TCPConn) Session

type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr         string
	reuseport    bool
	numListeners int
	listeners    []*TCPListener

	accept   Acceptor
	connOpts ConnOptions

	log *zap.Logger
}

func NewTCP(options Options, accept Acceptor) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	// Only SO_REUSEPORT lets several listeners share a port, and each
	// listener on port 0 would get a port of its own
	if !options.Reuseport || options.Port == 0 {
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		accept:       accept,
		connOpts:     options.Conn.withDefaults(),
		log:          log,
	}
}

// Start binds every listener, then accepts connections in the background
// until Close is called or ctx is cancelled.
func (w *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel

	w.log.Info("Starting tcp listeners", zap.Int("count", w.numListeners), zap.String("addr", w.addr))

	for i := 0; i < w.numListeners; i++ {
		if err := w.startListener(ctx); err != nil {
			cancel()
			return multierr.Append(err, w.closeListeners())
		}
	}

	return nil
}

func (w *TCP) startListener(ctx context.Context) error {
	var (
		ln  net.Listener
		err error
	)

	if w.reuseport {
		ln, err = reuseport.Listen("tcp", w.addr)
	} else {
		ln, err = net.Listen("tcp", w.addr)
	}

	if err != nil {
		return err
	}

	listener := NewTCPListener(
		ctx,
		ln,
		w.accept,
		w.connOpts,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)

	w.listeners = append(w.listeners, listener)

	w.stopWaiter.Add(1)
	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			w.log.Error("Listener failed", zap.Error(err))
		}
	}()

	return nil
}

// Addrs returns the address of every listener.
func (w *TCP) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(w.listeners))
	for _, listener := range w.listeners {
		addrs = append(addrs, listener.Addr())
	}

	return addrs
}

// NumConns returns the number of open connections across all listeners.
func (w *TCP) NumConns() int {
	n := 0
	for _, listener := range w.listeners {
		n += listener.NumConns()
	}

	return n
}

// Close stops every listener and closes their connections, and waits for
// their loops to exit. Writes already queued on a connection are flushed first.
func (w *TCP) Close() error {
	w.log.Info("Stopping TCP server")

	err := w.closeListeners()

	w.stopWaiter.Wait()
	w.log.Info("Listeners stopped")

	if w.cancel != nil {
		w.cancel()
	}

	return err
}

func (w *TCP) closeListeners() (err error) {
	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	accept   Acceptor
	connOpts ConnOptions

	mu          sync.Mutex
	closed      bool
	activeConns map[*TCPConn]struct{}
	loopWaiter  sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	accept Acceptor,
	connOpts ConnOptions,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		accept:      accept,
		connOpts:    connOpts,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops accepting and closes every active connection.
func (t *TCPListener) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.listener.Close()

		t.mu.Lock()
		t.closed = true
		conns := make([]*TCPConn, 0, len(t.activeConns))
		for conn := range t.activeConns {
			conns = append(conns, conn)
		}
		t.mu.Unlock()

		for _, conn := range conns {
			conn.Close()
		}
	})

	return t.closeErr
}

// Listen accepts connections until the listener is closed, then waits for
// every connection's loops to exit.
func (t *TCPListener) Listen() error {
	go func() {
		<-t.ctx.Done()
		t.Close()
	}()

	defer func() {
		t.log.Info("Waiting for connections to stop")
		t.loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// Closed while we were waiting for new connections, that's fine.
				return nil
			}

			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.connOpts, t.log.Named("conn"))
		session := t.accept(tcpConn)

		if !t.addConn(tcpConn) {
			// Close raced with Accept
			tcpConn.Close()
		}

		t.loopWaiter.Add(1)
		go func() {
			defer t.loopWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Run(session)
		}()
	}
}

func (t *TCPListener) NumConns() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.activeConns)
}

func (t *TCPListener) addConn(conn *TCPConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.ctx.Err() != nil {
		return false
	}

	t.activeConns[conn] = struct{}{}
	return true
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

// TCPConn pumps one socket: a read loop feeds a Session and a write loop
// drains an ordered queue of writes.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	conn net.Conn

	writeQueue   chan []byte
	readSize     int
	closeTimeout time.Duration
	trace        bool

	// closing is closed first by Close and makes Write refuse data. Writers
	// hold closeMu for reading while they queue, so once Close has taken it
	// nothing more is queued and drain tells the write loop to flush.
	closeMu   sync.RWMutex
	closing   chan struct{}
	drain     chan struct{}
	closeOnce sync.Once

	socketOnce sync.Once

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	options ConnOptions,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)
	options = options.withDefaults()

	if log == nil {
		log = zap.NewNop()
	}

	return &TCPConn{
		ctx:          ctx,
		cancel:       cancel,
		conn:         conn,
		writeQueue:   make(chan []byte, options.WriteQueueSize),
		readSize:     options.ReadBufferSize,
		closeTimeout: options.CloseTimeout,
		trace:        options.Trace,
		closing:      make(chan struct{}),
		drain:        make(chan struct{}),
		log:          log.With(zap.Stringer("remote", conn.RemoteAddr())),
	}
}

// Dial connects to addr and runs the connection in the background. accept is
// called before Dial returns.
func Dial(ctx context.Context, addr string, accept Acceptor, options ConnOptions, log *zap.Logger) (*TCPConn, error) {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The connection outlives the dial context
	tcpConn := NewTCPConn(context.Background(), conn, options, log)
	session := accept(tcpConn)

	go tcpConn.Run(session)

	return tcpConn, nil
}

func (t *TCPConn) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *TCPConn) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close refuses further writes and returns straight away. The write loop
// flushes what is already queued, shuts down the write side and gives the
// peer up to CloseTimeout to hang up before the socket is closed. The
// Session's OnClose runs once both loops have exited.
func (t *TCPConn) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)

		t.closeMu.Lock()
		close(t.drain)
		t.closeMu.Unlock()
	})

	return nil
}

// Done is closed once the connection has stopped: the peer went away, a read
// or write failed, or a Close has finished flushing.
func (t *TCPConn) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Run starts the read and write loops and blocks until both have exited.
func (t *TCPConn) Run(session Session) {
	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		t.ReadLoop(session)
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	go func() {
		<-t.ctx.Done()
		t.closeSocket()
	}()

	t.loopWaiter.Wait()
	session.OnClose()
}

func (t *TCPConn) closeSocket() {
	t.socketOnce.Do(func() {
		if err := t.conn.Close(); err != nil {
			t.log.Debug("Failed to close socket", zap.Error(err))
		}
	})
}

func (t *TCPConn) ReadLoop(session Session) {
	log := t.log.Named("readLoop")

	defer func() {
		// The peer going away stops the connection without waiting on writes
		t.cancel()
		log.Debug("Read loop exited")
	}()

	buf := make([]byte, t.readSize)

	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			if t.trace {
				log.Debug("READ", zap.Binary("data", buf[:n]))
			}

			session.OnData(buf[:n])
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Debug("Peer closed the connection")

			case errors.Is(err, net.ErrClosed), t.ctx.Err() != nil:
				// We closed it

			case strings.Contains(err.Error(), "connection reset by peer"):
				log.Debug("Peer reset the connection")

			default:
				log.Warn("Failed to read from connection", zap.Error(err))
			}

			return
		}
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	defer func() {
		t.cancel()
		log.Debug("Write loop exited")
	}()

	for {
		select {
		case <-t.ctx.Done():
			return

		case <-t.drain:
			// A peer that stopped reading must not hold the close up forever
			if err := t.conn.SetWriteDeadline(time.Now().Add(t.closeTimeout)); err != nil {
				log.Debug("Failed to set write deadline", zap.Error(err))
			}

			if t.flush(log) {
				t.shutdown(log)
			}
			return

		case data := <-t.writeQueue:
			if !t.write(log, data) {
				return
			}
		}
	}
}

// flush writes everything still queued and returns false if a write failed.
func (t *TCPConn) flush(log *zap.Logger) bool {
	for {
		select {
		case data := <-t.writeQueue:
			if !t.write(log, data) {
				return false
			}

		default:
			return true
		}
	}
}

// shutdown closes the write side so the peer reads EOF after the last frame,
// then waits for the peer to hang up.
func (t *TCPConn) shutdown(log *zap.Logger) {
	halfCloser, ok := t.conn.(interface{ CloseWrite() error })
	if !ok {
		return
	}

	if err := halfCloser.CloseWrite(); err != nil {
		log.Debug("Failed to shut down writes", zap.Error(err))
		return
	}

	timer := time.NewTimer(t.closeTimeout)
	defer timer.Stop()

	select {
	case <-t.ctx.Done():

	case <-timer.C:
		log.Debug("Peer did not hang up in time", zap.Duration("timeout", t.closeTimeout))
	}
}

func (t *TCPConn) write(log *zap.Logger, data []byte) bool {
	if t.trace {
		log.Debug("WRITE", zap.Binary("data", data))
	}

	if _, err := t.conn.Write(data); err != nil {
		if t.ctx.Err() == nil {
			log.Warn("Failed to write to connection", zap.Error(err))
		}
		return false
	}

	return true
}

// Write queues data for the write loop. Each call is written to the socket
// whole and in the order Write was called.
func (t *TCPConn) Write(data []byte) (int, error) {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()

	if !t.isRunning() {
		return 0, ErrClosed
	}

	select {
	case t.writeQueue <- append([]byte(nil), data...):
		return len(data), nil

	case <-t.closing:
		return 0, ErrClosed

	case <-t.ctx.Done():
		return 0, ErrClosed
	}
}

// isRunning returns true until Close has been called or the connection has stopped
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.closing:
		return false

	case <-t.ctx.Done():
		return false

	default:
		return true
	}
}
