package rpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// HandlerFunc implements a method. Returning a *Result makes the method
// asynchronous: the caller is answered once that result completes.
type HandlerFunc func(ctx context.Context, args ...interface{}) (interface{}, error)

// ConnHandlerFunc implements a method that needs the connection it was called
// on, such as the registration handshake.
type ConnHandlerFunc func(ctx context.Context, conn *Conn, args ...interface{}) (interface{}, error)

// Invoker resolves method names to implementations and runs them.
type Invoker interface {
	Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error)
	InvokeWithConn(ctx context.Context, method string, conn *Conn, args ...interface{}) (interface{}, error)
}

// Invocation describes one method call as it travels through the middleware
// chain. Conn is only set for connection-aware methods.
type Invocation struct {
	Method string
	Conn   *Conn
	Args   []interface{}
}

// Handler is the signature that middleware wraps.
type Handler func(ctx context.Context, inv *Invocation) (interface{}, error)

// Services is the method table of one side of a connection.
type Services struct {
	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	connHandlers map[string]ConnHandlerFunc
	middlewares  []Middleware
	chain        Handler
}

func NewServices() *Services {
	s := &Services{
		handlers:     make(map[string]HandlerFunc),
		connHandlers: make(map[string]ConnHandlerFunc),
	}
	s.chain = s.dispatch

	return s
}

// Handle registers h under name, replacing any previous handler.
func (s *Services) Handle(name string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[name] = h
}

// HandleConn registers a connection-aware handler under name.
func (s *Services) HandleConn(name string, h ConnHandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connHandlers[name] = h
}

// Use appends middlewares. They run in the order they were added, outermost first.
func (s *Services) Use(mws ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.middlewares = append(s.middlewares, mws...)
	s.chain = Chain(s.middlewares...)(s.dispatch)
}

// Methods lists the names of every registered method.
func (s *Services) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.handlers)+len(s.connHandlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	for name := range s.connHandlers {
		names = append(names, name)
	}

	return names
}

func (s *Services) Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	return s.run(ctx, &Invocation{Method: method, Args: args})
}

func (s *Services) InvokeWithConn(ctx context.Context, method string, conn *Conn, args ...interface{}) (interface{}, error) {
	return s.run(ctx, &Invocation{Method: method, Conn: conn, Args: args})
}

func (s *Services) run(ctx context.Context, inv *Invocation) (ret interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			ret = nil
			err = fmt.Errorf("%s panicked: %v\n%s", inv.Method, r, debug.Stack())
		}
	}()

	s.mu.RLock()
	chain := s.chain
	s.mu.RUnlock()

	return chain(ctx, inv)
}

func (s *Services) dispatch(ctx context.Context, inv *Invocation) (interface{}, error) {
	s.mu.RLock()
	h, ok := s.handlers[inv.Method]
	ch, connOk := s.connHandlers[inv.Method]
	s.mu.RUnlock()

	switch {
	case inv.Conn != nil && connOk:
		return ch(ctx, inv.Conn, inv.Args...)

	case ok:
		return h(ctx, inv.Args...)

	default:
		return nil, fmt.Errorf("%q: %w", inv.Method, ErrUnknownMethod)
	}
}

var _ Invoker = (*Services)(nil)
