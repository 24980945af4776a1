package server

import (
	"sort"
	"sync"

	"github.com/luma/tether/rpc"
)

// Registry maps node names to the connections that registered them.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*rpc.Conn
}

func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*rpc.Conn),
	}
}

// Register maps name to conn unless name is already taken. It returns false,
// leaving the existing mapping untouched, when it is.
func (r *Registry) Register(name string, conn *rpc.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[name]; ok {
		return false
	}

	r.nodes[name] = conn
	return true
}

func (r *Registry) Lookup(name string) (*rpc.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.nodes[name]
	return conn, ok
}

// RemoveConn removes whichever name conn registered, if any, and returns it.
func (r *Registry) RemoveConn(conn *rpc.Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, c := range r.nodes {
		if c == conn {
			delete(r.nodes, name)
			return name, true
		}
	}

	return "", false
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.nodes)
}
