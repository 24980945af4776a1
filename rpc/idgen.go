package rpc

import "sync"

// MaxID is the largest identifier handed out before the generator wraps.
const MaxID = 1 << 30

// IDGenerator hands out per-connection request ids: 0, 1, ..., MaxID, then 0
// again. Ids are only unique while fewer than MaxID calls are in flight.
type IDGenerator struct {
	mu   sync.Mutex
	next int32
}

func (g *IDGenerator) Next() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.next

	if g.next < MaxID {
		g.next++
	} else {
		// Wrap around instead of overflowing
		g.next = 0
	}

	return id
}
