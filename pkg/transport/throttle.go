package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/openvw/lludp/pkg/circuit"
)

// ErrThrottled is returned when a send would exceed the peer's byte
// budget for the current one-second window. The caller should delay and
// retry; the packet is not dropped by the transport.
var ErrThrottled = errors.New("peer byte budget exceeded")

// ThrottleGate enforces a per-peer byte budget over a rolling one-second
// window. It is a pure admission check: it never queues and never
// retries.
type ThrottleGate struct {
	budget int64

	mu      sync.Mutex
	windows map[circuit.Peer]*throttleWindow
}

type throttleWindow struct {
	start time.Time
	used  int64
}

// NewThrottleGate creates a gate admitting at most budget bytes per peer
// per second.
func NewThrottleGate(budget int64) *ThrottleGate {
	return &ThrottleGate{
		budget:  budget,
		windows: make(map[circuit.Peer]*throttleWindow),
	}
}

// CanSend debits size bytes from the peer's current window if the budget
// allows and reports whether the send is admitted.
func (g *ThrottleGate) CanSend(peer circuit.Peer, size int) bool {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[peer]
	if !ok {
		w = &throttleWindow{start: now}
		g.windows[peer] = w
	}

	if now.Sub(w.start) >= time.Second {
		w.start = now
		w.used = 0
	}

	if w.used+int64(size) > g.budget {
		return false
	}
	w.used += int64(size)
	return true
}

// Forget drops the peer's window, typically when its circuit is removed.
func (g *ThrottleGate) Forget(peer circuit.Peer) {
	g.mu.Lock()
	delete(g.windows, peer)
	g.mu.Unlock()
}
