package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openvw/lludp/pkg/circuit"
)

func TestThrottleAdmission(t *testing.T) {
	peer := circuit.Peer{Host: "127.0.0.1", Port: 9000}
	g := NewThrottleGate(1000)

	assert.True(t, g.CanSend(peer, 600))
	assert.False(t, g.CanSend(peer, 600), "second send exceeds the window budget")

	// Roll the window over and the refused send is admitted.
	g.mu.Lock()
	g.windows[peer].start = time.Now().Add(-2 * time.Second)
	g.mu.Unlock()

	assert.True(t, g.CanSend(peer, 600))
}

func TestThrottlePerPeerBudgets(t *testing.T) {
	a := circuit.Peer{Host: "127.0.0.1", Port: 9000}
	b := circuit.Peer{Host: "127.0.0.1", Port: 9001}
	g := NewThrottleGate(1000)

	assert.True(t, g.CanSend(a, 1000))
	assert.True(t, g.CanSend(b, 1000), "peers have independent budgets")
	assert.False(t, g.CanSend(a, 1))
}

func TestThrottleForget(t *testing.T) {
	peer := circuit.Peer{Host: "127.0.0.1", Port: 9000}
	g := NewThrottleGate(100)

	assert.True(t, g.CanSend(peer, 100))
	g.Forget(peer)
	assert.True(t, g.CanSend(peer, 100), "forgotten peer starts a fresh window")
}
