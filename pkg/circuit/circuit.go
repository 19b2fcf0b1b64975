package circuit

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitClosed is returned when a caller tries to use a circuit that
// has been closed; the caller must establish a new circuit.
var ErrCircuitClosed = errors.New("circuit is closed")

// State is the position of a circuit in its health state machine.
type State int

const (
	// StateInitializing is the state before the first inbound packet.
	StateInitializing State = iota

	// StateActive is the healthy steady state.
	StateActive

	// StateDegraded indicates elevated loss or a quiet line.
	StateDegraded

	// StateBlocked indicates loss beyond the blocked threshold.
	StateBlocked

	// StateTimedOut indicates prolonged silence; the circuit is dead but
	// not yet swept.
	StateTimedOut

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateActive:
		return "Active"
	case StateDegraded:
		return "Degraded"
	case StateBlocked:
		return "Blocked"
	case StateTimedOut:
		return "TimedOut"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// HealthParams are the thresholds driving the circuit state machine.
type HealthParams struct {
	DegradedLossRatio float64       // loss ratio above which a circuit degrades
	BlockedLossRatio  float64       // loss ratio above which a circuit blocks
	SoftDegradeAfter  time.Duration // inbound silence before soft degrade
	TimeoutAfter      time.Duration // inbound silence before timeout
	StaleAfter        time.Duration // total inactivity before sweep removal
}

// DefaultHealthParams returns the standard thresholds.
func DefaultHealthParams() HealthParams {
	return HealthParams{
		DegradedLossRatio: 0.10,
		BlockedLossRatio:  0.25,
		SoftDegradeAfter:  30 * time.Second,
		TimeoutAfter:      60 * time.Second,
		StaleAfter:        300 * time.Second,
	}
}

// Circuit is the per-peer connection state. One circuit exists per peer
// and is owned by the Table; it must not be used after Close.
type Circuit struct {
	peer   Peer
	params HealthParams

	// outSeq is the last assigned outgoing sequence number; assignment is
	// atomic so concurrent sends never observe the same value.
	outSeq atomic.Uint32

	// oldestUnacked mirrors the reliability engine's oldest tracked
	// sequence, advertised in ping checks.
	oldestUnacked atomic.Uint32

	mu        sync.Mutex
	state     State
	expected  uint32 // next expected incoming sequence
	lastRecv  time.Time
	lastSend  time.Time
	createdAt time.Time

	stats Stats

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a circuit for peer with the given health thresholds.
func New(peer Peer, params HealthParams) *Circuit {
	now := time.Now()
	return &Circuit{
		peer:      peer,
		params:    params,
		state:     StateInitializing,
		expected:  1,
		lastRecv:  now,
		lastSend:  now,
		createdAt: now,
		done:      make(chan struct{}),
	}
}

// Peer returns the remote this circuit tracks.
func (c *Circuit) Peer() Peer { return c.peer }

// Stats exposes the circuit's counters.
func (c *Circuit) Stats() *Stats { return &c.stats }

// Done is closed when the circuit closes; retry timers select on it.
func (c *Circuit) Done() <-chan struct{} { return c.done }

// NextSeq atomically assigns the next outgoing sequence number, starting
// at 1.
func (c *Circuit) NextSeq() uint32 { return c.outSeq.Add(1) }

// SetOldestUnacked records the oldest unacknowledged outgoing sequence.
func (c *Circuit) SetOldestUnacked(seq uint32) { c.oldestUnacked.Store(seq) }

// OldestUnacked returns the oldest unacknowledged outgoing sequence, zero
// when everything is acked.
func (c *Circuit) OldestUnacked() uint32 { return c.oldestUnacked.Load() }

// State returns the current machine state.
func (c *Circuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsClosed reports whether the circuit reached its terminal state.
func (c *Circuit) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close moves the circuit to its terminal state and wakes every pending
// retry timer. Closing twice is a no-op.
func (c *Circuit) Close() {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)
	})
}

// RecordSend accounts an outgoing packet of the given size.
func (c *Circuit) RecordSend(size int) {
	c.stats.PacketsOut.Add(1)
	c.stats.BytesOut.Add(uint64(size))
	c.mu.Lock()
	c.lastSend = time.Now()
	c.mu.Unlock()
}

// RecordLost accounts a reliable packet that exhausted its retries.
func (c *Circuit) RecordLost() {
	c.stats.PacketsLost.Add(1)
	c.mu.Lock()
	c.evalLossLocked()
	c.mu.Unlock()
}

// ProcessIncoming advances the expected-sequence window for an inbound
// packet and returns how many packets a sequence gap presumed lost. A
// gap counts its width as lost; an old or duplicate sequence is counted
// but moves nothing.
func (c *Circuit) ProcessIncoming(seq uint32, size int) int {
	c.stats.PacketsIn.Add(1)
	c.stats.BytesIn.Add(uint64(size))

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRecv = time.Now()
	if c.state == StateInitializing {
		c.state = StateActive
	}

	switch {
	case seq == c.expected:
		c.expected++
		c.positiveHealthLocked()
	case seq > c.expected:
		gap := seq - c.expected
		c.stats.PacketsLost.Add(uint64(gap))
		c.expected = seq + 1
		c.evalLossLocked()
		return int(gap)
	default:
		// Duplicate or late arrival; the window stays put.
	}
	return 0
}

// RecordAck registers a successful acknowledgment as a positive health
// event.
func (c *Circuit) RecordAck() {
	c.mu.Lock()
	c.positiveHealthLocked()
	c.mu.Unlock()
}

// positiveHealthLocked applies the recovery rule: a degraded or blocked
// circuit returns to Active once the loss ratio is back under the
// degrade threshold.
func (c *Circuit) positiveHealthLocked() {
	switch c.state {
	case StateDegraded, StateBlocked:
		if c.stats.LossRatio() <= c.params.DegradedLossRatio {
			c.state = StateActive
		}
	}
}

func (c *Circuit) evalLossLocked() {
	ratio := c.stats.LossRatio()
	switch {
	case ratio > c.params.BlockedLossRatio:
		if c.state == StateActive || c.state == StateDegraded {
			c.state = StateBlocked
		}
	case ratio > c.params.DegradedLossRatio:
		if c.state == StateActive {
			c.state = StateDegraded
		}
	}
}

// CheckHealth applies the inactivity rules. It returns the state after
// the check so sweeps can log transitions.
func (c *Circuit) CheckHealth(now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	silent := now.Sub(c.lastRecv)
	switch c.state {
	case StateActive, StateDegraded, StateBlocked:
		if silent >= c.params.TimeoutAfter {
			c.state = StateTimedOut
		} else if silent >= c.params.SoftDegradeAfter && c.state == StateActive {
			c.state = StateDegraded
		}
	}
	return c.state
}

// IdleFor reports how long the circuit has seen no traffic in either
// direction.
func (c *Circuit) IdleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.lastRecv
	if c.lastSend.After(last) {
		last = c.lastSend
	}
	return now.Sub(last)
}
