package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCapacityExceeded is returned when creating a circuit would exceed
// the configured maximum. Existing circuits are unaffected.
var ErrCapacityExceeded = errors.New("circuit table capacity exceeded")

// Table owns the set of circuits, one per peer. Circuits are created
// lazily on first use and removed on explicit close or when the stale
// sweep finds them inactive.
type Table struct {
	log logrus.FieldLogger

	params HealthParams
	max    int

	mu       sync.RWMutex
	circuits map[Peer]*Circuit
}

// NewTable creates a table capped at max circuits.
func NewTable(max int, params HealthParams, log logrus.FieldLogger) *Table {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Table{
		log:      log.WithField("component", "circuit-table"),
		params:   params,
		max:      max,
		circuits: make(map[Peer]*Circuit),
	}
}

// GetOrCreate returns the peer's circuit, creating it if absent. It fails
// with ErrCapacityExceeded at the cap. A closed circuit still present in
// the table is replaced, not returned.
func (t *Table) GetOrCreate(peer Peer) (*Circuit, error) {
	t.mu.RLock()
	c, ok := t.circuits[peer]
	t.mu.RUnlock()
	if ok && !c.IsClosed() {
		return c, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.circuits[peer]; ok {
		if !c.IsClosed() {
			return c, nil
		}
		delete(t.circuits, peer)
	}

	if len(t.circuits) >= t.max {
		return nil, ErrCapacityExceeded
	}

	c = New(peer, t.params)
	t.circuits[peer] = c
	t.log.WithField("peer", peer.String()).Info("Circuit created")
	return c, nil
}

// Find returns the peer's circuit if one exists and is not closed.
func (t *Table) Find(peer Peer) (*Circuit, bool) {
	t.mu.RLock()
	c, ok := t.circuits[peer]
	t.mu.RUnlock()
	if !ok || c.IsClosed() {
		return nil, false
	}
	return c, true
}

// Remove closes the peer's circuit and drops it from the table.
func (t *Table) Remove(peer Peer) {
	t.mu.Lock()
	c, ok := t.circuits[peer]
	if ok {
		delete(t.circuits, peer)
	}
	t.mu.Unlock()

	if ok {
		c.Close()
		t.log.WithField("peer", peer.String()).Info("Circuit removed")
	}
}

// All returns a snapshot of the live circuits.
func (t *Table) All() []*Circuit {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Circuit, 0, len(t.circuits))
	for _, c := range t.circuits {
		out = append(out, c)
	}
	return out
}

// Len reports the number of tracked circuits.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.circuits)
}

// Sweep runs the periodic health check over every circuit.
func (t *Table) Sweep(now time.Time) {
	for _, c := range t.All() {
		before := c.State()
		after := c.CheckHealth(now)
		if after != before {
			t.log.WithFields(logrus.Fields{
				"peer": c.Peer().String(),
				"from": before.String(),
				"to":   after.String(),
			}).Info("Circuit health changed")
		}
	}
}

// CleanupStale closes and removes circuits idle beyond the stale
// threshold, returning how many were evicted.
func (t *Table) CleanupStale(now time.Time) int {
	var stale []Peer

	t.mu.RLock()
	for peer, c := range t.circuits {
		if c.IdleFor(now) >= t.params.StaleAfter || c.IsClosed() {
			stale = append(stale, peer)
		}
	}
	t.mu.RUnlock()

	for _, peer := range stale {
		t.Remove(peer)
	}
	if len(stale) > 0 {
		t.log.WithField("count", len(stale)).Info("Stale circuits evicted")
	}
	return len(stale)
}

// Close closes every circuit and empties the table.
func (t *Table) Close() {
	t.mu.Lock()
	circuits := t.circuits
	t.circuits = make(map[Peer]*Circuit)
	t.mu.Unlock()

	for _, c := range circuits {
		c.Close()
	}
}
