package transport

import (
	"sync"
	"time"

	"github.com/google/btree"
)

// Reliability is the delivery guarantee requested for a send.
type Reliability int

const (
	// Unreliable packets are fire-and-forget.
	Unreliable Reliability = iota

	// Reliable packets are retried until acknowledged or exhausted.
	Reliable

	// Critical packets are retried on a tighter schedule.
	Critical
)

func (r Reliability) String() string {
	switch r {
	case Unreliable:
		return "Unreliable"
	case Reliable:
		return "Reliable"
	case Critical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// PendingPacket is an outgoing reliable packet awaiting acknowledgment.
type PendingPacket struct {
	Sequence    uint32
	Payload     []byte // full wire frame, ready for retransmission
	Reliability Reliability
	EnqueuedAt  time.Time
	RetryCount  int
	MaxRetries  int

	// acked is closed exactly once when the remote acknowledges the
	// sequence; the retry timer selects on it.
	acked chan struct{}
}

type pendingSeq uint32

func (a pendingSeq) Less(b btree.Item) bool { return a < b.(pendingSeq) }

// pendingMap tracks one circuit's unacknowledged packets. A btree over
// the sequence numbers keeps the oldest unacked sequence cheap to read.
type pendingMap struct {
	mu      sync.Mutex
	packets map[uint32]*PendingPacket
	seqs    *btree.BTree
}

func newPendingMap() *pendingMap {
	return &pendingMap{
		packets: make(map[uint32]*PendingPacket),
		seqs:    btree.New(2),
	}
}

// add inserts a packet. A sequence number appears at most once; a
// duplicate insert replaces the stale entry.
func (m *pendingMap) add(pkt *PendingPacket) {
	m.mu.Lock()
	m.packets[pkt.Sequence] = pkt
	m.seqs.ReplaceOrInsert(pendingSeq(pkt.Sequence))
	m.mu.Unlock()
}

// remove deletes the sequence and returns its packet, if tracked.
func (m *pendingMap) remove(seq uint32) (*PendingPacket, bool) {
	m.mu.Lock()
	pkt, ok := m.packets[seq]
	if ok {
		delete(m.packets, seq)
		m.seqs.Delete(pendingSeq(seq))
	}
	m.mu.Unlock()
	return pkt, ok
}

// oldest returns the smallest tracked sequence, zero when empty.
func (m *pendingMap) oldest() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	min, ok := m.seqs.Min().(pendingSeq)
	if !ok {
		return 0
	}
	return uint32(min)
}

func (m *pendingMap) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.packets)
}
