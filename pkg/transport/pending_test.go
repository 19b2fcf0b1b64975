package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newPending(seq uint32) *PendingPacket {
	return &PendingPacket{
		Sequence:    seq,
		Payload:     []byte{byte(seq)},
		Reliability: Reliable,
		EnqueuedAt:  time.Now(),
		MaxRetries:  3,
	}
}

func TestPendingMapOldest(t *testing.T) {
	m := newPendingMap()
	assert.Equal(t, uint32(0), m.oldest())

	m.add(newPending(5))
	m.add(newPending(2))
	m.add(newPending(9))
	assert.Equal(t, uint32(2), m.oldest())
	assert.Equal(t, 3, m.len())

	_, ok := m.remove(2)
	assert.True(t, ok)
	assert.Equal(t, uint32(5), m.oldest())

	_, ok = m.remove(2)
	assert.False(t, ok, "second removal of the same seq")

	m.remove(5)
	m.remove(9)
	assert.Equal(t, uint32(0), m.oldest())
	assert.Equal(t, 0, m.len())
}

func TestPendingMapReplacesDuplicateSeq(t *testing.T) {
	m := newPendingMap()

	first := newPending(7)
	second := newPending(7)
	m.add(first)
	m.add(second)

	assert.Equal(t, 1, m.len())
	pkt, ok := m.remove(7)
	assert.True(t, ok)
	assert.Same(t, second, pkt)
}
