package transport

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvw/lludp/pkg/circuit"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func fastReliabilityConfig() Config {
	cfg := DefaultConfig()
	cfg.ReliableTimeout = 20 * time.Millisecond
	cfg.CriticalTimeout = 10 * time.Millisecond
	cfg.ReliableBackoffBase = 10 * time.Millisecond
	cfg.CriticalBackoffBase = 5 * time.Millisecond
	cfg.RetryMaxAttempts = 2
	return cfg
}

func newTestEngine(t *testing.T, retransmit retransmitFunc) *reliabilityEngine {
	t.Helper()
	e := newReliabilityEngine(fastReliabilityConfig(), retransmit, quietLogger())
	t.Cleanup(e.close)
	return e
}

func TestReliabilityRetriesThenMarksLost(t *testing.T) {
	var resends atomic.Int32
	e := newTestEngine(t, func(*circuit.Circuit, *PendingPacket) error {
		resends.Add(1)
		return nil
	})

	c := circuit.New(circuit.Peer{Host: "127.0.0.1", Port: 9000}, circuit.DefaultHealthParams())
	e.add(c, &PendingPacket{
		Sequence:    1,
		Payload:     []byte{1},
		Reliability: Reliable,
		EnqueuedAt:  time.Now(),
		MaxRetries:  2,
	})

	require.Eventually(t, func() bool {
		return e.pendingCount(c.Peer()) == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(2), resends.Load(), "retried exactly MaxRetries times")
	assert.Equal(t, uint64(1), c.Stats().PacketsLost.Load())
	assert.Equal(t, uint32(0), c.OldestUnacked())
}

func TestReliabilityAckStopsRetries(t *testing.T) {
	var resends atomic.Int32
	e := newTestEngine(t, func(*circuit.Circuit, *PendingPacket) error {
		resends.Add(1)
		return nil
	})

	c := circuit.New(circuit.Peer{Host: "127.0.0.1", Port: 9001}, circuit.DefaultHealthParams())
	e.add(c, &PendingPacket{
		Sequence:    7,
		Payload:     []byte{7},
		Reliability: Critical,
		EnqueuedAt:  time.Now().Add(-40 * time.Millisecond),
		MaxRetries:  2,
	})
	assert.Equal(t, uint32(7), c.OldestUnacked())

	e.acknowledge(c, 7)
	assert.Equal(t, 0, e.pendingCount(c.Peer()))
	assert.Equal(t, uint32(0), c.OldestUnacked())
	assert.Greater(t, c.Stats().Ping(), time.Duration(0), "ack feeds the ping average")

	// The sequence never comes back after the ack.
	count := resends.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, count, resends.Load())
	assert.Equal(t, uint64(0), c.Stats().PacketsLost.Load())
}

func TestAcknowledgeUnknownSeqIsNoop(t *testing.T) {
	e := newTestEngine(t, func(*circuit.Circuit, *PendingPacket) error { return nil })

	c := circuit.New(circuit.Peer{Host: "127.0.0.1", Port: 9002}, circuit.DefaultHealthParams())
	e.acknowledge(c, 42)

	// Also a no-op once the peer has a pending table.
	e.add(c, &PendingPacket{Sequence: 1, Reliability: Reliable, EnqueuedAt: time.Now(), MaxRetries: 2})
	e.acknowledge(c, 42)
	e.acknowledge(c, 1)
	e.acknowledge(c, 1)

	assert.Equal(t, 0, e.pendingCount(c.Peer()))
	assert.Equal(t, uint64(0), c.Stats().PacketsLost.Load())
}

func TestCircuitCloseCancelsRetries(t *testing.T) {
	var resends atomic.Int32
	e := newTestEngine(t, func(*circuit.Circuit, *PendingPacket) error {
		resends.Add(1)
		return nil
	})

	c := circuit.New(circuit.Peer{Host: "127.0.0.1", Port: 9003}, circuit.DefaultHealthParams())
	e.add(c, &PendingPacket{Sequence: 1, Reliability: Reliable, EnqueuedAt: time.Now(), MaxRetries: 100})

	c.Close()

	require.Eventually(t, func() bool {
		return e.pendingCount(c.Peer()) == 0
	}, time.Second, 5*time.Millisecond)

	// No timer fires after the close.
	count := resends.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, count, resends.Load())
}

func TestThrottledRetransmitDoesNotSpendRetry(t *testing.T) {
	var calls atomic.Int32
	e := newTestEngine(t, func(_ *circuit.Circuit, pkt *PendingPacket) error {
		if calls.Add(1) <= 2 {
			return ErrThrottled
		}
		return nil
	})

	c := circuit.New(circuit.Peer{Host: "127.0.0.1", Port: 9004}, circuit.DefaultHealthParams())
	pkt := &PendingPacket{Sequence: 3, Reliability: Reliable, EnqueuedAt: time.Now(), MaxRetries: 1}
	e.add(c, pkt)

	require.Eventually(t, func() bool {
		return e.pendingCount(c.Peer()) == 0
	}, time.Second, 5*time.Millisecond)

	// Two throttled attempts did not consume the retry budget; only the
	// successful resend did before the packet expired.
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, pkt.RetryCount)
}
