package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeer(port uint16) Peer {
	return Peer{Host: "127.0.0.1", Port: port}
}

func TestNextSeqMonotonic(t *testing.T) {
	c := New(testPeer(9000), DefaultHealthParams())

	prev := uint32(0)
	for i := 0; i < 1000; i++ {
		seq := c.NextSeq()
		require.Greater(t, seq, prev)
		prev = seq
	}
	assert.Equal(t, uint32(1000), prev)
}

func TestNextSeqConcurrentDistinct(t *testing.T) {
	c := New(testPeer(9000), DefaultHealthParams())

	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[uint32]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				seq := c.NextSeq()
				mu.Lock()
				_, dup := seen[seq]
				seen[seq] = struct{}{}
				mu.Unlock()
				assert.False(t, dup, "duplicate sequence %d", seq)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestProcessIncomingGapLoss(t *testing.T) {
	c := New(testPeer(9000), DefaultHealthParams())

	c.ProcessIncoming(1, 10)
	assert.Equal(t, uint64(0), c.Stats().PacketsLost.Load())

	// Jump from expected 2 to 5: sequences 2, 3, 4 are assumed lost.
	c.ProcessIncoming(5, 10)
	assert.Equal(t, uint64(3), c.Stats().PacketsLost.Load())

	// Expected is now 6.
	c.ProcessIncoming(6, 10)
	assert.Equal(t, uint64(3), c.Stats().PacketsLost.Load())
}

func TestProcessIncomingDuplicateIgnored(t *testing.T) {
	c := New(testPeer(9000), DefaultHealthParams())

	c.ProcessIncoming(1, 10)
	c.ProcessIncoming(2, 10)
	c.ProcessIncoming(1, 10) // late duplicate

	assert.Equal(t, uint64(0), c.Stats().PacketsLost.Load())
	assert.Equal(t, uint64(3), c.Stats().PacketsIn.Load())

	// Window did not move backwards.
	c.ProcessIncoming(3, 10)
	assert.Equal(t, uint64(0), c.Stats().PacketsLost.Load())
}

func TestStateActivatesOnFirstInbound(t *testing.T) {
	c := New(testPeer(9000), DefaultHealthParams())
	assert.Equal(t, StateInitializing, c.State())

	c.ProcessIncoming(1, 10)
	assert.Equal(t, StateActive, c.State())
}

func TestStateDegradesAndBlocksOnLoss(t *testing.T) {
	c := New(testPeer(9000), DefaultHealthParams())
	c.ProcessIncoming(1, 10)

	for i := 0; i < 100; i++ {
		c.RecordSend(10)
	}

	// 15% loss: Active -> Degraded.
	for i := 0; i < 15; i++ {
		c.RecordLost()
	}
	assert.Equal(t, StateDegraded, c.State())

	// Past 25% loss: Degraded -> Blocked.
	for i := 0; i < 15; i++ {
		c.RecordLost()
	}
	assert.Equal(t, StateBlocked, c.State())
}

func TestStateRecoversOnPositiveHealth(t *testing.T) {
	c := New(testPeer(9000), DefaultHealthParams())
	c.ProcessIncoming(1, 10)

	for i := 0; i < 10; i++ {
		c.RecordSend(10)
	}
	for i := 0; i < 2; i++ {
		c.RecordLost()
	}
	assert.Equal(t, StateDegraded, c.State())

	// Dilute the loss ratio below the degrade threshold, then deliver a
	// positive health event.
	for i := 0; i < 30; i++ {
		c.RecordSend(10)
	}
	c.RecordAck()
	assert.Equal(t, StateActive, c.State())
}

func TestCheckHealthInactivity(t *testing.T) {
	params := DefaultHealthParams()
	c := New(testPeer(9000), params)
	c.ProcessIncoming(1, 10)

	now := time.Now()
	assert.Equal(t, StateActive, c.CheckHealth(now))

	// Quiet for longer than the soft threshold.
	assert.Equal(t, StateDegraded, c.CheckHealth(now.Add(params.SoftDegradeAfter+time.Second)))

	// Quiet past the hard timeout.
	assert.Equal(t, StateTimedOut, c.CheckHealth(now.Add(params.TimeoutAfter+time.Second)))
}

func TestCloseIsTerminal(t *testing.T) {
	c := New(testPeer(9000), DefaultHealthParams())
	c.Close()
	c.Close()

	assert.True(t, c.IsClosed())
	assert.Equal(t, StateClosed, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestStatsPingEWMA(t *testing.T) {
	var s Stats

	s.RecordPing(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, s.Ping())

	s.RecordPing(200 * time.Millisecond)
	assert.InDelta(t, float64(110*time.Millisecond), float64(s.Ping()), float64(time.Millisecond))
}

func TestHealthLabels(t *testing.T) {
	cases := []struct {
		loss float64
		ping time.Duration
		want Health
	}{
		{0, 10 * time.Millisecond, HealthExcellent},
		{0.5, 99 * time.Millisecond, HealthExcellent},
		{2, 100 * time.Millisecond, HealthGood},
		{7, 300 * time.Millisecond, HealthFair},
		{12, 50 * time.Millisecond, HealthPoor},
		{0, 2 * time.Second, HealthPoor},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, healthLabel(tc.loss, tc.ping), "loss=%v ping=%v", tc.loss, tc.ping)
	}
}
