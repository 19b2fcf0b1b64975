package circuit

import (
	"math"
	"sync/atomic"
	"time"
)

// pingSmoothing is the EWMA factor folded in per round-trip sample.
const pingSmoothing = 0.1

// Health is a coarse quality label derived from loss and ping.
type Health int

const (
	HealthExcellent Health = iota
	HealthGood
	HealthFair
	HealthPoor
)

func (h Health) String() string {
	switch h {
	case HealthExcellent:
		return "Excellent"
	case HealthGood:
		return "Good"
	case HealthFair:
		return "Fair"
	default:
		return "Poor"
	}
}

// Stats holds a circuit's traffic counters. All fields are updated
// atomically from the send and receive paths and may be read at any time.
type Stats struct {
	PacketsIn   atomic.Uint64
	PacketsOut  atomic.Uint64
	PacketsLost atomic.Uint64
	BytesIn     atomic.Uint64
	BytesOut    atomic.Uint64

	// Retransmits counts reliable packets that were sent more than once.
	Retransmits atomic.Uint64

	// pingBits holds the float64 bits of the smoothed round-trip time in
	// milliseconds.
	pingBits atomic.Uint64
}

// RecordPing folds a round-trip sample into the smoothed ping. The first
// sample is taken as-is.
func (s *Stats) RecordPing(rtt time.Duration) {
	sample := float64(rtt) / float64(time.Millisecond)
	for {
		old := s.pingBits.Load()
		avg := math.Float64frombits(old)
		if avg == 0 {
			avg = sample
		} else {
			avg = avg*(1-pingSmoothing) + sample*pingSmoothing
		}
		if s.pingBits.CompareAndSwap(old, math.Float64bits(avg)) {
			return
		}
	}
}

// Ping returns the smoothed round-trip time, zero before the first sample.
func (s *Stats) Ping() time.Duration {
	ms := math.Float64frombits(s.pingBits.Load())
	return time.Duration(ms * float64(time.Millisecond))
}

// LossRatio reports lost packets relative to packets sent. It is zero
// until traffic has flowed.
func (s *Stats) LossRatio() float64 {
	sent := s.PacketsOut.Load()
	if sent == 0 {
		return 0
	}
	return float64(s.PacketsLost.Load()) / float64(sent)
}

// Snapshot is a point-in-time copy of a circuit's statistics.
type Snapshot struct {
	PacketsIn   uint64  `json:"packets_in"`
	PacketsOut  uint64  `json:"packets_out"`
	PacketsLost uint64  `json:"packets_lost"`
	BytesIn     uint64  `json:"bytes_in"`
	BytesOut    uint64  `json:"bytes_out"`
	Retransmits uint64  `json:"retransmits"`
	LossPercent float64 `json:"loss_percent"`

	Ping   time.Duration `json:"ping"`
	Health Health        `json:"-"`
}

// Snapshot captures the counters and derives loss percentage and the
// health label.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		PacketsIn:   s.PacketsIn.Load(),
		PacketsOut:  s.PacketsOut.Load(),
		PacketsLost: s.PacketsLost.Load(),
		BytesIn:     s.BytesIn.Load(),
		BytesOut:    s.BytesOut.Load(),
		Retransmits: s.Retransmits.Load(),
		LossPercent: s.LossRatio() * 100,
		Ping:        s.Ping(),
	}
	snap.Health = healthLabel(snap.LossPercent, snap.Ping)
	return snap
}

func healthLabel(lossPercent float64, ping time.Duration) Health {
	switch {
	case lossPercent < 1 && ping < 100*time.Millisecond:
		return HealthExcellent
	case lossPercent < 5 && ping < 250*time.Millisecond:
		return HealthGood
	case lossPercent < 10 && ping < 600*time.Millisecond:
		return HealthFair
	default:
		return HealthPoor
	}
}

// Merge adds another snapshot's counters into this one; used for the
// global aggregate.
func (s *Snapshot) Merge(other Snapshot) {
	s.PacketsIn += other.PacketsIn
	s.PacketsOut += other.PacketsOut
	s.PacketsLost += other.PacketsLost
	s.BytesIn += other.BytesIn
	s.BytesOut += other.BytesOut
	s.Retransmits += other.Retransmits

	if s.PacketsOut > 0 {
		s.LossPercent = float64(s.PacketsLost) / float64(s.PacketsOut) * 100
	}
}
