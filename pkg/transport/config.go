// Package transport implements the reliable message transport over UDP:
// the send path, the receive loop, acknowledgment-driven retries,
// per-peer throttling and traffic logging.
package transport

import (
	"time"

	"github.com/openvw/lludp/pkg/circuit"
)

// Throttle profiles in bytes per second.
const (
	// ThrottleDefault is the canonical per-peer budget.
	ThrottleDefault = 100_000

	// ThrottleFast is the high-bandwidth profile.
	ThrottleFast = 1_000_000
)

// Config carries the recognized transport options.
type Config struct {
	// ListenAddr is the local UDP address, e.g. ":0".
	ListenAddr string `json:"listen_addr"`

	MaxCircuits       int   `json:"max_circuits"`
	MaxBytesPerSecond int64 `json:"max_bytes_per_second"`
	RetryMaxAttempts  int   `json:"retry_max_attempts"`

	CircuitTimeout  time.Duration `json:"circuit_timeout"`
	CircuitDegraded time.Duration `json:"circuit_degraded"`
	CircuitStale    time.Duration `json:"circuit_stale"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	HealthInterval  time.Duration `json:"health_interval"`

	// Reliability timing. Tests shrink these to keep retry runs fast.
	ReliableTimeout     time.Duration `json:"reliable_timeout"`
	CriticalTimeout     time.Duration `json:"critical_timeout"`
	ReliableBackoffBase time.Duration `json:"reliable_backoff_base"`
	CriticalBackoffBase time.Duration `json:"critical_backoff_base"`

	AckFlushInterval time.Duration `json:"ack_flush_interval"`
	PingInterval     time.Duration `json:"ping_interval"`
	LogFlushInterval time.Duration `json:"log_flush_interval"`
}

// DefaultConfig returns the standard option set.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":0",
		MaxCircuits:       256,
		MaxBytesPerSecond: ThrottleDefault,
		RetryMaxAttempts:  3,

		CircuitTimeout:  60 * time.Second,
		CircuitDegraded: 30 * time.Second,
		CircuitStale:    300 * time.Second,
		CleanupInterval: 30 * time.Second,
		HealthInterval:  10 * time.Second,

		ReliableTimeout:     5 * time.Second,
		CriticalTimeout:     3 * time.Second,
		ReliableBackoffBase: time.Second,
		CriticalBackoffBase: 500 * time.Millisecond,

		AckFlushInterval: 250 * time.Millisecond,
		PingInterval:     5 * time.Second,
		LogFlushInterval: 3 * time.Second,
	}
}

func (c Config) healthParams() circuit.HealthParams {
	p := circuit.DefaultHealthParams()
	if c.CircuitDegraded > 0 {
		p.SoftDegradeAfter = c.CircuitDegraded
	}
	if c.CircuitTimeout > 0 {
		p.TimeoutAfter = c.CircuitTimeout
	}
	if c.CircuitStale > 0 {
		p.StaleAfter = c.CircuitStale
	}
	return p
}
