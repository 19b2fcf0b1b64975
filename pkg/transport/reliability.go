package transport

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openvw/lludp/pkg/circuit"
)

// retransmitFunc puts a tracked frame back on the wire. It returns
// ErrThrottled when the throttle gate refuses the send.
type retransmitFunc func(c *circuit.Circuit, pkt *PendingPacket) error

// reliabilityEngine retries reliable packets until they are acknowledged
// or their retry budget is spent. Each tracked packet gets its own timer
// goroutine selecting on its ack channel, the circuit's done channel and
// engine shutdown, so a slow circuit never stalls the others.
type reliabilityEngine struct {
	log        logrus.FieldLogger
	cfg        Config
	retransmit retransmitFunc

	mu      sync.Mutex
	pending map[circuit.Peer]*pendingMap

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

func newReliabilityEngine(cfg Config, retransmit retransmitFunc, log logrus.FieldLogger) *reliabilityEngine {
	return &reliabilityEngine{
		log:        log.WithField("component", "reliability"),
		cfg:        cfg,
		retransmit: retransmit,
		pending:    make(map[circuit.Peer]*pendingMap),
		done:       make(chan struct{}),
	}
}

func (e *reliabilityEngine) timeoutFor(r Reliability) time.Duration {
	if r == Critical {
		return e.cfg.CriticalTimeout
	}
	return e.cfg.ReliableTimeout
}

func (e *reliabilityEngine) backoffBase(r Reliability) time.Duration {
	if r == Critical {
		return e.cfg.CriticalBackoffBase
	}
	return e.cfg.ReliableBackoffBase
}

func (e *reliabilityEngine) mapFor(peer circuit.Peer) *pendingMap {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.pending[peer]
	if !ok {
		m = newPendingMap()
		e.pending[peer] = m
	}
	return m
}

// add starts tracking a reliable packet that was just sent.
func (e *reliabilityEngine) add(c *circuit.Circuit, pkt *PendingPacket) {
	if pkt.Reliability == Unreliable {
		return
	}

	pkt.acked = make(chan struct{})
	m := e.mapFor(c.Peer())
	m.add(pkt)
	c.SetOldestUnacked(m.oldest())

	e.wg.Add(1)
	go e.watch(c, m, pkt)
}

// watch is the per-packet retry timer.
func (e *reliabilityEngine) watch(c *circuit.Circuit, m *pendingMap, pkt *PendingPacket) {
	defer e.wg.Done()

	timer := time.NewTimer(e.timeoutFor(pkt.Reliability))
	defer timer.Stop()

	for {
		select {
		case <-pkt.acked:
			return
		case <-c.Done():
			m.remove(pkt.Sequence)
			return
		case <-e.done:
			return

		case <-timer.C:
			if pkt.RetryCount >= pkt.MaxRetries {
				if _, ok := m.remove(pkt.Sequence); ok {
					c.RecordLost()
					c.SetOldestUnacked(m.oldest())
					e.log.WithFields(logrus.Fields{
						"peer": c.Peer().String(),
						"seq":  pkt.Sequence,
					}).Warn("Reliable packet lost after final retry")
				}
				return
			}

			err := e.retransmit(c, pkt)
			switch err {
			case nil:
				pkt.RetryCount++
				c.Stats().Retransmits.Add(1)
				timer.Reset(e.backoffBase(pkt.Reliability) * time.Duration(1<<pkt.RetryCount))
			case ErrThrottled:
				// Budget refused the resend; try again after the base
				// delay without spending a retry.
				timer.Reset(e.backoffBase(pkt.Reliability))
			default:
				e.log.WithError(err).WithField("seq", pkt.Sequence).Warn("Retransmit failed")
				timer.Reset(e.backoffBase(pkt.Reliability))
			}
		}
	}
}

// acknowledge removes a tracked sequence and folds the measured
// round-trip time into the circuit's ping average. Acknowledging an
// unknown sequence is a no-op; a sequence never comes back once removed.
func (e *reliabilityEngine) acknowledge(c *circuit.Circuit, seq uint32) {
	e.mu.Lock()
	m, ok := e.pending[c.Peer()]
	e.mu.Unlock()
	if !ok {
		return
	}

	pkt, ok := m.remove(seq)
	if !ok {
		return
	}
	close(pkt.acked)

	c.Stats().RecordPing(time.Since(pkt.EnqueuedAt))
	c.RecordAck()
	c.SetOldestUnacked(m.oldest())
}

// dropPeer forgets a removed circuit's pending table. The circuit's done
// channel has already woken its timers.
func (e *reliabilityEngine) dropPeer(peer circuit.Peer) {
	e.mu.Lock()
	delete(e.pending, peer)
	e.mu.Unlock()
}

// pendingCount reports how many packets are tracked for peer.
func (e *reliabilityEngine) pendingCount(peer circuit.Peer) int {
	e.mu.Lock()
	m, ok := e.pending[peer]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	return m.len()
}

// close stops every retry timer and waits for them to exit.
func (e *reliabilityEngine) close() {
	e.doneOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}
