package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openvw/lludp/pkg/circuit"
	"github.com/openvw/lludp/pkg/message"
	"github.com/openvw/lludp/pkg/metrics"
	"github.com/openvw/lludp/pkg/wire"
)

// ErrUnknownMessage is returned by Send when no template is registered
// under the given name.
var ErrUnknownMessage = errors.New("no template registered for message")

// Handler receives a decoded inbound message. Handlers run on the receive
// loop and see messages in arrival order.
type Handler func(peer circuit.Peer, body message.Body)

// Transport is the reliable message transport over a single UDP socket.
// It owns the circuit table, the reliability engine and the throttle
// gate; callers interact through Send, RegisterHandler and the
// statistics accessors.
type Transport struct {
	log logrus.FieldLogger
	cfg Config
	reg *message.Registry

	conn     *net.UDPConn
	table    *circuit.Table
	throttle *ThrottleGate
	rel      *reliabilityEngine
	store    LogStore
	metrics  *metrics.TransportMetrics

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	ackMu       sync.Mutex
	pendingAcks map[circuit.Peer][]uint32

	addrMu sync.Mutex
	addrs  map[circuit.Peer]*net.UDPAddr

	pingMu sync.Mutex
	pings  map[circuit.Peer]*pingState

	logMu   sync.Mutex
	entries map[circuit.Peer]*LogEntry
	dirty   map[circuit.Peer]struct{}

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

type pingState struct {
	next uint8
	sent map[uint8]time.Time
}

// New opens a UDP socket at cfg.ListenAddr and builds a transport around
// it. A nil registry selects the default catalog; a nil store keeps
// traffic logs in memory. The transport does not close the store.
func New(cfg Config, reg *message.Registry, store LogStore, log logrus.FieldLogger) (*Transport, error) {
	if reg == nil {
		reg = message.Default()
	}
	if store == nil {
		store = InMemoryLogStore()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve listen address")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}

	t := &Transport{
		log:         log.WithField("component", "transport"),
		cfg:         cfg,
		reg:         reg,
		conn:        conn,
		table:       circuit.NewTable(cfg.MaxCircuits, cfg.healthParams(), log),
		throttle:    NewThrottleGate(cfg.MaxBytesPerSecond),
		store:       store,
		handlers:    make(map[string][]Handler),
		pendingAcks: make(map[circuit.Peer][]uint32),
		addrs:       make(map[circuit.Peer]*net.UDPAddr),
		pings:       make(map[circuit.Peer]*pingState),
		entries:     make(map[circuit.Peer]*LogEntry),
		dirty:       make(map[circuit.Peer]struct{}),
		done:        make(chan struct{}),
	}
	t.rel = newReliabilityEngine(cfg, t.retransmitFrame, log)

	return t, nil
}

// LocalAddr returns the bound UDP address.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// SetMetrics attaches prometheus collectors. Call before Serve.
func (t *Transport) SetMetrics(m *metrics.TransportMetrics) { t.metrics = m }

// RegisterHandler subscribes h to inbound messages decoded from the
// named template.
func (t *Transport) RegisterHandler(name string, h Handler) {
	t.handlersMu.Lock()
	t.handlers[name] = append(t.handlers[name], h)
	t.handlersMu.Unlock()
}

// Serve runs the receive loop and the timer driver until ctx is
// cancelled or Close is called.
func (t *Transport) Serve(ctx context.Context) error {
	t.log.WithField("addr", t.LocalAddr().String()).Info("Transport serving")

	t.wg.Add(1)
	go t.readLoop()

	health := time.NewTicker(t.cfg.HealthInterval)
	cleanup := time.NewTicker(t.cfg.CleanupInterval)
	ackFlush := time.NewTicker(t.cfg.AckFlushInterval)
	ping := time.NewTicker(t.cfg.PingInterval)
	logFlush := time.NewTicker(t.cfg.LogFlushInterval)
	defer func() {
		health.Stop()
		cleanup.Stop()
		ackFlush.Stop()
		ping.Stop()
		logFlush.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			t.Close()
			return ctx.Err()
		case <-t.done:
			return nil

		case now := <-health.C:
			t.table.Sweep(now)
			if t.metrics != nil {
				t.metrics.ActiveCircuits.Set(float64(t.table.Len()))
			}
		case now := <-cleanup.C:
			t.cleanupStale(now)
		case <-ackFlush.C:
			t.flushAcks()
		case <-ping.C:
			t.sendPings()
		case <-logFlush.C:
			t.flushLogs()
		}
	}
}

// Close shuts the transport down: the socket is closed, retry timers are
// drained, circuits are closed and traffic logs get a final flush.
func (t *Transport) Close() {
	t.doneOnce.Do(func() {
		close(t.done)
		t.conn.Close() // nolint: errcheck
		t.rel.close()
		t.table.Close()
		t.flushLogs()
		t.log.Info("Transport closed")
	})
	t.wg.Wait()
}

// Send encodes the named message and puts it on the wire towards peer.
// It returns the assigned sequence number. Reliable and Critical sends
// are tracked until acknowledged or retried out.
func (t *Transport) Send(peer circuit.Peer, name string, body message.Body, rel Reliability) (uint32, error) {
	tpl, ok := t.reg.ByName(name)
	if !ok {
		return 0, errors.Wrap(ErrUnknownMessage, name)
	}

	c, err := t.table.GetOrCreate(peer)
	if err != nil {
		return 0, err
	}

	return t.sendMessage(c, tpl, body, rel)
}

func (t *Transport) sendMessage(c *circuit.Circuit, tpl *message.Template, body message.Body, rel Reliability) (uint32, error) {
	if c.IsClosed() {
		return 0, circuit.ErrCircuitClosed
	}

	payload, err := message.Marshal(tpl, body)
	if err != nil {
		return 0, errors.Wrapf(err, "marshal %s", tpl.Name)
	}

	var flags byte
	if tpl.Compress {
		payload = wire.EncodeZeroRun(payload)
		flags |= wire.FlagZeroCoded
	}
	if rel != Unreliable {
		flags |= wire.FlagReliable
	}

	seq := c.NextSeq()
	frame := append(wire.EncodeHeader(flags, seq, tpl.ID), payload...)

	if err := t.writeFrame(c, frame); err != nil {
		return 0, err
	}

	if rel != Unreliable {
		t.rel.add(c, &PendingPacket{
			Sequence:    seq,
			Payload:     frame,
			Reliability: rel,
			EnqueuedAt:  time.Now(),
			MaxRetries:  t.cfg.RetryMaxAttempts,
		})
	}

	return seq, nil
}

// writeFrame is the single choke point to the socket: throttle admission,
// the write itself and traffic accounting.
func (t *Transport) writeFrame(c *circuit.Circuit, frame []byte) error {
	peer := c.Peer()
	if !t.throttle.CanSend(peer, len(frame)) {
		return ErrThrottled
	}

	addr, err := t.peerAddr(peer)
	if err != nil {
		return errors.Wrap(err, "resolve peer")
	}

	if _, err := t.conn.WriteToUDP(frame, addr); err != nil {
		return errors.Wrap(err, "write")
	}

	c.RecordSend(len(frame))
	t.logEntry(peer).AddSent(uint64(len(frame)))
	if t.metrics != nil {
		t.metrics.PacketsOut.Inc()
		t.metrics.BytesOut.Add(float64(len(frame)))
	}
	return nil
}

// retransmitFrame replays a tracked reliable frame; the reliability
// engine owns the schedule.
func (t *Transport) retransmitFrame(c *circuit.Circuit, pkt *PendingPacket) error {
	err := t.writeFrame(c, pkt.Payload)
	if err == nil && t.metrics != nil {
		t.metrics.Retransmits.Inc()
	}
	return err
}

func (t *Transport) peerAddr(peer circuit.Peer) (*net.UDPAddr, error) {
	t.addrMu.Lock()
	addr, ok := t.addrs[peer]
	t.addrMu.Unlock()
	if ok {
		return addr, nil
	}

	addr, err := peer.Resolve()
	if err != nil {
		return nil, err
	}

	t.addrMu.Lock()
	t.addrs[peer] = addr
	t.addrMu.Unlock()
	return addr, nil
}

func (t *Transport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				t.log.WithError(err).Warn("Read failed")
				continue
			}
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		t.handleFrame(circuit.PeerFromAddr(raddr), frame)
	}
}

func (t *Transport) handleFrame(peer circuit.Peer, frame []byte) {
	flags, seq, msgID, payload, err := wire.DecodeHeader(frame)
	if err != nil {
		t.dropPacket(peer, err)
		return
	}

	c, err := t.table.GetOrCreate(peer)
	if err != nil {
		t.log.WithError(err).WithField("peer", peer.String()).Warn("Inbound packet rejected")
		return
	}

	lost := c.ProcessIncoming(seq, len(frame))
	t.logEntry(peer).AddRecv(uint64(len(frame)))
	if t.metrics != nil {
		t.metrics.PacketsIn.Inc()
		t.metrics.BytesIn.Add(float64(len(frame)))
		if lost > 0 {
			t.metrics.PacketsLost.Add(float64(lost))
		}
	}

	if flags&wire.FlagZeroCoded != 0 {
		payload, err = wire.DecodeZeroRun(payload)
		if err != nil {
			t.dropPacket(peer, err)
			return
		}
	}

	tpl, ok := t.reg.ByID(msgID)
	if !ok {
		t.dropPacket(peer, errors.Wrapf(wire.ErrUnknownMessageID, "id %d", msgID))
		return
	}

	if flags&wire.FlagReliable != 0 {
		t.queueAck(peer, seq)
	}

	body := message.Unmarshal(tpl, payload)
	t.handleInternal(c, tpl, body)
	t.dispatch(peer, tpl.Name, body)
}

// dropPacket recovers a decode failure locally: the packet is discarded
// and counted, circuit state is untouched.
func (t *Transport) dropPacket(peer circuit.Peer, err error) {
	if t.metrics != nil {
		t.metrics.DecodeErrors.Inc()
	}
	t.log.WithError(err).WithField("peer", peer.String()).Warn("Packet dropped")
}

// handleInternal services the transport's own messages before user
// dispatch: acknowledgment carriers and ping checks.
func (t *Transport) handleInternal(c *circuit.Circuit, tpl *message.Template, body message.Body) {
	switch tpl.Name {
	case "PacketAck":
		for _, packet := range body["Packets"] {
			if id, ok := packet["ID"].(uint32); ok {
				t.rel.acknowledge(c, id)
			}
		}

	case "StartPingCheck":
		id, _ := body.Get("PingID", "PingID").(uint8)
		reply := message.Body{"PingID": {{"PingID": id}}}
		if tpl, ok := t.reg.ByName("CompletePingCheck"); ok {
			if _, err := t.sendMessage(c, tpl, reply, Unreliable); err != nil {
				t.log.WithError(err).Debug("Ping reply not sent")
			}
		}

	case "CompletePingCheck":
		id, _ := body.Get("PingID", "PingID").(uint8)
		t.completePing(c, id)
	}
}

func (t *Transport) dispatch(peer circuit.Peer, name string, body message.Body) {
	t.handlersMu.RLock()
	handlers := t.handlers[name]
	t.handlersMu.RUnlock()

	for _, h := range handlers {
		h(peer, body)
	}
}

func (t *Transport) queueAck(peer circuit.Peer, seq uint32) {
	t.ackMu.Lock()
	t.pendingAcks[peer] = append(t.pendingAcks[peer], seq)
	t.ackMu.Unlock()
}

// flushAcks drains the queued acknowledgments into PacketAck messages,
// one batch per peer, at most 255 sequences per message.
func (t *Transport) flushAcks() {
	t.ackMu.Lock()
	queued := t.pendingAcks
	t.pendingAcks = make(map[circuit.Peer][]uint32)
	t.ackMu.Unlock()

	if len(queued) == 0 {
		return
	}

	tpl, ok := t.reg.ByName("PacketAck")
	if !ok {
		return
	}

	for peer, seqs := range queued {
		c, found := t.table.Find(peer)
		if !found {
			continue
		}

		for len(seqs) > 0 {
			batch := seqs
			if len(batch) > 255 {
				batch = batch[:255]
			}
			seqs = seqs[len(batch):]

			packets := make([]message.BlockValues, 0, len(batch))
			for _, seq := range batch {
				packets = append(packets, message.BlockValues{"ID": seq})
			}

			if _, err := t.sendMessage(c, tpl, message.Body{"Packets": packets}, Unreliable); err != nil {
				// A dropped ack batch just means the remote retries.
				t.log.WithError(err).WithField("peer", peer.String()).Debug("Ack batch not sent")
			}
		}
	}
}

// sendPings emits a StartPingCheck on every circuit that has seen
// traffic, advertising the oldest unacknowledged sequence.
func (t *Transport) sendPings() {
	tpl, ok := t.reg.ByName("StartPingCheck")
	if !ok {
		return
	}

	for _, c := range t.table.All() {
		switch c.State() {
		case circuit.StateActive, circuit.StateDegraded:
		default:
			continue
		}

		peer := c.Peer()
		t.pingMu.Lock()
		ps, ok := t.pings[peer]
		if !ok {
			ps = &pingState{sent: make(map[uint8]time.Time)}
			t.pings[peer] = ps
		}
		id := ps.next
		ps.next++
		ps.sent[id] = time.Now()
		t.pingMu.Unlock()

		body := message.Body{"PingID": {{
			"PingID":        id,
			"OldestUnacked": c.OldestUnacked(),
		}}}
		if _, err := t.sendMessage(c, tpl, body, Unreliable); err != nil {
			t.log.WithError(err).WithField("peer", peer.String()).Debug("Ping not sent")
		}
	}
}

func (t *Transport) completePing(c *circuit.Circuit, id uint8) {
	peer := c.Peer()

	t.pingMu.Lock()
	ps, ok := t.pings[peer]
	var started time.Time
	if ok {
		started, ok = ps.sent[id]
		delete(ps.sent, id)
	}
	t.pingMu.Unlock()

	if ok {
		rtt := time.Since(started)
		c.Stats().RecordPing(rtt)
		if t.metrics != nil {
			t.metrics.Ping.Observe(float64(rtt) / float64(time.Millisecond))
		}
	}
}

func (t *Transport) logEntry(peer circuit.Peer) *LogEntry {
	t.logMu.Lock()
	defer t.logMu.Unlock()

	entry, ok := t.entries[peer]
	if !ok {
		// Pick up persisted totals when the store has seen this peer.
		entry, _ = t.store.Entry(peer)
		if entry == nil {
			entry = new(LogEntry)
		}
		t.entries[peer] = entry
	}
	t.dirty[peer] = struct{}{}
	return entry
}

func (t *Transport) flushLogs() {
	t.logMu.Lock()
	dirty := t.dirty
	t.dirty = make(map[circuit.Peer]struct{})
	entries := make(map[circuit.Peer]*LogEntry, len(dirty))
	for peer := range dirty {
		entries[peer] = t.entries[peer]
	}
	t.logMu.Unlock()

	for peer, entry := range entries {
		if err := t.store.Record(peer, entry); err != nil {
			t.log.WithError(err).Warn("Failed to record traffic log")
		}
	}
}

func (t *Transport) cleanupStale(now time.Time) {
	for _, c := range t.table.All() {
		if c.IdleFor(now) >= t.cfg.healthParams().StaleAfter {
			peer := c.Peer()
			t.rel.dropPeer(peer)
			t.throttle.Forget(peer)
		}
	}
	t.table.CleanupStale(now)
}

// CloseCircuit tears down the circuit to peer, cancelling its pending
// retries.
func (t *Transport) CloseCircuit(peer circuit.Peer) {
	t.table.Remove(peer)
	t.rel.dropPeer(peer)
	t.throttle.Forget(peer)

	t.pingMu.Lock()
	delete(t.pings, peer)
	t.pingMu.Unlock()

	t.addrMu.Lock()
	delete(t.addrs, peer)
	t.addrMu.Unlock()
}

// Statistics returns a snapshot for the peer's circuit.
func (t *Transport) Statistics(peer circuit.Peer) (circuit.Snapshot, bool) {
	c, ok := t.table.Find(peer)
	if !ok {
		return circuit.Snapshot{}, false
	}
	return c.Stats().Snapshot(), true
}

// GlobalStatistics aggregates the snapshots of every live circuit.
func (t *Transport) GlobalStatistics() circuit.Snapshot {
	var total circuit.Snapshot
	for _, c := range t.table.All() {
		total.Merge(c.Stats().Snapshot())
	}
	return total
}
