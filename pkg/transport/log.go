package transport

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.etcd.io/bbolt"

	"github.com/openvw/lludp/pkg/circuit"
)

// LogEntry accumulates the traffic volume exchanged with one peer. It is
// updated on every send and receive and flushed to a LogStore
// periodically.
type LogEntry struct {
	sent atomic.Uint64
	recv atomic.Uint64
}

// AddSent accounts outgoing payload bytes.
func (e *LogEntry) AddSent(n uint64) { e.sent.Add(n) }

// AddRecv accounts incoming payload bytes.
func (e *LogEntry) AddRecv(n uint64) { e.recv.Add(n) }

// Sent returns total bytes sent to the peer.
func (e *LogEntry) Sent() uint64 { return e.sent.Load() }

// Recv returns total bytes received from the peer.
func (e *LogEntry) Recv() uint64 { return e.recv.Load() }

type logEntryJSON struct {
	Sent uint64 `json:"sent"`
	Recv uint64 `json:"received"`
}

// MarshalJSON implements json.Marshaler.
func (e *LogEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(logEntryJSON{Sent: e.Sent(), Recv: e.Recv()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *LogEntry) UnmarshalJSON(b []byte) error {
	var j logEntryJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	e.sent.Store(j.Sent)
	e.recv.Store(j.Recv)
	return nil
}

// LogStore persists per-peer traffic log entries.
type LogStore interface {
	Entry(peer circuit.Peer) (*LogEntry, error)
	Record(peer circuit.Peer, entry *LogEntry) error
	Close() error
}

type inMemoryLogStore struct {
	mu      sync.Mutex
	entries map[circuit.Peer]*LogEntry
}

// InMemoryLogStore keeps traffic logs in process memory.
func InMemoryLogStore() LogStore {
	return &inMemoryLogStore{entries: make(map[circuit.Peer]*LogEntry)}
}

func (s *inMemoryLogStore) Entry(peer circuit.Peer) (*LogEntry, error) {
	s.mu.Lock()
	entry := s.entries[peer]
	s.mu.Unlock()
	return entry, nil
}

func (s *inMemoryLogStore) Record(peer circuit.Peer, entry *LogEntry) error {
	s.mu.Lock()
	s.entries[peer] = entry
	s.mu.Unlock()
	return nil
}

func (s *inMemoryLogStore) Close() error { return nil }

var logBucket = []byte("traffic")

type boltLogStore struct {
	db *bbolt.DB
}

// BoltLogStore persists traffic logs in a bbolt database at path so
// volumes survive restarts.
func BoltLogStore(path string) (LogStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		db.Close() // nolint: errcheck
		return nil, err
	}

	return &boltLogStore{db: db}, nil
}

func (s *boltLogStore) Entry(peer circuit.Peer) (*LogEntry, error) {
	var entry *LogEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(logBucket).Get([]byte(peer.String()))
		if raw == nil {
			return nil
		}
		entry = new(LogEntry)
		return json.Unmarshal(raw, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *boltLogStore) Record(peer circuit.Peer, entry *LogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(logBucket).Put([]byte(peer.String()), raw)
	})
}

func (s *boltLogStore) Close() error { return s.db.Close() }
