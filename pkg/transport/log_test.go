package transport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvw/lludp/pkg/circuit"
)

func TestInMemoryLogStore(t *testing.T) {
	store := InMemoryLogStore()
	peer := circuit.Peer{Host: "127.0.0.1", Port: 9000}

	entry, err := store.Entry(peer)
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry = new(LogEntry)
	entry.AddSent(100)
	entry.AddRecv(50)
	require.NoError(t, store.Record(peer, entry))

	got, err := store.Entry(peer)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Sent())
	assert.Equal(t, uint64(50), got.Recv())
}

func TestBoltLogStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.db")
	peer := circuit.Peer{Host: "10.0.0.1", Port: 13000}

	store, err := BoltLogStore(path)
	require.NoError(t, err)

	entry := new(LogEntry)
	entry.AddSent(4096)
	entry.AddRecv(8192)
	require.NoError(t, store.Record(peer, entry))
	require.NoError(t, store.Close())

	store, err = BoltLogStore(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	got, err := store.Entry(peer)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(4096), got.Sent())
	assert.Equal(t, uint64(8192), got.Recv())

	missing, err := store.Entry(circuit.Peer{Host: "10.0.0.2", Port: 13000})
	require.NoError(t, err)
	assert.Nil(t, missing)
}
