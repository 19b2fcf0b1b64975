package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		flags byte
		seq   uint32
		msgID uint32
		size  int
	}{
		{"one-byte id", FlagReliable, 1, 1, 6},
		{"one-byte id max", 0, 42, 254, 6},
		{"escape promotes to two bytes", 0, 42, 255, 8},
		{"two-byte id", FlagZeroCoded, 0xDEADBEEF, 256, 8},
		{"two-byte id large", FlagReliable | FlagZeroCoded, 7, 0xFEFF, 8},
		{"escape prefix promotes to four bytes", 0, 7, 0xFF00, 11},
		{"four-byte id", 0, 4294967295, 65536, 11},
		{"four-byte id max", FlagReliable, 100, 0xFFFFFFFF, 11},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := EncodeHeader(tc.flags, tc.seq, tc.msgID)
			assert.Len(t, buf, tc.size)

			flags, seq, msgID, rest, err := DecodeHeader(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.flags, flags)
			assert.Equal(t, tc.seq, seq)
			assert.Equal(t, tc.msgID, msgID)
			assert.Empty(t, rest)
		})
	}
}

func TestDecodeHeaderPayload(t *testing.T) {
	buf := append(EncodeHeader(FlagReliable, 9, 300), 0xAA, 0xBB)

	flags, seq, msgID, rest, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, FlagReliable, flags)
	assert.Equal(t, uint32(9), seq)
	assert.Equal(t, uint32(300), msgID)
	assert.Equal(t, []byte{0xAA, 0xBB}, rest)
}

func TestDecodeHeaderMalformed(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"short", []byte{0, 1, 2, 3, 4}},
		{"truncated two-byte id", []byte{0, 1, 0, 0, 0, 0xFF, 1}},
		{"truncated four-byte id", []byte{0, 1, 0, 0, 0, 0xFF, 0xFF, 1, 2}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, _, err := DecodeHeader(tc.buf)
			assert.Equal(t, ErrMalformedHeader, err)
		})
	}
}
