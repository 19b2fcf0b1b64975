// Package wire implements the packet framing used on client-simulator
// circuits: the fixed header, the variable-width message id and the
// zero-run payload compression. All functions are pure and safe for
// concurrent use.
package wire

import (
	"encoding/binary"
	"errors"
)

var le = binary.LittleEndian

// Header flag bits.
const (
	// FlagReliable marks a packet that must be acknowledged by the remote.
	FlagReliable byte = 0x80

	// FlagZeroCoded marks a payload compressed with the zero-run codec.
	FlagZeroCoded byte = 0x40
)

// MinHeaderSize is the smallest valid header: flags, sequence and a
// single-byte message id.
const MinHeaderSize = 6

// idEscape introduces a wider message id. One escape byte extends the id
// to two bytes, two escape bytes extend it to four.
const idEscape byte = 0xFF

var (
	// ErrMalformedHeader is returned when a packet is too short to hold a
	// header or its message id runs past the end of the buffer.
	ErrMalformedHeader = errors.New("malformed packet header")

	// ErrUnknownMessageID is returned when a decoded message id has no
	// registered template.
	ErrUnknownMessageID = errors.New("unknown message id")
)

// EncodeHeader serializes a packet header. Message ids below 0xFF take
// one byte, ids below 0xFF00 take three and anything larger takes six.
// The id bytes are big-endian and ids whose leading byte would equal the
// escape marker promote to the next wider form, so decoding is never
// ambiguous.
func EncodeHeader(flags byte, seq uint32, msgID uint32) []byte {
	buf := make([]byte, 5, 11)
	buf[0] = flags
	le.PutUint32(buf[1:5], seq)

	switch {
	case msgID < uint32(idEscape):
		buf = append(buf, byte(msgID))
	case msgID < uint32(idEscape)<<8:
		buf = append(buf, idEscape, byte(msgID>>8), byte(msgID))
	default:
		buf = append(buf, idEscape, idEscape,
			byte(msgID>>24), byte(msgID>>16), byte(msgID>>8), byte(msgID))
	}
	return buf
}

// DecodeHeader parses a packet header and returns the remaining payload
// bytes. It fails with ErrMalformedHeader if the buffer is shorter than
// MinHeaderSize or the variable-width id is truncated.
func DecodeHeader(buf []byte) (flags byte, seq uint32, msgID uint32, rest []byte, err error) {
	if len(buf) < MinHeaderSize {
		return 0, 0, 0, nil, ErrMalformedHeader
	}

	flags = buf[0]
	seq = le.Uint32(buf[1:5])
	buf = buf[5:]

	switch {
	case buf[0] != idEscape:
		return flags, seq, uint32(buf[0]), buf[1:], nil
	case len(buf) >= 2 && buf[1] != idEscape:
		if len(buf) < 3 {
			return 0, 0, 0, nil, ErrMalformedHeader
		}
		msgID = uint32(buf[1])<<8 | uint32(buf[2])
		return flags, seq, msgID, buf[3:], nil
	default:
		if len(buf) < 6 {
			return 0, 0, 0, nil, ErrMalformedHeader
		}
		msgID = uint32(buf[2])<<24 | uint32(buf[3])<<16 | uint32(buf[4])<<8 | uint32(buf[5])
		return flags, seq, msgID, buf[6:], nil
	}
}
