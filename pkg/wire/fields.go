package wire

import (
	"errors"
	"math"
	"net"

	"github.com/google/uuid"
)

// ErrFieldMismatch is returned when a structured payload is shorter than
// the template it is being decoded against.
var ErrFieldMismatch = errors.New("payload does not match template field")

// Vector3 is a 3-component single-precision vector, stored on the wire as
// three consecutive little-endian F32 values.
type Vector3 struct {
	X, Y, Z float32
}

// Writer appends typed field values to a byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }
func (w *Writer) U16(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}
func (w *Writer) U32(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

func (w *Writer) Vector3(v Vector3) {
	w.F32(v.X)
	w.F32(v.Y)
	w.F32(v.Z)
}

func (w *Writer) UUID(id uuid.UUID) { w.buf = append(w.buf, id[:]...) }

// String writes a single-byte length prefix followed by the string bytes.
// Strings longer than 255 bytes are truncated to fit the prefix.
func (w *Writer) String(s string) {
	if len(s) > 255 {
		s = s[:255]
	}
	w.buf = append(w.buf, byte(len(s)))
	w.buf = append(w.buf, s...)
}

// IPAddr writes an IPv4 address as 4 bytes. The unspecified address is
// written for anything that is not IPv4.
func (w *Writer) IPAddr(ip net.IP) {
	if v4 := ip.To4(); v4 != nil {
		w.buf = append(w.buf, v4...)
		return
	}
	w.buf = append(w.buf, 0, 0, 0, 0)
}

func (w *Writer) IPPort(port uint16) { w.U16(port) }

// Reader consumes typed field values from a byte buffer. Each method
// returns ErrFieldMismatch once the buffer is exhausted.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over buf.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrFieldMismatch
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return le.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return le.Uint32(b), nil
}

func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) Vector3() (Vector3, error) {
	var v Vector3
	var err error
	if v.X, err = r.F32(); err != nil {
		return v, err
	}
	if v.Y, err = r.F32(); err != nil {
		return v, err
	}
	v.Z, err = r.F32()
	return v, err
}

func (r *Reader) UUID() (uuid.UUID, error) {
	b, err := r.take(16)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

func (r *Reader) String() (string, error) {
	n, err := r.U8()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) IPAddr() (net.IP, error) {
	b, err := r.take(4)
	if err != nil {
		return nil, err
	}
	return net.IPv4(b[0], b[1], b[2], b[3]).To4(), nil
}

func (r *Reader) IPPort() (uint16, error) { return r.U16() }
