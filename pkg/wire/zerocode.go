package wire

import "errors"

// ErrTruncatedZeroRun is returned when a zero-coded payload ends in the
// middle of a run marker.
var ErrTruncatedZeroRun = errors.New("zero-coded payload truncated")

// EncodeZeroRun compresses a payload by collapsing each maximal run of
// zero bytes into the pair 0x00 <count>. Runs longer than 255 are split
// into multiple pairs. Non-zero bytes pass through unchanged.
func EncodeZeroRun(data []byte) []byte {
	out := make([]byte, 0, len(data))

	for i := 0; i < len(data); {
		if data[i] != 0 {
			out = append(out, data[i])
			i++
			continue
		}

		run := 0
		for i < len(data) && data[i] == 0 {
			run++
			i++
		}
		for run > 255 {
			out = append(out, 0, 255)
			run -= 255
		}
		out = append(out, 0, byte(run))
	}

	return out
}

// DecodeZeroRun expands a payload produced by EncodeZeroRun. It is the
// exact inverse: DecodeZeroRun(EncodeZeroRun(b)) equals b for every b.
func DecodeZeroRun(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))

	for i := 0; i < len(data); i++ {
		if data[i] != 0 {
			out = append(out, data[i])
			continue
		}
		i++
		if i >= len(data) {
			return nil, ErrTruncatedZeroRun
		}
		for n := int(data[i]); n > 0; n-- {
			out = append(out, 0)
		}
	}

	return out, nil
}
