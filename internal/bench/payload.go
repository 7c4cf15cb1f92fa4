package bench

import (
	"encoding/binary"

	"github.com/torosent/databridge/internal/config"
)

// NewPayload returns a size-byte message filled with byte(i % 256).
func NewPayload(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i & 0xFF)
	}
	return buf
}

// Stamp writes micros into the first eight bytes of buf. It reports false
// when buf is too short to carry a timestamp.
func Stamp(buf []byte, micros uint64) bool {
	if len(buf) < config.LatencyHeaderSize {
		return false
	}
	binary.LittleEndian.PutUint64(buf, micros)
	return true
}

// ReadStamp returns the timestamp in the first eight bytes of buf.
func ReadStamp(buf []byte) (uint64, bool) {
	if len(buf) < config.LatencyHeaderSize {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf), true
}
