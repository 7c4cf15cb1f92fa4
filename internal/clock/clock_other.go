//go:build !unix

package clock

import "time"

// Without a shared monotonic source we fall back to wall-clock time.
func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}
