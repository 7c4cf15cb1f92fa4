// Package clock exposes the microsecond timestamps embedded in benchmark
// payloads. Publisher and receiver must read the same clock for latency
// numbers to mean anything, so both go through NowMicros.
package clock

// NowMicros returns the current reading of the benchmark clock in
// microseconds.
func NowMicros() uint64 {
	return nowMicros()
}

// LatencyMs converts a send timestamp into elapsed milliseconds relative to
// now. Timestamps from the future (clock skew between hosts) yield a
// negative value, which callers treat as "no sample".
func LatencyMs(sentMicros, nowMicros uint64) float64 {
	return float64(int64(nowMicros-sentMicros)) / 1000.0
}
