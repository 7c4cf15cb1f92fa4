// Package metrics collects throughput and latency measurements for the
// benchmark harness.
//
// # Statistics
//
// A [Statistics] value covers one measurement window. Both the publisher and
// the receiver record into it:
//
//	stats := metrics.NewStatistics()
//	stats.RecordMessage(len(payload), latencyMs)
//	stats.MarkEnd()
//	fmt.Println(stats.MessagesPerSecond(), stats.P99LatencyMs())
//
// Message, byte and drop counters are atomics and may be bumped from any
// goroutine. Latency samples are appended under one mutex; this is the
// contention point at very high message rates.
//
// # Percentiles
//
// P99 uses the nearest-rank rule: samples are sorted ascending and the value
// at index floor(n*0.99), clamped to the last element, is returned. Min, max,
// P50, P90 and P99.9 in [Stats] come from an HDR histogram that sees every
// sample even when [WithSampleWindow] bounds the retained slice.
//
// # Windows
//
// Derived rates need a closed window. [Statistics.MarkEnd] closes it
// explicitly; otherwise the first query closes it, so repeated queries
// without new records return identical values. [Statistics.Live] reads
// without closing and is used for progress output.
package metrics
