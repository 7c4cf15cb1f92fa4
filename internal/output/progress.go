package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/databridge/internal/metrics"
)

// ProgressReporter prints a statistics line at a fixed interval.
type ProgressReporter struct {
	stats    *metrics.Statistics
	interval time.Duration
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   atomic.Bool
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(stats *metrics.Statistics, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		stats:    stats,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins printing in a background goroutine. A reporter runs at most
// once.
func (p *ProgressReporter) Start() {
	if p.interval <= 0 || !p.active.CompareAndSwap(false, true) {
		return
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if p.active.CompareAndSwap(true, false) {
		close(p.done)
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(p.writer, FormatProgress(p.stats.Live()))
		case <-p.done:
			return
		}
	}
}

// FormatProgress renders one progress line. Nothing but the elapsed time
// is shown during the first second.
func FormatProgress(stats metrics.Stats) string {
	secs := int64(stats.Duration / time.Second)
	if secs <= 0 {
		return "[Stats] 0s | waiting for data"
	}
	line := fmt.Sprintf("[Stats] %ds | Messages: %d | Rate: %d msg/s | Throughput: %.2f MB/s",
		secs,
		stats.TotalMessages,
		stats.TotalMessages/uint64(secs),
		float64(stats.TotalBytes)/(bytesPerMegabyte*float64(secs)))
	if stats.Dropped > 0 {
		line += fmt.Sprintf(" | Dropped: %d", stats.Dropped)
	}
	if stats.LatencySamples > 0 {
		line += fmt.Sprintf(" | P99: %.2fms", stats.P99LatencyMs)
	}
	return line
}
