package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/oklog/ulid/v2"
)

const bytesPerMegabyte = 1024.0 * 1024.0

// Statistics aggregates message counts and latency samples for one
// measurement window. Counters are lock-free; latency samples share a
// single mutex.
type Statistics struct {
	totalMessages atomic.Uint64
	totalBytes    atomic.Uint64
	dropped       atomic.Uint64

	mu         sync.Mutex
	samples    []float64
	window     int
	next       int
	count      int64
	sumLatency float64
	hist       *hdrhistogram.Histogram
	start      time.Time
	end        time.Time
	runID      string
}

// Option customises a Statistics instance.
type Option func(*Statistics)

// WithSampleWindow bounds the retained latency samples to the most recent n
// values. The nearest-rank percentile is then computed over that window
// while the average and histogram still cover every sample. n <= 0 keeps
// every sample.
func WithSampleWindow(n int) Option {
	return func(s *Statistics) {
		if n > 0 {
			s.window = n
		}
	}
}

// Stats is a point-in-time view of a Statistics window.
type Stats struct {
	RunID          string        `json:"run_id"`
	TotalMessages  uint64        `json:"total_messages"`
	TotalBytes     uint64        `json:"total_bytes"`
	Dropped        uint64        `json:"dropped_messages"`
	LatencySamples int64         `json:"latency_samples"`
	Duration       time.Duration `json:"-"`
	MessagesPerSec float64       `json:"messages_per_sec"`
	ThroughputMBps float64       `json:"throughput_mb_per_sec"`

	// JSON-friendly millisecond fields.
	DurationMs    float64 `json:"duration_ms"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
	P999LatencyMs float64 `json:"p999_latency_ms"`
}

// NewStatistics returns a Statistics whose window starts now.
func NewStatistics(opts ...Option) *Statistics {
	s := &Statistics{}
	for _, opt := range opts {
		opt(s)
	}
	s.Reset()
	return s
}

// Reset zeroes the counters, drops all latency samples and opens a new
// measurement window starting now.
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalMessages.Store(0)
	s.totalBytes.Store(0)
	s.dropped.Store(0)
	if s.window > 0 {
		s.samples = make([]float64, 0, s.window)
	} else {
		s.samples = nil
	}
	s.next = 0
	s.count = 0
	s.sumLatency = 0
	// Track latencies from 1µs up to 60s with 3 significant figures.
	s.hist = hdrhistogram.New(1, 60_000_000, 3)
	s.start = time.Now()
	s.end = time.Time{}
	s.runID = ulid.Make().String()
}

// RecordMessage counts one message of the given size. Latencies <= 0 mean
// "not measured" and are not sampled.
func (s *Statistics) RecordMessage(bytes int, latencyMs float64) {
	if latencyMs <= 0 {
		s.totalMessages.Add(1)
		s.totalBytes.Add(uint64(bytes))
		return
	}

	// Counted under mu so a concurrent Reset never splits a message from
	// its latency sample.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalMessages.Add(1)
	s.totalBytes.Add(uint64(bytes))
	if s.window > 0 && len(s.samples) == s.window {
		s.samples[s.next] = latencyMs
		s.next = (s.next + 1) % s.window
	} else {
		s.samples = append(s.samples, latencyMs)
	}
	s.count++
	s.sumLatency += latencyMs

	us := int64(latencyMs * 1000)
	if us < s.hist.LowestTrackableValue() {
		us = s.hist.LowestTrackableValue()
	}
	if us > s.hist.HighestTrackableValue() {
		us = s.hist.HighestTrackableValue()
	}
	_ = s.hist.RecordValue(us)
}

// RecordDrop counts a message that could not be delivered.
func (s *Statistics) RecordDrop() {
	s.dropped.Add(1)
}

// MarkEnd closes the measurement window at the current time.
func (s *Statistics) MarkEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end = time.Now()
}

// TotalMessages returns the number of recorded messages.
func (s *Statistics) TotalMessages() uint64 { return s.totalMessages.Load() }

// TotalBytes returns the number of recorded payload bytes.
func (s *Statistics) TotalBytes() uint64 { return s.totalBytes.Load() }

// Dropped returns the number of dropped messages.
func (s *Statistics) Dropped() uint64 { return s.dropped.Load() }

// StartTime returns the beginning of the current window.
func (s *Statistics) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

// Elapsed returns the length of the measurement window. If the window was
// never closed it is closed now, so repeated queries agree.
func (s *Statistics) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Statistics) elapsedLocked() time.Duration {
	if s.end.IsZero() {
		s.end = time.Now()
	}
	if s.end.Before(s.start) {
		return 0
	}
	return s.end.Sub(s.start)
}

// MessagesPerSecond returns the message rate over the window.
func (s *Statistics) MessagesPerSecond() float64 {
	return perSecond(float64(s.TotalMessages()), s.Elapsed())
}

// MegabytesPerSecond returns the payload throughput in MiB/s.
func (s *Statistics) MegabytesPerSecond() float64 {
	return perSecond(float64(s.TotalBytes())/bytesPerMegabyte, s.Elapsed())
}

// AverageLatencyMs returns the arithmetic mean of every latency sample.
func (s *Statistics) AverageLatencyMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	return s.sumLatency / float64(s.count)
}

// P99LatencyMs returns the nearest-rank 99th percentile of the retained
// samples.
func (s *Statistics) P99LatencyMs() float64 {
	s.mu.Lock()
	sorted := append([]float64(nil), s.samples...)
	s.mu.Unlock()
	sort.Float64s(sorted)
	return nearestRank(sorted, 0.99)
}

// Snapshot returns the closed-window view of the statistics.
func (s *Statistics) Snapshot() Stats {
	s.mu.Lock()
	elapsed := s.elapsedLocked()
	s.mu.Unlock()
	return s.snapshot(elapsed)
}

// Live returns statistics measured up to now without closing the window.
// It is meant for progress output while recording is still under way.
func (s *Statistics) Live() Stats {
	s.mu.Lock()
	var elapsed time.Duration
	if s.end.IsZero() {
		elapsed = time.Since(s.start)
	} else {
		elapsed = s.end.Sub(s.start)
	}
	s.mu.Unlock()
	return s.snapshot(elapsed)
}

func (s *Statistics) snapshot(elapsed time.Duration) Stats {
	stats := Stats{
		TotalMessages: s.TotalMessages(),
		TotalBytes:    s.TotalBytes(),
		Dropped:       s.Dropped(),
		Duration:      elapsed,
		DurationMs:    float64(elapsed) / float64(time.Millisecond),
	}
	stats.MessagesPerSec = perSecond(float64(stats.TotalMessages), elapsed)
	stats.ThroughputMBps = perSecond(float64(stats.TotalBytes)/bytesPerMegabyte, elapsed)

	s.mu.Lock()
	stats.RunID = s.runID
	stats.LatencySamples = s.count
	sorted := append([]float64(nil), s.samples...)
	if s.count > 0 {
		stats.AvgLatencyMs = s.sumLatency / float64(s.count)
	}
	if s.hist.TotalCount() > 0 {
		stats.MinLatencyMs = usToMs(s.hist.Min())
		stats.MaxLatencyMs = usToMs(s.hist.Max())
		stats.P50LatencyMs = usToMs(s.hist.ValueAtQuantile(50))
		stats.P90LatencyMs = usToMs(s.hist.ValueAtQuantile(90))
		stats.P999LatencyMs = usToMs(s.hist.ValueAtQuantile(99.9))
	}
	s.mu.Unlock()

	sort.Float64s(sorted)
	stats.P99LatencyMs = nearestRank(sorted, 0.99)
	return stats
}

// nearestRank picks sorted[floor(n*q)], clamped to the last index. No
// interpolation between neighbours.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func perSecond(v float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return v / elapsed.Seconds()
}

func usToMs(us int64) float64 {
	return float64(us) / 1000.0
}
