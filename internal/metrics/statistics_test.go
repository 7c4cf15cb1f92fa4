package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestNearestRankP99(t *testing.T) {
	s := NewStatistics()
	for i := 1; i <= 10; i++ {
		s.RecordMessage(100, float64(i))
	}
	if got := s.P99LatencyMs(); got != 10 {
		t.Errorf("expected p99 10, got %v", got)
	}
}

func TestNearestRankUnsortedInput(t *testing.T) {
	s := NewStatistics()
	for _, v := range []float64{9, 3, 7, 1, 5, 10, 2, 8, 4, 6} {
		s.RecordMessage(1, v)
	}
	if got := s.P99LatencyMs(); got != 10 {
		t.Errorf("expected p99 10, got %v", got)
	}
}

func TestNearestRankLargeSample(t *testing.T) {
	s := NewStatistics()
	for i := 1; i <= 1000; i++ {
		s.RecordMessage(1, float64(i))
	}
	// floor(1000*0.99) = 990 -> 991st smallest value.
	if got := s.P99LatencyMs(); got != 991 {
		t.Errorf("expected p99 991, got %v", got)
	}
}

func TestNearestRankEmpty(t *testing.T) {
	if got := nearestRank(nil, 0.99); got != 0 {
		t.Errorf("expected 0 for empty samples, got %v", got)
	}
	if got := nearestRank([]float64{4}, 0.99); got != 4 {
		t.Errorf("expected single sample, got %v", got)
	}
}

func TestAverageLatency(t *testing.T) {
	s := NewStatistics()
	if got := s.AverageLatencyMs(); got != 0 {
		t.Errorf("expected 0 with no samples, got %v", got)
	}
	s.RecordMessage(10, 10)
	s.RecordMessage(10, 20)
	s.RecordMessage(10, 30)
	if got := s.AverageLatencyMs(); got != 20 {
		t.Errorf("expected mean 20, got %v", got)
	}
}

func TestRecordMessageWithoutLatency(t *testing.T) {
	s := NewStatistics()
	s.RecordMessage(4, 0)
	s.RecordMessage(6, -1)

	if s.TotalMessages() != 2 {
		t.Errorf("expected 2 messages, got %d", s.TotalMessages())
	}
	if s.TotalBytes() != 10 {
		t.Errorf("expected 10 bytes, got %d", s.TotalBytes())
	}
	stats := s.Snapshot()
	if stats.LatencySamples != 0 {
		t.Errorf("expected no latency samples, got %d", stats.LatencySamples)
	}
	if stats.P99LatencyMs != 0 || stats.AvgLatencyMs != 0 {
		t.Errorf("expected zero latency figures, got p99=%v avg=%v", stats.P99LatencyMs, stats.AvgLatencyMs)
	}
}

func TestResetClearsWindow(t *testing.T) {
	s := NewStatistics()
	s.RecordMessage(100, 5)
	s.RecordDrop()
	firstRun := s.Snapshot().RunID

	s.Reset()
	stats := s.Snapshot()
	if stats.TotalMessages != 0 || stats.TotalBytes != 0 || stats.Dropped != 0 {
		t.Errorf("expected zeroed counters, got %+v", stats)
	}
	if stats.LatencySamples != 0 {
		t.Errorf("expected no samples after reset, got %d", stats.LatencySamples)
	}
	if stats.RunID == firstRun {
		t.Errorf("expected new run id after reset")
	}
}

func TestDerivedRatesZeroWithoutElapsed(t *testing.T) {
	s := NewStatistics()
	s.RecordMessage(1024, 0)
	s.mu.Lock()
	s.end = s.start
	s.mu.Unlock()

	if got := s.MessagesPerSecond(); got != 0 {
		t.Errorf("expected 0 msg/s, got %v", got)
	}
	if got := s.MegabytesPerSecond(); got != 0 {
		t.Errorf("expected 0 MB/s, got %v", got)
	}

	s.mu.Lock()
	s.end = s.start.Add(-time.Second)
	s.mu.Unlock()
	if got := s.MessagesPerSecond(); got != 0 {
		t.Errorf("expected 0 msg/s when end precedes start, got %v", got)
	}
}

func TestDerivedRates(t *testing.T) {
	s := NewStatistics()
	for i := 0; i < 200; i++ {
		s.RecordMessage(1024*1024/2, 0)
	}
	s.mu.Lock()
	s.end = s.start.Add(2 * time.Second)
	s.mu.Unlock()

	if got := s.MessagesPerSecond(); got != 100 {
		t.Errorf("expected 100 msg/s, got %v", got)
	}
	if got := s.MegabytesPerSecond(); got != 50 {
		t.Errorf("expected 50 MB/s, got %v", got)
	}
}

func TestRepeatedQueriesAreStable(t *testing.T) {
	s := NewStatistics()
	for i := 1; i <= 50; i++ {
		s.RecordMessage(64, float64(i)/10)
	}
	first := s.Snapshot()
	time.Sleep(5 * time.Millisecond)
	second := s.Snapshot()
	if first != second {
		t.Errorf("expected identical snapshots, got %+v and %+v", first, second)
	}
	if a, b := s.MessagesPerSecond(), s.MessagesPerSecond(); a != b {
		t.Errorf("expected identical rates, got %v and %v", a, b)
	}
}

func TestLiveDoesNotCloseWindow(t *testing.T) {
	s := NewStatistics()
	s.RecordMessage(1, 0)
	time.Sleep(2 * time.Millisecond)
	live := s.Live()
	time.Sleep(2 * time.Millisecond)
	later := s.Live()
	if later.Duration <= live.Duration {
		t.Errorf("expected live duration to keep growing, got %s then %s", live.Duration, later.Duration)
	}
}

func TestDroppedIsMonotonic(t *testing.T) {
	s := NewStatistics()
	var last uint64
	for i := 0; i < 10; i++ {
		s.RecordMessage(8, 1)
		if s.Dropped() != last {
			t.Fatalf("expected dropped to stay %d after a successful record, got %d", last, s.Dropped())
		}
		s.RecordDrop()
		if s.Dropped() <= last {
			t.Fatalf("expected dropped to grow past %d, got %d", last, s.Dropped())
		}
		last = s.Dropped()
	}
}

func TestSampleWindowKeepsRecentSamples(t *testing.T) {
	s := NewStatistics(WithSampleWindow(10))
	for i := 1; i <= 100; i++ {
		s.RecordMessage(1, float64(i))
	}
	stats := s.Snapshot()
	if stats.LatencySamples != 100 {
		t.Errorf("expected 100 samples counted, got %d", stats.LatencySamples)
	}
	// Window holds 91..100.
	if stats.P99LatencyMs != 100 {
		t.Errorf("expected windowed p99 100, got %v", stats.P99LatencyMs)
	}
	if stats.AvgLatencyMs != 50.5 {
		t.Errorf("expected mean over all samples 50.5, got %v", stats.AvgLatencyMs)
	}
	if stats.MinLatencyMs < 0.99 || stats.MinLatencyMs > 1.01 {
		t.Errorf("expected histogram min ~1ms, got %v", stats.MinLatencyMs)
	}
}

func TestHistogramPercentiles(t *testing.T) {
	s := NewStatistics()
	for i := 1; i <= 100; i++ {
		s.RecordMessage(1, float64(i))
	}
	stats := s.Snapshot()
	if stats.P50LatencyMs < 49 || stats.P50LatencyMs > 51 {
		t.Errorf("expected P50 ~50ms, got %v", stats.P50LatencyMs)
	}
	if stats.P90LatencyMs < 89 || stats.P90LatencyMs > 91 {
		t.Errorf("expected P90 ~90ms, got %v", stats.P90LatencyMs)
	}
	if stats.MaxLatencyMs < 99.9 || stats.MaxLatencyMs > 100.1 {
		t.Errorf("expected max ~100ms, got %v", stats.MaxLatencyMs)
	}
}

func TestConcurrentRecording(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	workers := 10
	recordsPerWorker := 100

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerWorker; j++ {
				s.RecordMessage(10, 1.5)
			}
		}()
	}
	wg.Wait()

	stats := s.Snapshot()
	expected := uint64(workers * recordsPerWorker)
	if stats.TotalMessages != expected {
		t.Errorf("expected total %d, got %d", expected, stats.TotalMessages)
	}
	if stats.TotalBytes != expected*10 {
		t.Errorf("expected bytes %d, got %d", expected*10, stats.TotalBytes)
	}
	if stats.LatencySamples != int64(expected) {
		t.Errorf("expected %d samples, got %d", expected, stats.LatencySamples)
	}
}

func TestJSONReportSchema(t *testing.T) {
	s := NewStatistics()
	s.RecordMessage(15, 1.5)
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatalf("failed to marshal stats: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	requiredFields := []string{"run_id", "total_messages", "total_bytes", "dropped_messages", "messages_per_sec", "throughput_mb_per_sec", "avg_latency_ms", "p99_latency_ms", "duration_ms"}
	for _, field := range requiredFields {
		if _, ok := parsed[field]; !ok {
			t.Errorf("missing field %q in JSON output", field)
		}
	}
}

func TestResetDuringRecordingKeepsCountsAligned(t *testing.T) {
	s := NewStatistics()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.RecordMessage(10, 2)
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		s.Reset()
	}
	close(stop)
	wg.Wait()

	stats := s.Snapshot()
	if stats.LatencySamples != int64(stats.TotalMessages) {
		t.Errorf("expected %d latency samples to match total messages, got %d", stats.TotalMessages, stats.LatencySamples)
	}
	if stats.TotalBytes != stats.TotalMessages*10 {
		t.Errorf("expected bytes %d, got %d", stats.TotalMessages*10, stats.TotalBytes)
	}
}
