package clock

import (
	"testing"
	"time"
)

func TestNowMicrosAdvances(t *testing.T) {
	first := NowMicros()
	time.Sleep(2 * time.Millisecond)
	second := NowMicros()
	if second <= first {
		t.Fatalf("expected clock to advance, got %d then %d", first, second)
	}
	if diff := second - first; diff < 1000 {
		t.Errorf("expected at least 1000µs between readings, got %d", diff)
	}
}

func TestLatencyMs(t *testing.T) {
	if got := LatencyMs(1_000, 3_500); got != 2.5 {
		t.Errorf("expected 2.5ms, got %v", got)
	}
	if got := LatencyMs(5_000, 4_000); got >= 0 {
		t.Errorf("expected negative latency for future timestamp, got %v", got)
	}
}
