package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/torosent/databridge/internal/metrics"
	"github.com/torosent/databridge/internal/threshold"
)

func TestPrintReportBasic(t *testing.T) {
	stats := metrics.Stats{
		TotalMessages:  1000,
		TotalBytes:     2 * 1024 * 1024,
		Dropped:        3,
		Duration:       2 * time.Second,
		MessagesPerSec: 500,
		ThroughputMBps: 1,
	}

	var buf bytes.Buffer
	PrintReport(&buf, stats)

	output := buf.String()
	for _, want := range []string{
		"Performance Report",
		"Duration:          2.00 seconds",
		"Total Messages:    1000",
		"Total Bytes:       2.00 MB",
		"Dropped Messages:  3",
		"Messages/sec:      500.00",
		"Throughput:        1.00 MB/s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
	if strings.Contains(output, "Latency Statistics") {
		t.Errorf("expected no latency section without samples")
	}
}

func TestPrintReportLatency(t *testing.T) {
	stats := metrics.Stats{
		TotalMessages:  10,
		LatencySamples: 10,
		AvgLatencyMs:   1.5,
		P99LatencyMs:   4.25,
	}

	var buf bytes.Buffer
	PrintReport(&buf, stats)

	output := buf.String()
	if !strings.Contains(output, "Average:         1.50 ms") {
		t.Errorf("expected average latency in output, got:\n%s", output)
	}
	if !strings.Contains(output, "P99:             4.25 ms") {
		t.Errorf("expected p99 latency in output, got:\n%s", output)
	}
}

func TestPrintThresholds(t *testing.T) {
	results := []threshold.Result{
		{Pass: true, Message: "✓ latency:p99 < 5: 1.00 < 5.00"},
		{Pass: false, Message: "✗ dropped:count == 0: 2.00 == 0.00"},
	}

	var buf bytes.Buffer
	PrintThresholds(&buf, results)
	output := buf.String()
	if !strings.Contains(output, "Thresholds (1/2 passed)") {
		t.Errorf("expected summary line, got:\n%s", output)
	}
	if !strings.Contains(output, "dropped:count") {
		t.Errorf("expected failing threshold listed, got:\n%s", output)
	}

	buf.Reset()
	PrintThresholds(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output without thresholds, got %q", buf.String())
	}
}

func TestPrintJSONReport(t *testing.T) {
	stats := metrics.Stats{
		RunID:          "01HZX",
		TotalMessages:  100,
		MessagesPerSec: 50,
		DurationMs:     2000,
		P99LatencyMs:   3,
	}
	results := []threshold.Result{{
		Threshold: threshold.Threshold{Metric: "latency", Aggregate: "p99", Operator: "<", Value: 5, Raw: "latency:p99 < 5"},
		Actual:    3,
		Pass:      true,
	}}

	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, stats, results); err != nil {
		t.Fatalf("PrintJSONReport failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["total_messages"] != float64(100) {
		t.Errorf("expected total_messages 100, got %v", decoded["total_messages"])
	}
	if decoded["run_id"] != "01HZX" {
		t.Errorf("expected run_id at top level, got %v", decoded["run_id"])
	}
	summary, ok := decoded["thresholds"].(map[string]any)
	if !ok {
		t.Fatalf("expected thresholds object, got %v", decoded["thresholds"])
	}
	if summary["passed"] != float64(1) || summary["failed"] != float64(0) {
		t.Errorf("expected 1 passed and 0 failed, got %v", summary)
	}
}

func TestPrintJSONReportOmitsEmptyThresholds(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, metrics.Stats{}, nil); err != nil {
		t.Fatalf("PrintJSONReport failed: %v", err)
	}
	if strings.Contains(buf.String(), `"thresholds"`) {
		t.Errorf("expected no thresholds key, got %s", buf.String())
	}
}
