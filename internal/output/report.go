package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/torosent/databridge/internal/metrics"
	"github.com/torosent/databridge/internal/threshold"
)

const bytesPerMegabyte = 1024.0 * 1024.0

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, stats metrics.Stats) {
	fmt.Fprintln(w, "\n========== Performance Report ==========")
	fmt.Fprintf(w, "Run:               %s\n", stats.RunID)
	fmt.Fprintf(w, "Duration:          %.2f seconds\n", stats.Duration.Seconds())
	fmt.Fprintf(w, "Total Messages:    %d\n", stats.TotalMessages)
	fmt.Fprintf(w, "Total Bytes:       %.2f MB\n", float64(stats.TotalBytes)/bytesPerMegabyte)
	fmt.Fprintf(w, "Dropped Messages:  %d\n", stats.Dropped)
	fmt.Fprintf(w, "Messages/sec:      %.2f\n", stats.MessagesPerSec)
	fmt.Fprintf(w, "Throughput:        %.2f MB/s\n", stats.ThroughputMBps)

	if stats.LatencySamples > 0 {
		fmt.Fprintln(w, "\nLatency Statistics:")
		fmt.Fprintf(w, "  Samples:         %d\n", stats.LatencySamples)
		fmt.Fprintf(w, "  Average:         %.2f ms\n", stats.AvgLatencyMs)
		fmt.Fprintf(w, "  Min:             %.2f ms\n", stats.MinLatencyMs)
		fmt.Fprintf(w, "  P50:             %.2f ms\n", stats.P50LatencyMs)
		fmt.Fprintf(w, "  P90:             %.2f ms\n", stats.P90LatencyMs)
		fmt.Fprintf(w, "  P99:             %.2f ms\n", stats.P99LatencyMs)
		fmt.Fprintf(w, "  P99.9:           %.2f ms\n", stats.P999LatencyMs)
		fmt.Fprintf(w, "  Max:             %.2f ms\n", stats.MaxLatencyMs)
	}
	fmt.Fprintln(w, "========================================")
}

// PrintThresholds lists each threshold result with a pass/fail summary.
func PrintThresholds(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	passed := 0
	for _, r := range results {
		if r.Pass {
			passed++
		}
	}
	fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", passed, len(results))
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
}

// Report is the JSON document written by PrintJSONReport.
type Report struct {
	metrics.Stats
	Thresholds *ThresholdSummary `json:"thresholds,omitempty"`
}

// ThresholdSummary groups threshold results for JSON output.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []ThresholdResultJSON `json:"results"`
}

// ThresholdResultJSON is one evaluated threshold.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, stats metrics.Stats, results []threshold.Result) error {
	report := Report{Stats: stats, Thresholds: summarize(results)}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func summarize(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	summary := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, r := range results {
		summary.Results[i] = ThresholdResultJSON{
			Threshold: r.Threshold.Raw,
			Metric:    r.Threshold.Metric,
			Aggregate: r.Threshold.Aggregate,
			Operator:  r.Threshold.Operator,
			Expected:  r.Threshold.Value,
			Actual:    r.Actual,
			Pass:      r.Pass,
		}
		if r.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}
