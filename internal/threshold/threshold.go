// Package threshold turns assertions such as "latency:p99 < 5" into
// pass/fail results over benchmark statistics.
package threshold

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/torosent/databridge/internal/metrics"
)

// Metric names accepted by Parse.
const (
	MetricLatency    = "latency"
	MetricMessages   = "messages"
	MetricDropped    = "dropped"
	MetricThroughput = "throughput"
)

const epsilon = 1e-9

var pattern = regexp.MustCompile(`^(\w+):(\w+)\s*([<>=!]+)\s*(\S+)$`)

// stat reads one aggregate out of a snapshot.
type stat func(metrics.Stats) float64

// stats maps metric and aggregate to the snapshot value they name.
// Latency values are milliseconds, throughput is MB/s.
var stats = map[string]map[string]stat{
	MetricLatency: {
		"p50":  func(s metrics.Stats) float64 { return s.P50LatencyMs },
		"p90":  func(s metrics.Stats) float64 { return s.P90LatencyMs },
		"p99":  func(s metrics.Stats) float64 { return s.P99LatencyMs },
		"p999": func(s metrics.Stats) float64 { return s.P999LatencyMs },
		"avg":  func(s metrics.Stats) float64 { return s.AvgLatencyMs },
		"min":  func(s metrics.Stats) float64 { return s.MinLatencyMs },
		"max":  func(s metrics.Stats) float64 { return s.MaxLatencyMs },
	},
	MetricMessages: {
		"count": func(s metrics.Stats) float64 { return float64(s.TotalMessages) },
		"rate":  func(s metrics.Stats) float64 { return s.MessagesPerSec },
	},
	MetricDropped: {
		"count": func(s metrics.Stats) float64 { return float64(s.Dropped) },
		// share of all send attempts
		"rate": func(s metrics.Stats) float64 {
			attempts := s.TotalMessages + s.Dropped
			if attempts == 0 {
				return 0
			}
			return float64(s.Dropped) / float64(attempts)
		},
	},
	MetricThroughput: {
		"rate": func(s metrics.Stats) float64 { return s.ThroughputMBps },
	},
}

var operators = map[string]func(actual, want float64) bool{
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b || math.Abs(a-b) < epsilon },
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b || math.Abs(a-b) < epsilon },
	"==": func(a, b float64) bool { return math.Abs(a-b) < epsilon },
}

// Threshold is one parsed assertion.
type Threshold struct {
	Metric    string
	Aggregate string
	Operator  string
	Value     float64
	// Raw is the trimmed input, kept for display.
	Raw string
}

// Result is the outcome of one threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Parse reads "metric:aggregate op value". Supported metrics and
// aggregates:
//
//	latency     p50 p90 p99 p999 avg min max (ms)
//	messages    count rate (msg/s)
//	dropped     count rate (share of attempts)
//	throughput  rate (MB/s)
//
// Operators are <, <=, >, >= and ==.
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, errors.New("empty threshold string")
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format %q (expected metric:aggregate operator value, e.g. 'latency:p99 < 5')", s)
	}
	t := Threshold{Metric: m[1], Aggregate: m[2], Operator: m[3], Raw: s}

	aggregates, ok := stats[t.Metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric %q (supported: %s)", t.Metric, supported(stats))
	}
	if _, ok := aggregates[t.Aggregate]; !ok {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", t.Aggregate, t.Metric, supported(aggregates))
	}
	if _, ok := operators[t.Operator]; !ok {
		return Threshold{}, fmt.Errorf("unsupported operator %q (supported: %s)", t.Operator, supported(operators))
	}
	v, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %w", m[4], err)
	}
	t.Value = v
	return t, nil
}

func supported[V any](m map[string]V) string {
	return strings.Join(slices.Sorted(maps.Keys(m)), ", ")
}

// ParseMultiple parses every entry and reports all bad ones together.
func ParseMultiple(inputs []string) ([]Threshold, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	out := make([]Threshold, 0, len(inputs))
	var errs []error
	for i, s := range inputs {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold[%d]: %w", i, err))
			continue
		}
		out = append(out, t)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Evaluator checks a fixed set of thresholds against snapshots.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate returns one result per threshold, nil when there are none.
func (e *Evaluator) Evaluate(snapshot metrics.Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, len(e.thresholds))
	for i, t := range e.thresholds {
		results[i] = evaluate(t, snapshot)
	}
	return results
}

func evaluate(t Threshold, snapshot metrics.Stats) Result {
	actual, err := actualValue(t, snapshot)
	if err != nil {
		return Result{Threshold: t, Message: "error: " + err.Error()}
	}
	pass := compare(t.Operator, actual, t.Value)
	mark := "✓"
	if !pass {
		mark = "✗"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", mark, t.Raw, actual, t.Operator, t.Value),
	}
}

func actualValue(t Threshold, snapshot metrics.Stats) (float64, error) {
	aggregates, ok := stats[t.Metric]
	if !ok {
		return 0, fmt.Errorf("unknown metric %s", t.Metric)
	}
	read, ok := aggregates[t.Aggregate]
	if !ok {
		return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
	}
	return read(snapshot), nil
}

// compare is false for unknown operators.
func compare(op string, actual, want float64) bool {
	fn, ok := operators[op]
	return ok && fn(actual, want)
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	return !slices.ContainsFunc(results, func(r Result) bool { return !r.Pass })
}
