package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// LatencyHeaderSize is the number of leading payload bytes that carry the
// send timestamp when latency measurement is on.
const LatencyHeaderSize = 8

// BenchmarkConfig drives the benchmark publisher.
type BenchmarkConfig struct {
	Topic          string
	MessageSize    int
	Rate           int // aggregate messages per second across all publishers
	Duration       time.Duration
	Publishers     int
	MeasureLatency bool
	Verbose        bool
	UDPTarget      string // publish straight to host:port instead of the bus
	Bus            BusConfig
	JSONOutput     bool
	Thresholds     []string
	Log            LogConfig
}

// DefaultBenchmarkConfig sends 1 KiB messages at 1000 msg/s for 10 seconds
// from one publisher.
func DefaultBenchmarkConfig() BenchmarkConfig {
	return BenchmarkConfig{
		Topic:          DefaultTopic,
		MessageSize:    1024,
		Rate:           1000,
		Duration:       10 * time.Second,
		Publishers:     1,
		MeasureLatency: true,
		Bus: BusConfig{
			Transport: TransportNATS,
			Mode:      BusModeClient,
		},
	}
}

// Validate reports every problem with the configuration at once.
func (c BenchmarkConfig) Validate() error {
	var issues []string

	if c.UDPTarget == "" {
		if strings.TrimSpace(c.Topic) == "" {
			issues = append(issues, "topic is required")
		}
		issues = append(issues, validateBusConfig(c.Bus)...)
	} else if _, _, err := net.SplitHostPort(c.UDPTarget); err != nil {
		issues = append(issues, fmt.Sprintf("udp target %q: %v", c.UDPTarget, err))
	}
	if c.MessageSize < 1 {
		issues = append(issues, "message size must be >= 1")
	}
	if c.MeasureLatency && c.MessageSize < LatencyHeaderSize {
		issues = append(issues, fmt.Sprintf("message size must be >= %d bytes when measuring latency", LatencyHeaderSize))
	}
	if c.Publishers < 1 {
		issues = append(issues, "publishers must be >= 1")
	}
	if c.Rate < 1 {
		issues = append(issues, "rate must be >= 1")
	} else if c.Publishers >= 1 && c.Rate < c.Publishers {
		issues = append(issues, fmt.Sprintf("rate (%d) must be >= publishers (%d)", c.Rate, c.Publishers))
	}
	if c.Duration <= 0 {
		issues = append(issues, "duration must be > 0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// ReceiverConfig drives the benchmark receiver.
type ReceiverConfig struct {
	Port             int
	ProgressInterval time.Duration
	SampleWindow     int
	JSONOutput       bool
	Thresholds       []string
	Log              LogConfig
}

// DefaultReceiverConfig listens on the bridge's default destination port.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		Port:             DefaultLocalPort,
		ProgressInterval: 5 * time.Second,
	}
}

// Validate checks the receiver settings.
func (c ReceiverConfig) Validate() error {
	var issues []string
	if c.Port < 0 || c.Port > 65535 {
		issues = append(issues, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.ProgressInterval < 0 {
		issues = append(issues, "progress interval must be >= 0")
	}
	if c.SampleWindow < 0 {
		issues = append(issues, "sample window must be >= 0")
	}
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
