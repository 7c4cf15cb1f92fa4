package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Protocol selects how a stream delivers bytes to its local destination.
type Protocol string

const (
	ProtocolUDP  Protocol = "udp"
	ProtocolGRPC Protocol = "grpc"
)

// Transport selects the pub/sub bus implementation.
type Transport string

const (
	TransportChannel Transport = "channel"
	TransportNATS    Transport = "nats"
	TransportMQTT    Transport = "mqtt"
)

// BusMode is the session role requested from the bus.
type BusMode string

const (
	BusModeClient BusMode = "client"
	BusModePeer   BusMode = "peer"
	BusModeRouter BusMode = "router"
)

const (
	DefaultTopic     = "benchmark/data"
	DefaultLocalHost = "127.0.0.1"
	DefaultLocalPort = 8888
)

// BusConfig describes how to reach the pub/sub bus.
type BusConfig struct {
	Transport Transport `mapstructure:"transport"`
	Mode      BusMode   `mapstructure:"mode"`
	Connect   string    `mapstructure:"connect"` // empty means the transport default
}

// GRPCConfig carries the gRPC target of a stream. Nothing is dialled unless
// Invoke is set.
type GRPCConfig struct {
	Service  string            `mapstructure:"service"`
	Method   string            `mapstructure:"method"`
	Invoke   bool              `mapstructure:"invoke"`
	Metadata map[string]string `mapstructure:"metadata"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	TLS      bool              `mapstructure:"tls"`
	Insecure bool              `mapstructure:"insecure"`
}

// StreamConfig is one topic -> local destination forwarding path.
type StreamConfig struct {
	Topic    string     `mapstructure:"topic"`
	Protocol Protocol   `mapstructure:"protocol"`
	Host     string     `mapstructure:"host"`
	Port     int        `mapstructure:"port"`
	GRPC     GRPCConfig `mapstructure:"grpc"`
}

// Address returns host:port of the local destination.
func (s StreamConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TracingConfig enables OTLP export of forwarding spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BridgeConfig is the full configuration of the bridge process. Streams are
// initialised in order.
type BridgeConfig struct {
	Bus           BusConfig      `mapstructure:"bus"`
	Streams       []StreamConfig `mapstructure:"streams"`
	MetricsAddr   string         `mapstructure:"metrics_addr"`
	StatsInterval time.Duration  `mapstructure:"stats_interval"`
	Tracing       TracingConfig  `mapstructure:"tracing"`
	Log           LogConfig      `mapstructure:"log"`
	ConfigFile    string         `mapstructure:"-"`
}

// DefaultBridgeConfig forwards benchmark/data to the local benchmark
// receiver over UDP.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Bus: BusConfig{
			Transport: TransportNATS,
			Mode:      BusModeClient,
		},
		Streams: []StreamConfig{
			{
				Topic:    DefaultTopic,
				Protocol: ProtocolUDP,
				Host:     DefaultLocalHost,
				Port:     DefaultLocalPort,
			},
		},
		StatsInterval: 10 * time.Second,
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks process-wide settings. Individual streams are not
// rejected here: a bad stream is skipped when the bridge starts.
func (c BridgeConfig) Validate() error {
	var issues []string

	issues = append(issues, validateBusConfig(c.Bus)...)
	if len(c.Streams) == 0 {
		issues = append(issues, "at least one stream is required")
	}
	if c.StatsInterval < 0 {
		issues = append(issues, "stats_interval must be >= 0")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0.0 and 1.0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Validate checks a single stream. The bridge calls it while initialising
// the stream so a failure only drops that stream.
func (s StreamConfig) Validate() error {
	var issues []string
	if strings.TrimSpace(s.Topic) == "" {
		issues = append(issues, "topic is required")
	}
	if s.Port < 1 || s.Port > 65535 {
		issues = append(issues, fmt.Sprintf("port %d out of range", s.Port))
	}
	switch s.Protocol {
	case ProtocolUDP:
		if strings.TrimSpace(s.Host) == "" {
			issues = append(issues, "host is required")
		}
	case ProtocolGRPC:
		if strings.TrimSpace(s.GRPC.Service) == "" || strings.TrimSpace(s.GRPC.Method) == "" {
			issues = append(issues, "grpc service and method are required")
		}
	default:
		issues = append(issues, fmt.Sprintf("protocol %q is not supported", s.Protocol))
	}
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateBusConfig(bus BusConfig) []string {
	var issues []string
	switch bus.Transport {
	case TransportChannel, TransportNATS, TransportMQTT:
	default:
		issues = append(issues, fmt.Sprintf("bus transport %q is not supported (use channel, nats or mqtt)", bus.Transport))
	}
	switch bus.Mode {
	case BusModeClient, BusModePeer, BusModeRouter:
	default:
		issues = append(issues, fmt.Sprintf("bus mode %q is not supported (use client, peer or router)", bus.Mode))
	}
	return issues
}

// normalizeProtocol lowercases a protocol name. Unknown names are kept so
// the stream fails its own validation instead of the whole file.
func normalizeProtocol(s string) Protocol {
	p := strings.ToLower(strings.TrimSpace(s))
	if p == "" {
		return ProtocolUDP
	}
	return Protocol(p)
}
