package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// ReadBridgeFile parses a bridge configuration file (YAML, JSON or TOML,
// chosen by extension). Missing settings keep their defaults.
func ReadBridgeFile(path string) (BridgeConfig, error) {
	cfg := DefaultBridgeConfig()
	cfg.ConfigFile = path

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return BridgeConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := applyBridgeSettings(&cfg, v.AllSettings()); err != nil {
		return BridgeConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadBridgeFile reads path and falls back to DefaultBridgeConfig when the
// path is empty or the file cannot be used. The second result reports
// whether the defaults were used.
func LoadBridgeFile(path string, log *slog.Logger) (BridgeConfig, bool) {
	if log == nil {
		log = slog.Default()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		log.Info("no config file specified, using defaults")
		return DefaultBridgeConfig(), true
	}

	cfg, err := ReadBridgeFile(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.Warn("failed to load config, using defaults", slog.String("path", path), slog.Any("error", err))
		fallback := DefaultBridgeConfig()
		fallback.ConfigFile = path
		return fallback, true
	}
	log.Info("loaded config", slog.String("path", path), slog.Int("streams", len(cfg.Streams)))
	return cfg, false
}

func applyBridgeSettings(cfg *BridgeConfig, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}
	root, err := newSection(settings)
	if err != nil {
		return err
	}

	root.nested("bus", func(s *section) {
		read(s, &cfg.Bus.Transport, asTransport, "transport")
		read(s, &cfg.Bus.Mode, asBusMode, "mode")
		read(s, &cfg.Bus.Connect, trimmed, "connect")
	})

	if _, ok := root.lookup("streams"); ok {
		var streams []StreamConfig
		root.list("streams", func(s *section) {
			streams = append(streams, readStream(s))
		})
		cfg.Streams = streams
	}

	read(root, &cfg.MetricsAddr, trimmed, "metrics_addr", "metricsaddr", "metrics-addr")
	read(root, &cfg.StatsInterval, toDuration, "stats_interval", "statsinterval", "stats-interval")

	root.nested("tracing", func(s *section) {
		read(s, &cfg.Tracing.Endpoint, trimmed, "endpoint")
		read(s, &cfg.Tracing.Protocol, trimmed, "protocol")
		read(s, &cfg.Tracing.ServiceName, trimmed, "service_name", "servicename", "service-name")
		read(s, &cfg.Tracing.SampleRate, cast.ToFloat64E, "sample_rate", "samplerate", "sample-rate")
		read(s, &cfg.Tracing.Insecure, cast.ToBoolE, "insecure")
	})

	root.nested("log", func(s *section) {
		read(s, &cfg.Log.Level, trimmed, "level")
		read(s, &cfg.Log.Format, trimmed, "format")
	})

	return root.err
}

// readStream builds one stream entry. service and method may sit next to
// the topic or inside a grpc block; the block wins.
func readStream(s *section) StreamConfig {
	stream := StreamConfig{Protocol: ProtocolUDP, Host: DefaultLocalHost}
	read(s, &stream.Topic, trimmed, "topic")
	read(s, &stream.Protocol, asProtocol, "protocol")
	read(s, &stream.Host, trimmed, "host")
	read(s, &stream.Port, cast.ToIntE, "port")
	read(s, &stream.GRPC.Service, trimmed, "service")
	read(s, &stream.GRPC.Method, trimmed, "method")

	s.nested("grpc", func(g *section) {
		read(g, &stream.GRPC.Service, trimmed, "service")
		read(g, &stream.GRPC.Method, trimmed, "method")
		read(g, &stream.GRPC.Invoke, cast.ToBoolE, "invoke")
		read(g, &stream.GRPC.Metadata, toMetadata, "metadata")
		read(g, &stream.GRPC.Timeout, toDuration, "timeout")
		read(g, &stream.GRPC.TLS, cast.ToBoolE, "tls")
		read(g, &stream.GRPC.Insecure, cast.ToBoolE, "insecure")
	})
	return stream
}

func asTransport(v any) (Transport, error) {
	s, err := lowered(v)
	return Transport(s), err
}

func asBusMode(v any) (BusMode, error) {
	s, err := lowered(v)
	return BusMode(s), err
}

func asProtocol(v any) (Protocol, error) {
	s, err := cast.ToStringE(v)
	return normalizeProtocol(s), err
}
