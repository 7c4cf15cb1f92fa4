package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torosent/databridge/internal/bridge"
	"github.com/torosent/databridge/internal/bus"
	"github.com/torosent/databridge/internal/config"
	"github.com/torosent/databridge/internal/logging"
	"github.com/torosent/databridge/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	parsed, err := config.ParseBridgeArgs(args, stdout)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}

	bootLog, err := logging.New(logging.Options{Level: parsed.Log.Level, Format: parsed.Log.Format})
	if err != nil {
		return err
	}
	cfg, _ := config.LoadBridgeFile(parsed.ConfigPath, bootLog)
	config.ApplyBridgeOverrides(&cfg, *parsed)

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	logConfiguration(log, cfg)

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	opener, err := bus.NewOpener(cfg.Bus, log)
	if err != nil {
		return err
	}
	if closer, ok := opener.(io.Closer); ok {
		defer closer.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := bridge.NewMetrics(registry)
	if err := metrics.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr, registry)
		go func() {
			log.Info("metrics server listening", slog.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	engine := bridge.New(opener, cfg.Streams, bridge.Options{
		Logger:        log,
		Metrics:       metrics,
		Tracer:        provider.Tracer(),
		StatsInterval: cfg.StatsInterval,
	})
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	log.Info("bridge running, press Ctrl+C to stop")
	<-ctx.Done()
	log.Info("shutdown signal received")

	return engine.Stop()
}

func newMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func logConfiguration(log *slog.Logger, cfg config.BridgeConfig) {
	connect := cfg.Bus.Connect
	if connect == "" {
		connect = "default"
	}
	log.Info("configuration",
		slog.String("transport", string(cfg.Bus.Transport)),
		slog.String("mode", string(cfg.Bus.Mode)),
		slog.String("connect", connect),
		slog.Int("streams", len(cfg.Streams)))
	for i, s := range cfg.Streams {
		attrs := []any{
			slog.Int("index", i),
			slog.String("topic", s.Topic),
			slog.String("protocol", string(s.Protocol)),
			slog.String("target", s.Address()),
		}
		if s.Protocol == config.ProtocolGRPC {
			attrs = append(attrs,
				slog.String("service", s.GRPC.Service),
				slog.String("method", s.GRPC.Method))
		}
		log.Info("stream", attrs...)
	}
}
