package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/torosent/databridge/internal/bench"
	"github.com/torosent/databridge/internal/bus"
	"github.com/torosent/databridge/internal/config"
	"github.com/torosent/databridge/internal/logging"
	"github.com/torosent/databridge/internal/metrics"
	"github.com/torosent/databridge/internal/output"
	"github.com/torosent/databridge/internal/threshold"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.ParsePublisherArgs(args, stdout)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	var opener bus.Opener
	if cfg.UDPTarget == "" {
		if opener, err = bus.NewOpener(cfg.Bus, log); err != nil {
			return err
		}
		if closer, ok := opener.(io.Closer); ok {
			defer closer.Close()
		}
	}

	if !cfg.JSONOutput {
		printBanner(stdout, *cfg)
	}

	stats := metrics.NewStatistics()
	pub := bench.NewPublisher(*cfg, opener, stats, log)
	if err := pub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start benchmark publisher: %w", err)
	}
	pub.Wait()
	pub.Stop()
	if ctx.Err() != nil {
		log.Info("interrupted, reporting partial results")
	}

	snapshot := stats.Snapshot()
	results := threshold.NewEvaluator(thresholds).Evaluate(snapshot)
	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, snapshot, results); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, snapshot)
		output.PrintThresholds(stdout, results)
	}
	log.Debug("benchmark complete", slog.String("run_id", snapshot.RunID))

	if !threshold.AllPassed(results) {
		return fmt.Errorf("threshold check failed")
	}
	return nil
}

func printBanner(w io.Writer, cfg config.BenchmarkConfig) {
	fmt.Fprintln(w, "========================================")
	fmt.Fprintln(w, "  Benchmark Publisher")
	fmt.Fprintln(w, "========================================")
	if cfg.UDPTarget != "" {
		fmt.Fprintf(w, "Target:            udp://%s\n", cfg.UDPTarget)
	} else {
		fmt.Fprintf(w, "Topic:             %s (%s)\n", cfg.Topic, cfg.Bus.Transport)
	}
	fmt.Fprintf(w, "Message size:      %d bytes\n", cfg.MessageSize)
	fmt.Fprintf(w, "Rate:              %d msg/s\n", cfg.Rate)
	fmt.Fprintf(w, "Duration:          %s\n", cfg.Duration)
	fmt.Fprintf(w, "Publishers:        %d\n", cfg.Publishers)
	fmt.Fprintf(w, "Latency:           %t\n", cfg.MeasureLatency)
}
