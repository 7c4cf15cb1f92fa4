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
	cfg, err := config.ParseReceiverArgs(args, stdout)
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

	stats := metrics.NewStatistics(metrics.WithSampleWindow(cfg.SampleWindow))
	receiver := bench.NewReceiver(cfg.Port, stats, log)
	if err := receiver.Start(); err != nil {
		return fmt.Errorf("failed to start benchmark receiver: %w", err)
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput {
		fmt.Fprintf(stdout, "Listening on %s, press Ctrl+C to stop and show statistics\n", receiver.Addr())
		progress = output.NewProgressReporter(stats, cfg.ProgressInterval, stdout)
		progress.Start()
	}

	<-ctx.Done()
	if progress != nil {
		progress.Stop()
	}
	if err := receiver.Stop(); err != nil {
		log.Warn("closing receiver socket", slog.Any("error", err))
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

	if !threshold.AllPassed(results) {
		return fmt.Errorf("threshold check failed")
	}
	return nil
}
