package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

const publisherExamples = `  # 1KB messages at 1000 msg/s for 10 seconds
  benchpub -s 1024 -r 1000 -d 10

  # 10KB messages at 10000 msg/s spread over 4 publishers
  benchpub -s 10240 -r 10000 -p 4 -d 30

  # Small messages at a high rate, straight to a receiver
  benchpub -s 64 -r 50000 -d 10 --udp 127.0.0.1:8888`

// execute parses args with cmd and hands the positional arguments to run.
// It returns ErrHelpRequested when cobra printed the help text instead.
func execute(cmd *cobra.Command, args []string, out io.Writer, run func(positional []string) error) error {
	if out == nil {
		out = os.Stdout
	}
	ran := false
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	cmd.SetOut(out)
	cmd.SetErr(out)
	// A nil slice makes cobra fall back to os.Args.
	cmd.SetArgs(append([]string{}, args...))
	cmd.RunE = func(_ *cobra.Command, positional []string) error {
		ran = true
		return run(positional)
	}
	if err := cmd.Execute(); err != nil {
		return err
	}
	if !ran {
		return ErrHelpRequested
	}
	return nil
}

func bindLogFlags(fs *pflag.FlagSet, log *LogConfig) {
	fs.StringVar(&log.Level, "log-level", defaultLogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&log.Format, "log-format", defaultLogFormat, "Log format: text or json")
}

func bindReportFlags(fs *pflag.FlagSet, jsonOutput *bool, thresholds *[]string, example string) {
	fs.BoolVar(jsonOutput, "json-output", false, "Emit JSON formatted report")
	fs.StringSliceVar(thresholds, "threshold", nil, fmt.Sprintf("Pass/fail assertion (repeatable, e.g. '%s')", example))
}

// ParsePublisherArgs builds a BenchmarkConfig from benchpub arguments.
func ParsePublisherArgs(args []string, out io.Writer) (*BenchmarkConfig, error) {
	cfg := DefaultBenchmarkConfig()
	var (
		seconds   int
		noLatency bool
		transport string
	)

	cmd := &cobra.Command{
		Use:     "benchpub [flags]",
		Short:   "Publish timestamped messages at a fixed rate",
		Example: publisherExamples,
		Args:    cobra.NoArgs,
	}
	fs := cmd.Flags()
	fs.StringVarP(&cfg.Topic, "topic", "t", cfg.Topic, "Bus topic to publish on")
	fs.IntVarP(&cfg.MessageSize, "size", "s", cfg.MessageSize, "Message size in bytes")
	fs.IntVarP(&cfg.Rate, "rate", "r", cfg.Rate, "Aggregate messages per second")
	fs.IntVarP(&seconds, "duration", "d", int(cfg.Duration/time.Second), "Benchmark duration in seconds")
	fs.IntVarP(&cfg.Publishers, "publishers", "p", cfg.Publishers, "Number of concurrent publishers")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log progress every 1000 messages")
	fs.BoolVar(&noLatency, "no-latency", false, "Do not embed send timestamps in messages")
	fs.StringVar(&cfg.UDPTarget, "udp", "", "Send datagrams straight to host:port instead of the bus")
	fs.StringVar(&transport, "bus", string(cfg.Bus.Transport), "Bus transport: channel, nats or mqtt")
	fs.StringVar(&cfg.Bus.Connect, "connect", "", "Bus address (empty uses the transport default)")
	bindReportFlags(fs, &cfg.JSONOutput, &cfg.Thresholds, "messages:rate > 900")
	bindLogFlags(fs, &cfg.Log)

	err := execute(cmd, args, out, func([]string) error {
		cfg.Duration = time.Duration(seconds) * time.Second
		cfg.MeasureLatency = !noLatency
		cfg.UDPTarget = strings.TrimSpace(cfg.UDPTarget)
		cfg.Bus.Transport = Transport(strings.ToLower(strings.TrimSpace(transport)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseReceiverArgs builds a ReceiverConfig from benchrecv arguments. The
// only positional argument is the UDP port.
func ParseReceiverArgs(args []string, out io.Writer) (*ReceiverConfig, error) {
	cfg := DefaultReceiverConfig()

	cmd := &cobra.Command{
		Use:     "benchrecv [port]",
		Short:   "Receive benchmark datagrams and report latency",
		Long:    fmt.Sprintf("Receive benchmark datagrams and report latency.\n\nArguments:\n  port    UDP port to listen on (default: %d)", DefaultLocalPort),
		Example: "  benchrecv 8888",
		Args:    cobra.MaximumNArgs(1),
	}
	fs := cmd.Flags()
	fs.DurationVar(&cfg.ProgressInterval, "progress-interval", cfg.ProgressInterval, "Interval between progress lines (0 disables)")
	fs.IntVar(&cfg.SampleWindow, "sample-window", 0, "Keep only the most recent N latency samples for P99 (0 keeps all)")
	bindReportFlags(fs, &cfg.JSONOutput, &cfg.Thresholds, "latency:p99 < 5")
	bindLogFlags(fs, &cfg.Log)

	err := execute(cmd, args, out, func(positional []string) error {
		if len(positional) == 0 {
			return nil
		}
		port, err := strconv.Atoi(strings.TrimSpace(positional[0]))
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", positional[0], err)
		}
		cfg.Port = port
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BridgeArgs holds the databridge command line.
type BridgeArgs struct {
	ConfigPath  string
	MetricsAddr string
	Log         LogConfig
}

// ParseBridgeArgs reads the config path from --config or the positional
// argument; the flag wins.
func ParseBridgeArgs(args []string, out io.Writer) (*BridgeArgs, error) {
	var parsed BridgeArgs

	cmd := &cobra.Command{
		Use:   "databridge [config]",
		Short: "Bridge bus topics to local UDP and gRPC destinations",
		Long: "Bridge bus topics to local UDP and gRPC destinations.\n\n" +
			"The config file may be YAML, JSON or TOML. Without a usable file the bridge\n" +
			"forwards benchmark/data to 127.0.0.1:8888 over UDP.",
		Args: cobra.MaximumNArgs(1),
	}
	fs := cmd.Flags()
	fs.StringVar(&parsed.ConfigPath, "config", "", "Path to configuration file (YAML, JSON or TOML)")
	fs.StringVar(&parsed.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	bindLogFlags(fs, &parsed.Log)

	err := execute(cmd, args, out, func(positional []string) error {
		if parsed.ConfigPath == "" && len(positional) > 0 {
			parsed.ConfigPath = positional[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// ApplyBridgeOverrides lets command-line flags win over the config file.
// Log flags left at their defaults do not replace file settings.
func ApplyBridgeOverrides(cfg *BridgeConfig, args BridgeArgs) {
	if args.MetricsAddr != "" {
		cfg.MetricsAddr = args.MetricsAddr
	}
	cfg.Log.Level = override(cfg.Log.Level, args.Log.Level, defaultLogLevel)
	cfg.Log.Format = override(cfg.Log.Format, args.Log.Format, defaultLogFormat)
}

func override(file, flag, flagDefault string) string {
	if file == "" || flag != flagDefault {
		return flag
	}
	return file
}
