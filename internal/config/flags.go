package config

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// PositionalArgs is the number of positional arguments without --config.
const PositionalArgs = 8

var usageLines = []string{
	"Usage: rpsgen <urls> <hosts> <requestsPerSecond> <maxConnections> <timeoutInSeconds> <durationInSeconds> <readResponseBody> <secondSliceFactor> [flags]",
	"Urls and hosts should be comma separated without space.",
	"For putting no cap on maxConnections, set it to 0.",
	"Set readResponseBody as 1 or 0.",
	"Keep secondSliceFactor as one, unless you want to divide a second into set number of slices and divide RPS spurts among them.",
}

func newFlagCommand(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rpsgen <urls> <hosts> <requestsPerSecond> <maxConnections> <timeoutInSeconds> <durationInSeconds> <readResponseBody> <secondSliceFactor>",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(out)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.StringSlice("header", nil, "Additional request header in key=value form")

	// Scheduling
	flags.Duration("stagger", DefaultStagger, "Window over which the first fire of each slot is spread")
	flags.Duration("granularity", DefaultGranularity, "Minimum sleep of the timer loop (heap backend only)")
	flags.String("timer-backend", "heap", "Timer multiplexer backend (heap or timerfd)")
	flags.Duration("grace-period", 0, "Time allowed for in-flight requests after the run ends (0 means timeout + 1s)")

	// Output
	flags.String("output", string(OutputText), "Report format: text, json or yaml")
	flags.Bool("progress", false, "Print a live status line every second")
	flags.Bool("log-errors", false, "Log failed requests to stderr")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.String("history-file", "", "Append the JSON report of each run to this file")

	// Tracing
	flags.String("otel-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("otel-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("otel-service-name", "", "Service name reported on spans")
	flags.Float64("otel-sample-rate", DefaultSampleRate, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("otel-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("otel-propagate", true, "Inject W3C trace context headers into requests")
}

// Usage returns the invocation help text.
func Usage() string {
	return strings.Join(usageLines, "\n") + "\n"
}

func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, Usage())
	fmt.Fprint(out, "\nFlags:\n")
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and positional arguments.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("stagger") {
		val, err := fs.GetDuration("stagger")
		if err != nil {
			return err
		}
		cfg.Stagger = val
	}
	if fs.Changed("granularity") {
		val, err := fs.GetDuration("granularity")
		if err != nil {
			return err
		}
		cfg.Granularity = val
	}
	if fs.Changed("timer-backend") {
		val, err := fs.GetString("timer-backend")
		if err != nil {
			return err
		}
		cfg.TimerBackend = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("grace-period") {
		val, err := fs.GetDuration("grace-period")
		if err != nil {
			return err
		}
		cfg.GracePeriod = val
	}
	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.OutputFormat = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("progress") {
		val, err := fs.GetBool("progress")
		if err != nil {
			return err
		}
		cfg.Progress = val
	}
	if fs.Changed("log-errors") {
		val, err := fs.GetBool("log-errors")
		if err != nil {
			return err
		}
		cfg.LogErrors = val
	}
	if fs.Changed("verbose") {
		val, err := fs.GetBool("verbose")
		if err != nil {
			return err
		}
		cfg.Verbose = val
	}
	if fs.Changed("metrics-addr") {
		val, err := fs.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}
	if fs.Changed("history-file") {
		val, err := fs.GetString("history-file")
		if err != nil {
			return err
		}
		cfg.HistoryFile = strings.TrimSpace(val)
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	return applyTracingFlagOverrides(&cfg.Tracing, fs)
}

func applyTracingFlagOverrides(tc *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("otel-endpoint") {
		val, err := fs.GetString("otel-endpoint")
		if err != nil {
			return err
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("otel-protocol") {
		val, err := fs.GetString("otel-protocol")
		if err != nil {
			return err
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("otel-service-name") {
		val, err := fs.GetString("otel-service-name")
		if err != nil {
			return err
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	if fs.Changed("otel-sample-rate") {
		val, err := fs.GetFloat64("otel-sample-rate")
		if err != nil {
			return err
		}
		tc.SampleRate = val
	}
	if fs.Changed("otel-insecure") {
		val, err := fs.GetBool("otel-insecure")
		if err != nil {
			return err
		}
		tc.Insecure = val
	}
	if fs.Changed("otel-propagate") {
		val, err := fs.GetBool("otel-propagate")
		if err != nil {
			return err
		}
		tc.Propagate = &val
	}
	return nil
}
