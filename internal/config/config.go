package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/torosent/rpsgen/internal/timermux"
)

// OutputFormat selects how the final report is printed.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// Defaults applied before the config file, positional arguments and flags.
const (
	DefaultSliceFactor = 1
	DefaultStagger     = 500 * time.Millisecond
	DefaultGranularity = timermux.DefaultGranularity
	DefaultSampleRate  = 1.0

	// HighRateThreshold is the per-Target rate above which a warning is issued.
	HighRateThreshold = 1000
)

// Target is one URL and the Host header sent with it.
type Target struct {
	URL  string `mapstructure:"url"`
	Host string `mapstructure:"host"`
}

type Config struct {
	URLs              []string          `mapstructure:"urls"`
	Hosts             []string          `mapstructure:"hosts"`
	RequestsPerSecond int               `mapstructure:"requests_per_second"`
	MaxConnections    int               `mapstructure:"max_connections"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Duration          time.Duration     `mapstructure:"duration"`
	ReadResponseBody  bool              `mapstructure:"read_response_body"`
	SliceFactor       int               `mapstructure:"slice_factor"`
	Headers           map[string]string `mapstructure:"headers"`
	Stagger           time.Duration     `mapstructure:"stagger"`
	Granularity       time.Duration     `mapstructure:"granularity"`
	TimerBackend      string            `mapstructure:"timer_backend"`
	GracePeriod       time.Duration     `mapstructure:"grace_period"`
	OutputFormat      OutputFormat      `mapstructure:"output"`
	Progress          bool              `mapstructure:"progress"`
	LogErrors         bool              `mapstructure:"log_errors"`
	Verbose           bool              `mapstructure:"verbose"`
	MetricsAddr       string            `mapstructure:"metrics_addr"`
	HistoryFile       string            `mapstructure:"history_file"`
	Tracing           TracingConfig     `mapstructure:"tracing"`
	ConfigFile        string            `mapstructure:"-"`
}

// TracingConfig configures OpenTelemetry export of dispatch spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"` // nil means propagate when enabled
	RunID       string  `mapstructure:"-"`
}

// Environment variables consulted when the matching TracingConfig field is empty.
const (
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvServiceName  = "OTEL_SERVICE_NAME"

	DefaultServiceName = "rpsgen"
)

// ExporterEndpoint is Endpoint, or $OTEL_EXPORTER_OTLP_ENDPOINT when unset.
func (t TracingConfig) ExporterEndpoint() string {
	if ep := strings.TrimSpace(t.Endpoint); ep != "" {
		return ep
	}
	return strings.TrimSpace(os.Getenv(EnvOTLPEndpoint))
}

// Service is ServiceName, then $OTEL_SERVICE_NAME, then DefaultServiceName.
func (t TracingConfig) Service() string {
	if name := strings.TrimSpace(t.ServiceName); name != "" {
		return name
	}
	if name := strings.TrimSpace(os.Getenv(EnvServiceName)); name != "" {
		return name
	}
	return DefaultServiceName
}

// Enabled reports whether an exporter endpoint is configured, by flag, file
// or environment.
func (t TracingConfig) Enabled() bool {
	return t.ExporterEndpoint() != ""
}

// ShouldPropagate reports whether W3C trace headers are injected.
func (t TracingConfig) ShouldPropagate() bool {
	if !t.Enabled() {
		return false
	}
	if t.Propagate != nil {
		return *t.Propagate
	}
	return true
}

// Targets pairs URLs with hosts by position.
func (c Config) Targets() []Target {
	n := len(c.URLs)
	if len(c.Hosts) < n {
		n = len(c.Hosts)
	}
	out := make([]Target, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Target{URL: c.URLs[i], Host: c.Hosts[i]})
	}
	return out
}

// EffectiveGracePeriod is GracePeriod, or the request timeout plus one second
// when it is unset.
func (c Config) EffectiveGracePeriod() time.Duration {
	if c.GracePeriod > 0 {
		return c.GracePeriod
	}
	return c.Timeout + time.Second
}

// ErrTargetMismatch is wrapped by the UsageError returned when the URL and
// host lists differ in length.
var ErrTargetMismatch = errors.New("Number of URLs and Host headers should be equal. Wrong input!")

// UsageError reports malformed invocation: wrong argument count, unparsable
// numbers or mismatched lists.
type UsageError struct {
	msg string
	err error
}

func newUsageError(err error, format string, args ...any) UsageError {
	return UsageError{msg: fmt.Sprintf(format, args...), err: err}
}

func (e UsageError) Error() string {
	if e.msg == "" && e.err != nil {
		return e.err.Error()
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e UsageError) Unwrap() error {
	return e.err
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

func (c Config) Validate() error {
	if len(c.URLs) != len(c.Hosts) {
		return UsageError{err: ErrTargetMismatch}
	}

	var issues []string
	if len(c.URLs) == 0 {
		issues = append(issues, "at least one URL is required")
	}
	for i, u := range c.URLs {
		if strings.TrimSpace(u) == "" {
			issues = append(issues, fmt.Sprintf("url %d is empty", i+1))
		}
	}
	if c.RequestsPerSecond < 1 {
		issues = append(issues, "requestsPerSecond must be at least 1")
	}
	if c.MaxConnections < 0 {
		issues = append(issues, "maxConnections must be >= 0 (0 means unlimited)")
	}
	if c.Timeout <= 0 {
		issues = append(issues, "timeout must be greater than 0")
	}
	if c.Duration <= 0 {
		issues = append(issues, "duration must be greater than 0")
	}
	if c.SliceFactor < 1 {
		issues = append(issues, "sliceFactor must be at least 1")
	}
	if c.Stagger < 0 {
		issues = append(issues, "stagger must be >= 0")
	}
	if c.Granularity < 0 {
		issues = append(issues, "granularity must be >= 0")
	}
	if c.GracePeriod < 0 {
		issues = append(issues, "grace-period must be >= 0")
	}
	if !validBackend(c.TimerBackend) {
		issues = append(issues, fmt.Sprintf("timer-backend must be one of %s", strings.Join(timermux.Backends(), ", ")))
	}
	switch c.OutputFormat {
	case "", OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output must be text, json or yaml, got %q", c.OutputFormat))
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("otel-protocol must be grpc or http, got %q", c.Tracing.Protocol))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "otel-sample-rate must be between 0.0 and 1.0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists non-fatal notices about the configuration.
func (c Config) Warnings() []string {
	var warnings []string
	if c.RequestsPerSecond > HighRateThreshold {
		warnings = append(warnings, fmt.Sprintf("High rate configured (%d RPS per target). Ensure you have authorization to test the target system.", c.RequestsPerSecond))
	}
	if c.SliceFactor != DefaultSliceFactor {
		warnings = append(warnings, fmt.Sprintf("sliceFactor %d has no effect; request starts are spread by the scheduler.", c.SliceFactor))
	}
	return warnings
}

func validBackend(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return true
	}
	for _, b := range timermux.Backends() {
		if name == b {
			return true
		}
	}
	return false
}
