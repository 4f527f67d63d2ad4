package config

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct {
	out io.Writer
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader returns a Loader that prints help to stdout.
func NewLoader() *Loader {
	return &Loader{out: os.Stdout}
}

// WithOutput redirects help output to w.
func (l *Loader) WithOutput(w io.Writer) *Loader {
	l.out = w
	return l
}

// Load builds a Config from defaults, the optional --config file, the
// positional arguments and finally the flags, each overriding the previous.
// The result is not validated.
func (l *Loader) Load(args []string) (*Config, error) {
	out := l.out
	if out == nil {
		out = os.Stdout
	}
	cmd := newFlagCommand(out)
	flagSet := cmd.Flags()
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, newUsageError(err, "invalid flags")
	}
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath, err := flagSet.GetString("config")
	if err != nil {
		return nil, err
	}
	positional := flagSet.Args()
	switch {
	case len(positional) == PositionalArgs:
	case len(positional) == 0 && configPath != "":
	default:
		return nil, newUsageError(nil, "expected %d arguments, got %d", PositionalArgs, len(positional))
	}

	cfg := &Config{
		Headers:      map[string]string{},
		SliceFactor:  DefaultSliceFactor,
		Stagger:      DefaultStagger,
		Granularity:  DefaultGranularity,
		OutputFormat: OutputText,
		ConfigFile:   configPath,
		Tracing:      TracingConfig{SampleRate: DefaultSampleRate},
	}

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := applyConfigSettings(cfg, v.AllSettings()); err != nil {
			return nil, fmt.Errorf("config %s: %w", configPath, err)
		}
	}

	if len(positional) == PositionalArgs {
		if err := applyPositional(cfg, positional); err != nil {
			return nil, err
		}
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, newUsageError(err, "invalid flags")
	}

	return cfg, nil
}

// applyPositional parses the eight positional arguments:
// urls hosts requestsPerSecond maxConnections timeout duration readResponseBody sliceFactor.
func applyPositional(cfg *Config, args []string) error {
	cfg.URLs = strings.Split(args[0], ",")
	cfg.Hosts = strings.Split(args[1], ",")

	ints := []struct {
		name string
		dst  *int
	}{
		{"requestsPerSecond", &cfg.RequestsPerSecond},
		{"maxConnections", &cfg.MaxConnections},
	}
	for i, field := range ints {
		n, err := parseWhole(field.name, args[2+i])
		if err != nil {
			return err
		}
		*field.dst = n
	}

	timeout, err := parseWhole("timeoutInSeconds", args[4])
	if err != nil {
		return err
	}
	cfg.Timeout = time.Duration(timeout) * time.Second

	duration, err := parseWhole("durationInSeconds", args[5])
	if err != nil {
		return err
	}
	cfg.Duration = time.Duration(duration) * time.Second

	switch strings.TrimSpace(args[6]) {
	case "1":
		cfg.ReadResponseBody = true
	case "0":
		cfg.ReadResponseBody = false
	default:
		return newUsageError(nil, "readResponseBody must be 1 or 0, got %q", args[6])
	}

	cfg.SliceFactor, err = parseWhole("secondSliceFactor", args[7])
	return err
}

func parseWhole(name, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, newUsageError(nil, "%s must be a whole number, got %q", name, raw)
	}
	return n, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "urls"); ok {
		vals, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("urls: %w", err)
		}
		cfg.URLs = vals
	}
	if raw, ok := lookupSetting(settings, "hosts"); ok {
		vals, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("hosts: %w", err)
		}
		cfg.Hosts = vals
	}
	if raw, ok := lookupSetting(settings, "targets"); ok {
		targets, err := parseTargets(raw)
		if err != nil {
			return fmt.Errorf("targets: %w", err)
		}
		cfg.URLs, cfg.Hosts = nil, nil
		for _, t := range targets {
			cfg.URLs = append(cfg.URLs, t.URL)
			cfg.Hosts = append(cfg.Hosts, t.Host)
		}
	}

	ints := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"requests_per_second", "rps", "rate"}, &cfg.RequestsPerSecond},
		{[]string{"max_connections"}, &cfg.MaxConnections},
		{[]string{"slice_factor"}, &cfg.SliceFactor},
	}
	for _, field := range ints {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = val
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"timeout", &cfg.Timeout},
		{"duration", &cfg.Duration},
		{"stagger", &cfg.Stagger},
		{"granularity", &cfg.Granularity},
		{"grace_period", &cfg.GracePeriod},
	}
	for _, field := range durations {
		if raw, ok := lookupSetting(settings, field.key); ok {
			val, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.key, err)
			}
			*field.dst = val
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"read_response_body", &cfg.ReadResponseBody},
		{"progress", &cfg.Progress},
		{"log_errors", &cfg.LogErrors},
		{"verbose", &cfg.Verbose},
	}
	for _, field := range bools {
		if raw, ok := lookupSetting(settings, field.key); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.key, err)
			}
			*field.dst = val
		}
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"timer_backend", &cfg.TimerBackend},
		{"metrics_addr", &cfg.MetricsAddr},
		{"history_file", &cfg.HistoryFile},
	}
	for _, field := range strs {
		if raw, ok := lookupSetting(settings, field.key); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.key, err)
			}
			*field.dst = strings.TrimSpace(val)
		}
	}
	cfg.TimerBackend = strings.ToLower(cfg.TimerBackend)

	if raw, ok := lookupSetting(settings, "output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		cfg.OutputFormat = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func parseTargets(raw any) ([]Target, error) {
	items, err := toInterfaceSlice(raw)
	if err != nil {
		return nil, err
	}
	targets := make([]Target, 0, len(items))
	for i, item := range items {
		m, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		var t Target
		if t.URL, err = asString(m["url"]); err != nil {
			return nil, fmt.Errorf("index %d: url: %w", i, err)
		}
		if t.Host, err = asString(m["host"]); err != nil {
			return nil, fmt.Errorf("index %d: host: %w", i, err)
		}
		t.URL = strings.TrimSpace(t.URL)
		t.Host = strings.TrimSpace(t.Host)
		if t.URL == "" {
			return nil, fmt.Errorf("index %d: url is required", i)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func applyTracingSettings(tc *TracingConfig, raw any) error {
	m, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	if v, ok := m["endpoint"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(s)
	}
	if v, ok := m["protocol"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(s))
	}
	if v, ok := m["service_name"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = strings.TrimSpace(s)
	}
	if v, ok := m["sample_rate"]; ok {
		rate, err := asFloat64(v)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = rate
	}
	if v, ok := m["insecure"]; ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = b
	}
	if v, ok := m["propagate"]; ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &b
	}
	return nil
}
