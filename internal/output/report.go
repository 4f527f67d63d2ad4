package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/torosent/rpsgen/internal/metrics"
	"github.com/torosent/rpsgen/internal/runner"
)

// Report is the structured form of a finished run.
type Report struct {
	RunID             string                   `json:"run_id" yaml:"run_id"`
	StartedAt         time.Time                `json:"started_at" yaml:"started_at"`
	RequestsPerSecond int                      `json:"requests_per_second" yaml:"requests_per_second"`
	DurationSeconds   float64                  `json:"duration_seconds" yaml:"duration_seconds"`
	ElapsedSeconds    float64                  `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	MeasuredRPS       float64                  `json:"measured_rps" yaml:"measured_rps"`
	Interrupted       bool                     `json:"interrupted" yaml:"interrupted"`
	Totals            metrics.CountersSnapshot `json:"totals" yaml:"totals"`
	Latency           metrics.LatencyStats     `json:"latency" yaml:"latency"`
	Targets           []TargetReport           `json:"targets" yaml:"targets"`
	Error             string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

// TargetReport is the per-Target section of a Report.
type TargetReport struct {
	Name     string                   `json:"name" yaml:"name"`
	URL      string                   `json:"url" yaml:"url"`
	Host     string                   `json:"host,omitempty" yaml:"host,omitempty"`
	Slots    int                      `json:"slots" yaml:"slots"`
	Fires    int64                    `json:"fires" yaml:"fires"`
	Counters metrics.CountersSnapshot `json:"counters" yaml:"counters"`
	Latency  metrics.LatencyStats     `json:"latency" yaml:"latency"`
	Error    string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunInfo describes the run a Result came from.
type RunInfo struct {
	RunID       string
	StartedAt   time.Time
	Rate        int
	Duration    time.Duration
	Interrupted bool
}

// NewRunID returns a sortable unique run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// NewReport flattens a runner result into a Report.
func NewReport(info RunInfo, res runner.Result) Report {
	r := Report{
		RunID:             info.RunID,
		StartedAt:         info.StartedAt.UTC(),
		RequestsPerSecond: info.Rate,
		DurationSeconds:   info.Duration.Seconds(),
		ElapsedSeconds:    res.Elapsed.Seconds(),
		MeasuredRPS:       res.EffectiveRPS,
		Interrupted:       info.Interrupted,
		Totals:            res.Totals,
		Latency:           res.Latency,
		Targets:           make([]TargetReport, 0, len(res.Targets)),
	}
	if r.RunID == "" {
		r.RunID = NewRunID()
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	for _, tr := range res.Targets {
		row := TargetReport{
			Name:     tr.Target.String(),
			URL:      tr.Target.URL,
			Host:     tr.Target.HostHeader,
			Slots:    tr.Schedule.Slots,
			Fires:    tr.Schedule.Fires,
			Counters: tr.Counters,
			Latency:  tr.Latency,
		}
		if tr.Err != nil {
			row.Error = tr.Err.Error()
		}
		r.Targets = append(r.Targets, row)
	}
	return r
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	t := r.Totals
	fmt.Fprintf(w, "Total requests sent: %d\n", t.Total)
	fmt.Fprintf(w, "Total time in seconds: %.2f\n", r.ElapsedSeconds)
	fmt.Fprintf(w, "Measured RPS: %.2f\n", r.MeasuredRPS)
	fmt.Fprintf(w, "Failed requests: %d\n", t.Failed)
	fmt.Fprintf(w, "2xx responses: %d\n", t.C2xx)
	fmt.Fprintf(w, "3xx responses: %d\n", t.C3xx)
	fmt.Fprintf(w, "4xx responses: %d\n", t.C4xx)
	fmt.Fprintf(w, "5xx responses: %d\n", t.C5xx)

	l := r.Latency
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:  %s\n", l.Min)
	fmt.Fprintf(w, "  Mean: %s\n", l.Mean)
	fmt.Fprintf(w, "  P50:  %s\n", l.P50)
	fmt.Fprintf(w, "  P90:  %s\n", l.P90)
	fmt.Fprintf(w, "  P99:  %s\n", l.P99)
	fmt.Fprintf(w, "  Max:  %s\n", l.Max)

	if reasons := t.ReasonCounts(); len(reasons) > 0 {
		fmt.Fprintln(w, "\nFailure reasons:")
		for _, rc := range reasons {
			fmt.Fprintf(w, "  %s: %d\n", rc.Reason, rc.Count)
		}
	}

	if len(r.Targets) > 1 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTargetTable(r.Targets))
	}
	for _, tr := range r.Targets {
		if tr.Error != "" {
			fmt.Fprintf(w, "\nTarget %s stopped: %s\n", tr.Name, tr.Error)
		}
	}
}

func renderTargetTable(targets []TargetReport) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Target", "Host", "Requests", "Failed", "2xx", "3xx", "4xx", "5xx", "P99"})
	for _, tr := range targets {
		c := tr.Counters
		tw.AppendRow(table.Row{
			tr.URL, tr.Host, c.Total, c.Failed, c.C2xx, c.C3xx, c.C4xx, c.C5xx, tr.Latency.P99,
		})
	}
	return tw.Render()
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
