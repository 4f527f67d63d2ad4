// Package metrics records the outcome of every dispatch.
//
// # Counters
//
// [Counters] is the per-Target tally. Each outcome increments total plus
// exactly one of failed, 2xx, 3xx, 4xx or 5xx, so once recording stops:
//
//	snap := counters.Snapshot()
//	snap.Total == snap.Outcomes() // always true
//
// All counters are atomic and monotonic. [CountersSnapshot.Add] sums
// snapshots across Targets and [CountersSnapshot.ReasonCounts] flattens the
// failure-reason breakdown for reports.
//
// # Latency
//
// [LatencyRecorder] wraps an HDR histogram tracking 1µs to 60s with three
// significant figures. Recorders of several Targets combine with
// [LatencyRecorder.Merge].
//
// # Prometheus
//
// [PromCollector] implements prometheus.Collector over any set of [Source]
// values and reads them on each scrape. [StartServer] exposes a gatherer on
// /metrics.
package metrics
