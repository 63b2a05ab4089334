// Package metrics exposes the SDK's Prometheus instrumentation on a
// client-owned registry, so embedding applications can mount it on
// whatever handler they already serve.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Registry *prometheus.Registry

	Processed *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Published prometheus.Counter
	OpenReqs  prometheus.Gauge
}

// Drop reasons used as label values.
const (
	DropBadSignature     = "bad_signature"
	DropDecryptFailed    = "decrypt_failed"
	DropBadPayload       = "bad_payload"
	DropNotInFleet       = "not_in_fleet"
	DropUnknownFormatter = "unknown_formatter"
)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "naeural_messages_processed_total",
			Help: "Bus messages fully processed, per stream.",
		}, []string{"stream"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "naeural_messages_dropped_total",
			Help: "Bus messages dropped before dispatch, per stream and reason.",
		}, []string{"stream", "reason"}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "naeural_messages_published_total",
			Help: "Commands published to the network.",
		}),
		OpenReqs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "naeural_pending_requests",
			Help: "Currently open pending requests.",
		}),
	}
	reg.MustRegister(m.Processed, m.Dropped, m.Published, m.OpenReqs)
	return m
}
