// Package observability provides Prometheus metrics for the gateway.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	// TurnsTotal counts turns by provider and terminal outcome
	// (completed, cancelled, failed).
	TurnsTotal *prometheus.CounterVec

	// FallbacksTotal counts streaming-to-one-shot fallbacks by trigger
	// (timeout, not_permitted, empty).
	FallbacksTotal *prometheus.CounterVec

	// FirstFrameSeconds observes time from dispatch to the first delta frame.
	FirstFrameSeconds *prometheus.HistogramVec
}

// New registers the gateway collectors on a registry and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcommander",
			Name:      "turns_total",
			Help:      "Chat turns by provider and terminal outcome.",
		}, []string{"provider", "outcome"}),
		FallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcommander",
			Name:      "fallbacks_total",
			Help:      "Streaming-to-one-shot fallbacks by trigger.",
		}, []string{"provider", "trigger"}),
		FirstFrameSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qcommander",
			Name:      "first_frame_seconds",
			Help:      "Time from provider dispatch to first delta frame.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
	}
}

// NewDefault registers on the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
