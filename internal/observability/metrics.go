package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fp",
		Name:      "enrollments_total",
		Help:      "Enrollment attempts by outcome",
	}, []string{"outcome"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fp",
		Name:      "gateway_duration_seconds",
		Help:      "Duration of verification engine calls",
		Buckets:   prometheus.ExponentialBuckets(0.025, 2, 10),
	}, []string{"method", "result"})

	PrimaryTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fp",
		Name:      "primary_transitions_total",
		Help:      "Primary flag transitions by kind and result",
	}, []string{"transition", "result"})

	ProfileDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fp",
		Name:      "profile_deletes_total",
		Help:      "Profile deletions by mode",
	}, []string{"mode"})

	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fp",
		Name:      "side_effect_failures_total",
		Help:      "Failed fire-and-forget side effects (cache, events, images, compensation)",
	}, []string{"effect"})

	ProfilesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fp",
		Name:      "profiles_indexed_total",
		Help:      "Profiles marked indexed by the indexer",
	})

	ProfileEventsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fp",
		Name:      "profile_events_pending",
		Help:      "Messages held in the PROFILES stream",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fp",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
