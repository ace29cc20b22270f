package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters external alerting watches. Registered once
// at startup; all loop goroutines share one instance.
type Metrics struct {
	InferenceErrors  *prometheus.CounterVec
	CaptureRetries   *prometheus.CounterVec
	RuleFailures     *prometheus.CounterVec
	PersistEnqueued  *prometheus.CounterVec
	PersistDropped   *prometheus.CounterVec
	PersistLost      *prometheus.CounterVec
	StreamPublished  *prometheus.CounterVec
	StreamDropped    *prometheus.CounterVec
	ConfigReloadErrs *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InferenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_inference_errors_total",
			Help: "Inference calls that failed and were treated as zero detections.",
		}, []string{"camera_id"}),
		CaptureRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_capture_retries_total",
			Help: "Transient frame acquisition failures that were retried.",
		}, []string{"camera_id"}),
		RuleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_rule_failures_total",
			Help: "Rule evaluations that errored and were skipped.",
		}, []string{"rule"}),
		PersistEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_persist_enqueued_total",
			Help: "Detection records accepted by the persistence worker queue.",
		}, []string{"camera_id"}),
		PersistDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_persist_dropped_total",
			Help: "Submissions dropped because the persistence queue was full.",
		}, []string{"camera_id"}),
		PersistLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_persist_lost_total",
			Help: "Records lost after exhausting write retries.",
		}, []string{"camera_id"}),
		StreamPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_stream_published_total",
			Help: "Frames published to the stream hub.",
		}, []string{"camera_id"}),
		StreamDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_stream_dropped_total",
			Help: "Frames dropped for slow stream subscribers.",
		}, []string{"camera_id"}),
		ConfigReloadErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_config_reload_errors_total",
			Help: "Runtime config reloads that failed and kept the stale config.",
		}, []string{"camera_id"}),
	}

	reg.MustRegister(
		m.InferenceErrors,
		m.CaptureRetries,
		m.RuleFailures,
		m.PersistEnqueued,
		m.PersistDropped,
		m.PersistLost,
		m.StreamPublished,
		m.StreamDropped,
		m.ConfigReloadErrs,
	)

	return m
}

// NewNop returns metrics backed by an isolated registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
