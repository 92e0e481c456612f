package ticket

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystems. A nil *Metrics
// is safe to pass around; callers guard their observations.
type Metrics struct {
	TriagesTotal     *prometheus.CounterVec
	TriageDuration   *prometheus.HistogramVec
	TriageAttempts   prometheus.Histogram
	ClaimsTotal      *prometheus.CounterVec
	ClassifierTotal  *prometheus.CounterVec
	LLMCallDuration  prometheus.Histogram
	SubmitsTotal     *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	EventsReceived   *prometheus.CounterVec
	WSConnections    prometheus.Gauge
	WSDeliveries     *prometheus.CounterVec
	WSSnapshotsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagehub_triages_total",
			Help: "Total triage jobs by final ticket status.",
		}, []string{"status"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triagehub_triage_duration_seconds",
			Help:    "Duration of triage jobs in seconds, including retries.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"status"}),
		TriageAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triagehub_triage_attempts",
			Help:    "Claim-and-process attempts per triage job.",
			Buckets: prometheus.LinearBuckets(1, 1, 5),
		}),
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagehub_claims_total",
			Help: "Claim attempts by outcome (claimed, contention, error).",
		}, []string{"outcome"}),
		ClassifierTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagehub_classifier_results_total",
			Help: "Classifier outcomes by ai_status (success, fallback, error).",
		}, []string{"ai_status"}),
		LLMCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triagehub_llm_call_duration_seconds",
			Help:    "Duration of individual LLM provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagehub_submits_total",
			Help: "Ticket creations by result (created, invalid, error, enqueue_error).",
		}, []string{"result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagehub_events_published_total",
			Help: "Bridge publishes by outcome (ok, error).",
		}, []string{"outcome"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagehub_events_received_total",
			Help: "Bridge messages received by outcome (ok, malformed).",
		}, []string{"outcome"}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triagehub_ws_connections",
			Help: "Currently open websocket connections.",
		}),
		WSDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagehub_ws_deliveries_total",
			Help: "Event deliveries to websocket connections by outcome (ok, dropped).",
		}, []string{"outcome"}),
		WSSnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagehub_ws_snapshots_total",
			Help: "Snapshot reconciliations on subscribe by outcome (ok, missing, dropped, error).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.TriageAttempts,
		m.ClaimsTotal,
		m.ClassifierTotal,
		m.LLMCallDuration,
		m.SubmitsTotal,
		m.EventsPublished,
		m.EventsReceived,
		m.WSConnections,
		m.WSDeliveries,
		m.WSSnapshotsTotal,
	)

	return m
}
