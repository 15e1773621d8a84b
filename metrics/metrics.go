package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xgr-network/xgr-relay/types"
)

const namespace = "relay"

// Outcome labels for completions and submissions.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeRateLimit = "rate_limited"
	OutcomeInvalid   = "invalid"
	OutcomeReverted  = "reverted"
	OutcomeDuplicate = "duplicate"
	OutcomeTimeout   = "timeout"
)

// Metrics of one relay process. A nil *Metrics records nothing.
type Metrics struct {
	EventsReceived    *prometheus.CounterVec
	DecodeErrors      prometheus.Counter
	Duplicates        *prometheus.CounterVec
	Completions       *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	Submissions       *prometheus.CounterVec
	InFlight          prometheus.Gauge
	Checkpoint        prometheus.Gauge
}

// New registers the relay collectors on reg, labelled with the subscription id.
func New(reg prometheus.Registerer, subscriptionID string) (*Metrics, error) {
	labels := prometheus.Labels{"subscription": subscriptionID}

	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_received_total",
			Help:        "Decoded request events by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "decode_errors_total",
			Help:        "Request logs dropped because they could not be decoded.",
			ConstLabels: labels,
		}),
		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "duplicates_total",
			Help:        "Events skipped as duplicates, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "completions_total",
			Help:        "Completion calls by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		CompletionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "completion_duration_seconds",
			Help:        "Latency of completion calls including retries.",
			ConstLabels: labels,
			Buckets:     []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "submissions_total",
			Help:        "Fulfilment submissions by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "in_flight",
			Help:        "Requests currently being processed.",
			ConstLabels: labels,
		}),
		Checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "checkpoint_block",
			Help:        "Last block whose request logs were delivered.",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.EventsReceived, m.DecodeErrors, m.Duplicates, m.Completions,
		m.CompletionLatency, m.Submissions, m.InFlight, m.Checkpoint,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) EventReceived(kind types.EventKind) {
	if m == nil {
		return
	}

	m.EventsReceived.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}

	m.DecodeErrors.Inc()
}

func (m *Metrics) Duplicate(reason string) {
	if m == nil {
		return
	}

	m.Duplicates.WithLabelValues(reason).Inc()
}

func (m *Metrics) Completion(outcome string, since time.Time) {
	if m == nil {
		return
	}

	m.Completions.WithLabelValues(outcome).Inc()
	m.CompletionLatency.Observe(time.Since(since).Seconds())
}

func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}

	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}

	m.InFlight.Set(float64(n))
}

func (m *Metrics) SetCheckpoint(block uint64) {
	if m == nil {
		return
	}

	m.Checkpoint.Set(float64(block))
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
