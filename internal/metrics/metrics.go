package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "treetag"

// Submission outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalid      = "invalid"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
	OutcomeRateLimited  = "rate_limited"
	OutcomeUnauthorized = "unauthorized"
)

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry        *prometheus.Registry
	submissions     *prometheus.CounterVec
	sessionsOpened  prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	speciesSearches prometheus.Counter
	suggestions     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Tree submissions by outcome.",
		}, []string{"outcome"}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Form sessions opened.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Form sessions closed, by reason.",
		}, []string{"reason"}),
		speciesSearches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "species_searches_total",
			Help:      "Species list searches.",
		}),
		suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "species_suggestions_total",
			Help:      "Photo based species suggestion requests by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.submissions,
		m.sessionsOpened,
		m.sessionsClosed,
		m.speciesSearches,
		m.suggestions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterActiveSessions exposes a gauge read from count on every scrape.
func (m *Metrics) RegisterActiveSessions(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Form sessions currently held in memory.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) Submission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionOpened() {
	m.sessionsOpened.Inc()
}

// SessionClosed records why a session went away, "closed" or "expired".
func (m *Metrics) SessionClosed(reason string) {
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) SpeciesSearch() {
	m.speciesSearches.Inc()
}

func (m *Metrics) Suggestion(result string) {
	m.suggestions.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
