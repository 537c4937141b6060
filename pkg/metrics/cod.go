package metrics

import "github.com/prometheus/client_golang/prometheus"

// CodPollerMetrics tracks the per-order gateway polling tasks.
type CodPollerMetrics struct {
	active   prometheus.Gauge
	polls    *prometheus.CounterVec
	outcomes *prometheus.CounterVec
}

// NewCodPollerMetrics registers the COD poller metrics on the provided registerer.
func NewCodPollerMetrics(reg prometheus.Registerer) *CodPollerMetrics {
	if reg == nil {
		return &CodPollerMetrics{}
	}
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cod_pollers_active",
		Help: "Number of COD gateway poll tasks currently running.",
	})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cod_poll_attempts",
		Help: "Gateway status poll attempts.",
	}, []string{"result"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cod_poll_outcomes",
		Help: "Terminal outcomes of COD poll tasks.",
	}, []string{"outcome"})
	reg.MustRegister(active, polls, outcomes)
	return &CodPollerMetrics{
		active:   active,
		polls:    polls,
		outcomes: outcomes,
	}
}

// PollerStarted increments the active poller gauge.
func (c *CodPollerMetrics) PollerStarted() {
	if c == nil || c.active == nil {
		return
	}
	c.active.Inc()
}

// PollerStopped decrements the active poller gauge.
func (c *CodPollerMetrics) PollerStopped() {
	if c == nil || c.active == nil {
		return
	}
	c.active.Dec()
}

// IncPoll records one poll attempt with its result label.
func (c *CodPollerMetrics) IncPoll(result string) {
	if c == nil || c.polls == nil {
		return
	}
	c.polls.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncOutcome records the terminal outcome of a poll task.
func (c *CodPollerMetrics) IncOutcome(outcome string) {
	if c == nil || c.outcomes == nil {
		return
	}
	c.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}
