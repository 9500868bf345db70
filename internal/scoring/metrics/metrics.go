package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"credline/internal/scoring/models"
)

// Metrics provides observability for the scoring engine.
type Metrics struct {
	ScoreUpdates *prometheus.CounterVec
	Blacklisted  prometheus.Counter
	CacheLookups *prometheus.CounterVec
}

// New registers scoring metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScoreUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credline_score_updates_total",
			Help: "Total number of score mutations by reason",
		}, []string{"reason"}),
		Blacklisted: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_score_blacklist_events_total",
			Help: "Total number of penalties that left a subject at zero",
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credline_score_cache_lookups_total",
			Help: "Score cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementUpdate(reason models.Reason) {
	m.ScoreUpdates.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) IncrementBlacklisted() {
	m.Blacklisted.Inc()
}

func (m *Metrics) IncrementCacheHit() {
	m.CacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) IncrementCacheMiss() {
	m.CacheLookups.WithLabelValues("miss").Inc()
}
