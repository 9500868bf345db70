package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity ledger.
type Metrics struct {
	IdentitiesCreated prometheus.Counter
	DocumentsAdded    prometheus.Counter
	Verifications     *prometheus.CounterVec
	MutationDuration  *prometheus.HistogramVec
}

// New registers identity metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IdentitiesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_identities_created_total",
			Help: "Total number of identities created",
		}),
		DocumentsAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_identity_documents_added_total",
			Help: "Total number of identity documents appended, first documents included",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credline_identity_verifications_total",
			Help: "Total number of identity verifications by granted level",
		}, []string{"level"}),
		MutationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credline_identity_mutation_duration_seconds",
			Help:    "Duration of identity mutations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementCreated() {
	m.IdentitiesCreated.Inc()
	m.DocumentsAdded.Inc()
}

func (m *Metrics) IncrementDocumentAdded() {
	m.DocumentsAdded.Inc()
}

func (m *Metrics) IncrementVerified(level int) {
	m.Verifications.WithLabelValues(strconv.Itoa(level)).Inc()
}

// ObserveMutation records how long an operation took.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMutation(operation string, start time.Time) {
	m.MutationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
