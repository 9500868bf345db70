package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the credential issuer.
type Metrics struct {
	Minted            prometheus.Counter
	Revoked           prometheus.Counter
	Renewed           prometheus.Counter
	TransfersRejected prometheus.Counter
}

// New registers credential metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Minted: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_sbt_minted_total",
			Help: "Total number of soulbound credentials minted",
		}),
		Revoked: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_sbt_revoked_total",
			Help: "Total number of credentials revoked by re-mint",
		}),
		Renewed: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_sbt_renewed_total",
			Help: "Total number of credential renewals",
		}),
		TransfersRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_sbt_transfers_rejected_total",
			Help: "Total number of rejected credential transfer attempts",
		}),
	}
}
