package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for loans and the liquidity pool.
type Metrics struct {
	LoansOpened        prometheus.Counter
	LoansRepaid        prometheus.Counter
	InstallmentsPaid   prometheus.Counter
	LoanRejections     *prometheus.CounterVec
	PrincipalDisbursed prometheus.Counter
	PoolDeposits       prometheus.Counter
	PoolWithdrawals    prometheus.Counter
	PoolLiquidityUnits prometheus.Gauge
}

// New registers lending metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LoansOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_loans_opened_total",
			Help: "Total number of loans opened",
		}),
		LoansRepaid: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_loans_repaid_total",
			Help: "Total number of loans fully repaid",
		}),
		InstallmentsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_installments_paid_total",
			Help: "Total number of installments paid",
		}),
		LoanRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credline_loan_rejections_total",
			Help: "Loan requests rejected, by error code",
		}, []string{"code"}),
		PrincipalDisbursed: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_loan_principal_disbursed_units_total",
			Help: "Principal disbursed to borrowers in base units",
		}),
		PoolDeposits: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_pool_deposits_total",
			Help: "Total number of liquidity deposits",
		}),
		PoolWithdrawals: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_pool_withdrawals_total",
			Help: "Total number of liquidity withdrawals",
		}),
		PoolLiquidityUnits: f.NewGauge(prometheus.GaugeOpts{
			Name: "credline_pool_liquidity_units",
			Help: "Pool balance in base units after the last committed pool operation",
		}),
	}
}
