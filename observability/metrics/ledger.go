package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"pynthchain/core/events"
)

type LedgerMetrics struct {
	operations   *prometheus.CounterVec
	pynthsIssued prometheus.Counter
	pynthsBurned prometheus.Counter
	liquidations *prometheus.CounterVec
	flagged      prometheus.Gauge
	feePeriods   prometheus.Counter
	feesClaimed  prometheus.Counter
	feesBurned   prometheus.Counter
	loanEvents   *prometheus.CounterVec
	debtShare    prometheus.Gauge
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process wide ledger metrics, registering them on first
// use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Ledger operations by name and outcome.",
			}, []string{"operation", "outcome"}),
			pynthsIssued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_pynths_issued_total",
				Help: "pUSD issued against staked collateral.",
			}),
			pynthsBurned: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_pynths_burned_total",
				Help: "pUSD burned to repay staker debt.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_liquidations_total",
				Help: "Executed liquidations by kind.",
			}, []string{"kind"}),
			flagged: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "ledger_accounts_flagged",
				Help: "Accounts currently flagged for liquidation.",
			}),
			feePeriods: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_fee_periods_closed_total",
				Help: "Fee periods closed.",
			}),
			feesClaimed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_fees_claimed_total",
				Help: "pUSD fees claimed by stakers.",
			}),
			feesBurned: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_fees_burned_total",
				Help: "pUSD fees burned at period close beyond the network debt share.",
			}),
			loanEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_loan_events_total",
				Help: "Loan lifecycle transitions by collateral type and kind.",
			}, []string{"collateral", "kind"}),
			debtShare: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "ledger_network_debt_share",
				Help: "Local share of the cross-network debt at the last fee period close.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.pynthsIssued,
			ledgerRegistry.pynthsBurned,
			ledgerRegistry.liquidations,
			ledgerRegistry.flagged,
			ledgerRegistry.feePeriods,
			ledgerRegistry.feesClaimed,
			ledgerRegistry.feesBurned,
			ledgerRegistry.loanEvents,
			ledgerRegistry.debtShare,
		)
	})
	return ledgerRegistry
}

var unitFloat = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// units converts a unit-scale amount to a float for gauges and counters.
func units(v *big.Int) float64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), unitFloat).Float64()
	return f
}

func (m *LedgerMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// SetFlagged records the number of accounts flagged for liquidation.
func (m *LedgerMetrics) SetFlagged(n int) {
	if m == nil {
		return
	}
	m.flagged.Set(float64(n))
}

// Emit satisfies events.Emitter so the registry can sit behind a fanout.
func (m *LedgerMetrics) Emit(ev events.Event) {
	if m == nil || ev == nil {
		return
	}
	switch e := ev.(type) {
	case events.PynthsIssued:
		m.pynthsIssued.Add(units(e.Amount))
	case events.PynthsBurned:
		m.pynthsBurned.Add(units(e.Amount))
	case events.AccountLiquidated:
		m.liquidations.WithLabelValues("account").Inc()
	case events.FeePeriodClosed:
		m.feePeriods.Inc()
		m.feesBurned.Add(units(e.FeesBurned))
		m.debtShare.Set(units(e.NetworkDebtShare))
	case events.FeesClaimed:
		m.feesClaimed.Add(units(e.Fees))
	case events.LoanEvent:
		if e.Kind == events.TypeLoanLiquidated {
			m.liquidations.WithLabelValues("loan").Inc()
		}
		m.loanEvents.WithLabelValues(e.CollateralType, e.Kind).Inc()
	}
}
