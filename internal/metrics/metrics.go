package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"crimewatch/internal/core"
	"crimewatch/internal/ledger"
	"crimewatch/internal/verification"
)

const namespace = "crimewatch"

// Recorder holds the service collectors. It satisfies core.Observer and its
// Submitted and Settled methods have the shape of a ledger.Observer.
type Recorder struct {
	submissions   prometheus.Counter
	settlements   *prometheus.CounterVec
	pending       prometheus.Gauge
	verifications *prometheus.CounterVec
	reports       *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "submissions_total",
			Help:      "Transactions submitted to the ledger simulator.",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settlements_total",
			Help:      "Transactions settled, by terminal status.",
		}, []string{"status"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "pending_transactions",
			Help:      "Transactions submitted but not yet settled.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Report verifications, by outcome.",
		}, []string{"outcome"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_submitted_total",
			Help:      "Reports accepted, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(r.submissions, r.settlements, r.pending, r.verifications, r.reports)
	return r
}

func (r *Recorder) ReportSubmitted(rep *core.Report) {
	kind := "regular"
	if rep.Type == core.Emergency {
		kind = "emergency"
	}
	r.reports.WithLabelValues(kind).Inc()
}

// Submitted counts a transaction accepted by the ledger, whether or not the
// report it carries is saved afterwards.
func (r *Recorder) Submitted(ledger.Transaction) {
	r.submissions.Inc()
	r.pending.Inc()
}

func (r *Recorder) Settled(tx ledger.Transaction) {
	r.settlements.WithLabelValues(string(tx.Status)).Inc()
	r.pending.Dec()
}

func (r *Recorder) ReportVerified(res verification.Result) {
	outcome := "counted"
	if res.AlreadyVerified {
		outcome = "already_verified"
	}
	r.verifications.WithLabelValues(outcome).Inc()
}
