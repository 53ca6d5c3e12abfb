package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChallengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_challenges_issued_total",
		Help: "Payment challenges issued",
	})

	PaymentValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_payment_validations_total",
		Help: "Payment validation outcomes, by proof kind",
	}, []string{"method", "result"})

	ReceiptsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_receipts_issued_total",
		Help: "Receipts issued, by proof kind",
	}, []string{"method"})

	AccessChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_access_checks_total",
		Help: "Access token checks, by result",
	}, []string{"result"})

	Revocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_revocations_total",
		Help: "Access tokens revoked",
	})

	ChainLookupSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paygate_chain_lookup_seconds",
		Help:    "Time spent confirming transactions on chain",
		Buckets: prometheus.DefBuckets,
	})

	SweptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_swept_entries_total",
		Help: "Expired store entries removed by the sweeper, by kind",
	}, []string{"kind"})
)
