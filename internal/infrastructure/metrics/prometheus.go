package metrics

import (
	"github.com/lumenwallet/custody/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "custody"

type service struct {
	// outgoing queue outcomes, by outcome
	queueTransactions *prometheus.CounterVec
	// scheduled payment outcomes, by outcome
	scheduledPayments *prometheus.CounterVec
	batchDuration     prometheus.Histogram
}

// NewService registers the custody collectors with reg.
func NewService(reg prometheus.Registerer) (ports.Metrics, error) {
	svc := &service{
		queueTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_transactions_total",
			Help:      "The total number of outgoing transactions by outcome",
		}, []string{"outcome"}),
		scheduledPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_payments_total",
			Help:      "The total number of processed scheduled payments by outcome",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduled_payments_batch_duration_seconds",
			Help:      "Duration of scheduled payment batches",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	for _, c := range []prometheus.Collector{
		svc.queueTransactions, svc.scheduledPayments, svc.batchDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *service) TransactionQueued() {
	s.queueTransactions.WithLabelValues("queued").Inc()
}

func (s *service) TransactionConfirmed() {
	s.queueTransactions.WithLabelValues("confirmed").Inc()
}

func (s *service) TransactionRetried() {
	s.queueTransactions.WithLabelValues("retried").Inc()
}

func (s *service) TransactionFailed() {
	s.queueTransactions.WithLabelValues("failed").Inc()
}

func (s *service) ScheduledPaymentsProcessed(succeeded, failed, skipped int, seconds float64) {
	s.scheduledPayments.WithLabelValues("succeeded").Add(float64(succeeded))
	s.scheduledPayments.WithLabelValues("failed").Add(float64(failed))
	s.scheduledPayments.WithLabelValues("skipped").Add(float64(skipped))
	s.batchDuration.Observe(seconds)
}
