package ports

type Metrics interface {
	TransactionQueued()
	TransactionConfirmed()
	TransactionRetried()
	TransactionFailed()
	ScheduledPaymentsProcessed(succeeded, failed, skipped int, seconds float64)
}

type noopMetrics struct{}

func NewNoopMetrics() Metrics {
	return noopMetrics{}
}

func (noopMetrics) TransactionQueued()    {}
func (noopMetrics) TransactionConfirmed() {}
func (noopMetrics) TransactionRetried()   {}
func (noopMetrics) TransactionFailed()    {}

func (noopMetrics) ScheduledPaymentsProcessed(int, int, int, float64) {}
