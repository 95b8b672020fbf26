package application

import (
	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
)

type SubmitStatus string

const (
	// SubmitSent means the ledger accepted the transaction.
	SubmitSent SubmitStatus = "sent"
	// SubmitQueued means the transaction waits in the offline queue.
	SubmitQueued SubmitStatus = "queued"
	// SubmitRejected means the ledger refused the transaction for good.
	SubmitRejected SubmitStatus = "rejected"
)

type SubmitOutcome struct {
	Status      SubmitStatus
	Transaction domain.QueuedTransaction
}

type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	// ItemSkipped marks rows another executor is working on, or that changed
	// since they were listed.
	ItemSkipped ItemStatus = "skipped"
)

type ItemResult struct {
	PaymentId     string
	Status        ItemStatus
	TxHash        string
	NextPaymentId string
	ErrorClass    string
	Error         string
}

// BatchResult summarizes a run of the executor. Processed counts the rows
// that were attempted, skipped rows are reported separately.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Items     []ItemResult
}

func (r *BatchResult) add(item ItemResult) {
	r.Items = append(r.Items, item)
	switch item.Status {
	case ItemSucceeded:
		r.Processed++
		r.Succeeded++
	case ItemFailed:
		r.Processed++
		r.Failed++
	default:
		r.Skipped++
	}
}

// AccountSnapshot is the cached read model of an account, served when the
// ledger cannot be reached.
type AccountSnapshot struct {
	PublicKey string          `json:"public_key"`
	Sequence  uint64          `json:"sequence"`
	Balances  []ports.Balance `json:"balances"`
	UpdatedAt int64           `json:"updated_at"`
	Stale     bool            `json:"-"`
}
