package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type QueuedTxStatus string

const (
	QueuedTxPending    QueuedTxStatus = "pending"
	QueuedTxSubmitting QueuedTxStatus = "submitting"
	QueuedTxConfirmed  QueuedTxStatus = "confirmed"
	QueuedTxFailed     QueuedTxStatus = "failed"
)

func (s QueuedTxStatus) IsValid() bool {
	switch s {
	case QueuedTxPending, QueuedTxSubmitting, QueuedTxConfirmed, QueuedTxFailed:
		return true
	default:
		return false
	}
}

var validate = validator.New()

// TransactionRequest is an outgoing payment as requested by the user. It is
// signed only when it is about to be submitted, so it can wait in the queue
// without a stale sequence number.
type TransactionRequest struct {
	Destination string `json:"destination" validate:"required,hexadecimal,len=66"`
	Asset       string `json:"asset" validate:"required"`
	Amount      uint64 `json:"amount" validate:"gt=0,lte=9223372036854775807"`
	Memo        string `json:"memo,omitempty"`
}

// ValidateStruct checks the validate tags of v and reports violations as
// ErrInvalidInput.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return InvalidInputError("%s", validationMessage(err))
	}
	return nil
}

func (r TransactionRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if _, err := ParseAsset(r.Asset); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

type QueuedTransaction struct {
	Id            string
	Seq           uint64
	Payload       TransactionRequest
	EnqueuedAt    time.Time
	Status        QueuedTxStatus
	Attempts      uint32
	NextAttemptAt time.Time
	TxHash        string
	LastError     string
	UpdatedAt     time.Time
}

func NewQueuedTransaction(req TransactionRequest, now time.Time) QueuedTransaction {
	return QueuedTransaction{
		Id:         uuid.New().String(),
		Payload:    req,
		EnqueuedAt: now,
		Status:     QueuedTxPending,
		UpdatedAt:  now,
	}
}

// ReadyAt reports whether the backoff window of the transaction has elapsed.
func (t QueuedTransaction) ReadyAt(now time.Time) bool {
	return t.NextAttemptAt.IsZero() || !now.Before(t.NextAttemptAt)
}

// StatusUpdate carries the optional fields that change together with a
// status transition. Zero values leave the stored field untouched. Attempts
// is absolute so that applying the same update twice is harmless.
type StatusUpdate struct {
	Attempts      uint32
	NextAttemptAt time.Time
	TxHash        string
	LastError     string
}

func (t *QueuedTransaction) Apply(
	status QueuedTxStatus, update *StatusUpdate, now time.Time,
) {
	t.Status = status
	t.UpdatedAt = now
	if update == nil {
		return
	}
	if update.Attempts > t.Attempts {
		t.Attempts = update.Attempts
	}
	if !update.NextAttemptAt.IsZero() {
		t.NextAttemptAt = update.NextAttemptAt
	}
	if len(update.TxHash) > 0 {
		t.TxHash = update.TxHash
	}
	if len(update.LastError) > 0 {
		t.LastError = update.LastError
	}
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msg := ""
	for i, e := range verrs {
		if i > 0 {
			msg += ", "
		}
		msg += fmt.Sprintf("%s failed on %s", e.Field(), e.Tag())
	}
	return msg
}
