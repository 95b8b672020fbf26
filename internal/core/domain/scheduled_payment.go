package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyOnce, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return f, nil
	default:
		return "", InvalidInputError("unknown frequency %q", s)
	}
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentExecuted  PaymentStatus = "executed"
	PaymentError     PaymentStatus = "error"
	PaymentCancelled PaymentStatus = "cancelled"
	// PaymentPaused rows are kept out of the due list until resumed.
	PaymentPaused PaymentStatus = "paused"
)

type ScheduledPayment struct {
	Id              string
	OwnerRef        string
	EncryptedSecret EncryptedSecret
	Recipient       string
	Asset           string
	Amount          uint64
	Memo            string
	Frequency       Frequency
	ExecuteAt       time.Time
	Status          PaymentStatus
	TxHash          string
	LastError       string
	// PreviousId links a recurring occurrence to the row it was created from.
	PreviousId string
	// AnchorAt is the first execution time of the series and Occurrence the
	// index of this row in it. Due times are derived from both so month-end
	// clamping never carries over to later occurrences.
	AnchorAt   time.Time
	Occurrence uint32
	// EndAt, if set, is the last instant a recurring series may run at.
	EndAt     time.Time
	Version   uint32
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewScheduledPayment(
	owner string, secret EncryptedSecret, recipient, asset string,
	amount uint64, memo string, frequency Frequency, executeAt, now time.Time,
) ScheduledPayment {
	return ScheduledPayment{
		Id:              uuid.New().String(),
		OwnerRef:        owner,
		EncryptedSecret: secret,
		Recipient:       recipient,
		Asset:           asset,
		Amount:          amount,
		Memo:            memo,
		Frequency:       frequency,
		ExecuteAt:       executeAt.UTC(),
		AnchorAt:        executeAt.UTC(),
		Status:          PaymentPending,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
}

func (p ScheduledPayment) IsDue(now time.Time) bool {
	return p.Status == PaymentPending && !p.ExecuteAt.After(now)
}

// NextOccurrence returns the row for the following occurrence of a recurring
// payment, or nil for one-off payments and for series whose next due time
// falls after EndAt. The due time is computed from the series anchor, never
// from the time of execution.
func (p ScheduledPayment) NextOccurrence(now time.Time) (*ScheduledPayment, error) {
	if p.Frequency == FrequencyOnce {
		return nil, nil
	}
	anchor := p.AnchorAt
	if anchor.IsZero() {
		anchor = p.ExecuteAt
	}
	index := p.Occurrence + 1
	next, err := OccurrenceAt(p.Frequency, anchor, index)
	if err != nil {
		return nil, err
	}
	if !p.EndAt.IsZero() && next.After(p.EndAt) {
		return nil, nil
	}

	occurrence := NewScheduledPayment(
		p.OwnerRef, p.EncryptedSecret, p.Recipient, p.Asset, p.Amount, p.Memo,
		p.Frequency, next, now,
	)
	occurrence.PreviousId = p.Id
	occurrence.AnchorAt = anchor.UTC()
	occurrence.Occurrence = index
	occurrence.EndAt = p.EndAt
	return &occurrence, nil
}

// NextExecution applies the recurrence rule once. Monthly and yearly steps
// that land past the end of the target month are clamped to its last day.
func NextExecution(frequency Frequency, from time.Time) (time.Time, error) {
	return OccurrenceAt(frequency, from, 1)
}

// OccurrenceAt returns the due time of the n-th occurrence of a series
// starting at anchor, the anchor itself being occurrence 0.
func OccurrenceAt(frequency Frequency, anchor time.Time, n uint32) (time.Time, error) {
	switch frequency {
	case FrequencyWeekly:
		return anchor.AddDate(0, 0, 7*int(n)), nil
	case FrequencyMonthly:
		return addMonthsClamped(anchor, int(n)), nil
	case FrequencyYearly:
		return addMonthsClamped(anchor, 12*int(n)), nil
	default:
		return time.Time{}, fmt.Errorf("frequency %q has no next execution", frequency)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	hour, min, sec := t.Clock()
	return time.Date(
		firstOfTarget.Year(), firstOfTarget.Month(), day,
		hour, min, sec, t.Nanosecond(), t.Location(),
	)
}

type ScheduledPaymentRepository interface {
	Add(ctx context.Context, payment ScheduledPayment) error
	Get(ctx context.Context, id string) (*ScheduledPayment, error)
	// ListDue returns pending rows with ExecuteAt <= now.
	ListDue(ctx context.Context, now time.Time) ([]ScheduledPayment, error)
	ListByOwner(ctx context.Context, owner string) ([]ScheduledPayment, error)
	// RecordSubmission stores the hash of a transaction about to be submitted
	// for a pending row, so that a later run can look it up before paying
	// again.
	RecordSubmission(ctx context.Context, id string, version uint32, txHash string) error
	// MarkExecuted atomically marks the row executed and inserts next, if not
	// nil. It fails with ErrConcurrentUpdate if the stored version differs.
	MarkExecuted(
		ctx context.Context, id string, version uint32, txHash string,
		next *ScheduledPayment,
	) error
	MarkFailed(ctx context.Context, id string, version uint32, lastError string) error
	// Cancel applies to pending and paused rows.
	Cancel(ctx context.Context, id string, version uint32) error
	Pause(ctx context.Context, id string, version uint32) error
	Resume(ctx context.Context, id string, version uint32) error
	Close()
}
