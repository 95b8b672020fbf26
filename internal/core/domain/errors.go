package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrAuthenticationFailed = errors.New("incorrect password")
	ErrPersistence          = errors.New("persistence failure")
	ErrLedgerTransient      = errors.New("ledger temporarily unavailable")
	ErrLedgerPermanent      = errors.New("ledger rejected transaction")
	ErrExpiredSession       = errors.New("session expired, unlock the wallet again")
	ErrInvalidAssetFormat   = errors.New("invalid asset format")
	ErrConcurrentUpdate     = errors.New("row modified concurrently")
	ErrDrainInProgress      = errors.New("drain already in progress")
	ErrNotFound             = errors.New("not found")
)

// Error classes recorded in audit entries and batch details. They never carry
// the underlying message.
const (
	ClassInvalidInput         = "invalid_input"
	ClassAuthenticationFailed = "authentication_failed"
	ClassPersistence          = "persistence"
	ClassLedgerTransient      = "ledger_transient"
	ClassLedgerPermanent      = "ledger_permanent"
	ClassExpiredSession       = "expired_session"
	ClassInvalidAssetFormat   = "invalid_asset_format"
	ClassConcurrentUpdate     = "concurrent_update"
	ClassUnknown              = "unknown"
)

func InvalidInputError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func PersistenceError(err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func LedgerTransientError(err error) error {
	if err == nil || errors.Is(err, ErrLedgerTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrLedgerTransient, err)
}

func LedgerPermanentError(err error) error {
	if err == nil || errors.Is(err, ErrLedgerPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrLedgerPermanent, err)
}

// IsRetryable reports whether the operation that produced err may succeed if
// attempted again later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrLedgerTransient)
}

func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthenticationFailed):
		return ClassAuthenticationFailed
	case errors.Is(err, ErrExpiredSession):
		return ClassExpiredSession
	case errors.Is(err, ErrInvalidAssetFormat):
		return ClassInvalidAssetFormat
	case errors.Is(err, ErrInvalidInput):
		return ClassInvalidInput
	case errors.Is(err, ErrPersistence):
		return ClassPersistence
	case errors.Is(err, ErrLedgerTransient):
		return ClassLedgerTransient
	case errors.Is(err, ErrLedgerPermanent):
		return ClassLedgerPermanent
	case errors.Is(err, ErrConcurrentUpdate):
		return ClassConcurrentUpdate
	default:
		return ClassUnknown
	}
}
