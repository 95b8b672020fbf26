package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lumenwallet/custody/internal/core/domain"
)

const (
	paymentColumns = `
    id, owner_ref, encrypted_secret, recipient, asset, amount, memo,
    frequency, execute_at, status, tx_hash, last_error, previous_id,
    anchor_at, occurrence, end_at, version, created_at, updated_at`

	insertPayment = `
INSERT INTO scheduled_payment (` + paymentColumns + `
) VALUES (
    ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)`

	selectPaymentById = `
SELECT ` + paymentColumns + `
FROM scheduled_payment WHERE id = ?`

	selectDuePayments = `
SELECT ` + paymentColumns + `
FROM scheduled_payment
WHERE status = 'pending' AND execute_at <= ?
ORDER BY execute_at, created_at`

	selectPaymentsByOwner = `
SELECT ` + paymentColumns + `
FROM scheduled_payment
WHERE owner_ref = ?
ORDER BY execute_at, created_at`

	updatePaymentTxHash = `
UPDATE scheduled_payment
SET tx_hash = ?, version = version + 1, updated_at = ?
WHERE id = ? AND version = ? AND status = 'pending'`

	updatePaymentStatus = `
UPDATE scheduled_payment
SET status = ?, tx_hash = COALESCE(NULLIF(?, ''), tx_hash), last_error = ?, version = version + 1, updated_at = ?
WHERE id = ? AND version = ? AND status = 'pending'`

	transitionPaymentStatus = `
UPDATE scheduled_payment
SET status = ?, version = version + 1, updated_at = ?
WHERE id = ? AND version = ? AND status IN (?, ?)`
)

type scheduledPaymentRepository struct {
	db *sql.DB
}

// NewScheduledPaymentRepository expects an open and migrated *sql.DB.
func NewScheduledPaymentRepository(config ...interface{}) (domain.ScheduledPaymentRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open scheduled payment repository: invalid config, expected db at 0")
	}

	return &scheduledPaymentRepository{db}, nil
}

func (r *scheduledPaymentRepository) Add(
	ctx context.Context, payment domain.ScheduledPayment,
) error {
	if err := insertScheduledPayment(ctx, r.db, payment); err != nil {
		return domain.PersistenceError(fmt.Errorf("failed to insert scheduled payment: %w", err))
	}
	return nil
}

func (r *scheduledPaymentRepository) Get(
	ctx context.Context, id string,
) (*domain.ScheduledPayment, error) {
	row := r.db.QueryRowContext(ctx, selectPaymentById, id)
	payment, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: scheduled payment %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, domain.PersistenceError(fmt.Errorf("failed to get scheduled payment: %w", err))
	}
	return payment, nil
}

func (r *scheduledPaymentRepository) ListDue(
	ctx context.Context, now time.Time,
) ([]domain.ScheduledPayment, error) {
	return r.list(ctx, selectDuePayments, now.Unix())
}

func (r *scheduledPaymentRepository) ListByOwner(
	ctx context.Context, owner string,
) ([]domain.ScheduledPayment, error) {
	return r.list(ctx, selectPaymentsByOwner, owner)
}

func (r *scheduledPaymentRepository) RecordSubmission(
	ctx context.Context, id string, version uint32, txHash string,
) error {
	return r.execTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx, updatePaymentTxHash, txHash, time.Now().Unix(), id, int64(version),
		)
		if err != nil {
			return fmt.Errorf("failed to update scheduled payment: %w", err)
		}
		return checkAffected(res, id, version)
	})
}

func (r *scheduledPaymentRepository) MarkExecuted(
	ctx context.Context, id string, version uint32, txHash string,
	next *domain.ScheduledPayment,
) error {
	return r.execTx(ctx, func(tx *sql.Tx) error {
		if err := updateStatus(
			ctx, tx, id, version, domain.PaymentExecuted, txHash, "",
		); err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		return insertScheduledPayment(ctx, tx, *next)
	})
}

func (r *scheduledPaymentRepository) MarkFailed(
	ctx context.Context, id string, version uint32, lastError string,
) error {
	return r.execTx(ctx, func(tx *sql.Tx) error {
		return updateStatus(ctx, tx, id, version, domain.PaymentError, "", lastError)
	})
}

func (r *scheduledPaymentRepository) Cancel(
	ctx context.Context, id string, version uint32,
) error {
	return r.transition(
		ctx, id, version, domain.PaymentCancelled,
		domain.PaymentPending, domain.PaymentPaused,
	)
}

func (r *scheduledPaymentRepository) Pause(
	ctx context.Context, id string, version uint32,
) error {
	return r.transition(
		ctx, id, version, domain.PaymentPaused,
		domain.PaymentPending, domain.PaymentPending,
	)
}

func (r *scheduledPaymentRepository) Resume(
	ctx context.Context, id string, version uint32,
) error {
	return r.transition(
		ctx, id, version, domain.PaymentPending,
		domain.PaymentPaused, domain.PaymentPaused,
	)
}

func (r *scheduledPaymentRepository) transition(
	ctx context.Context, id string, version uint32,
	to, from, orFrom domain.PaymentStatus,
) error {
	return r.execTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx, transitionPaymentStatus, string(to), time.Now().Unix(), id,
			int64(version), string(from), string(orFrom),
		)
		if err != nil {
			return fmt.Errorf("failed to update scheduled payment: %w", err)
		}
		return checkAffected(res, id, version)
	})
}

func (r *scheduledPaymentRepository) Close() {
	_ = r.db.Close()
}

func (r *scheduledPaymentRepository) execTx(
	ctx context.Context, txBody func(*sql.Tx) error,
) error {
	err := execTx(ctx, r.db, txBody)
	if err == nil || errors.Is(err, domain.ErrConcurrentUpdate) {
		return err
	}
	return domain.PersistenceError(err)
}

func (r *scheduledPaymentRepository) list(
	ctx context.Context, query string, args ...interface{},
) ([]domain.ScheduledPayment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.PersistenceError(fmt.Errorf("failed to list scheduled payments: %w", err))
	}
	defer rows.Close()

	payments := make([]domain.ScheduledPayment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, domain.PersistenceError(fmt.Errorf("failed to read scheduled payment: %w", err))
		}
		payments = append(payments, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError(err)
	}
	return payments, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func insertScheduledPayment(
	ctx context.Context, db execer, payment domain.ScheduledPayment,
) error {
	secret, err := json.Marshal(payment.EncryptedSecret)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(
		ctx, insertPayment,
		payment.Id,
		payment.OwnerRef,
		string(secret),
		payment.Recipient,
		payment.Asset,
		int64(payment.Amount),
		payment.Memo,
		string(payment.Frequency),
		payment.ExecuteAt.Unix(),
		string(payment.Status),
		payment.TxHash,
		payment.LastError,
		payment.PreviousId,
		unixOrZero(payment.AnchorAt),
		int64(payment.Occurrence),
		unixOrZero(payment.EndAt),
		int64(payment.Version),
		payment.CreatedAt.Unix(),
		payment.UpdatedAt.Unix(),
	)
	return err
}

func updateStatus(
	ctx context.Context, tx *sql.Tx, id string, version uint32,
	status domain.PaymentStatus, txHash, lastError string,
) error {
	res, err := tx.ExecContext(
		ctx, updatePaymentStatus,
		string(status), txHash, lastError, time.Now().Unix(), id, int64(version),
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled payment: %w", err)
	}
	return checkAffected(res, id, version)
}

func checkAffected(res sql.Result, id string, version uint32) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected <= 0 {
		return fmt.Errorf(
			"%w: scheduled payment %s at version %d", domain.ErrConcurrentUpdate, id, version,
		)
	}
	return nil
}

func scanPayment(row scanner) (*domain.ScheduledPayment, error) {
	var (
		payment                                      domain.ScheduledPayment
		secret, frequency, status                    string
		amount, executeAt, version, created, updated int64
		anchorAt, occurrence, endAt                  int64
	)
	if err := row.Scan(
		&payment.Id,
		&payment.OwnerRef,
		&secret,
		&payment.Recipient,
		&payment.Asset,
		&amount,
		&payment.Memo,
		&frequency,
		&executeAt,
		&status,
		&payment.TxHash,
		&payment.LastError,
		&payment.PreviousId,
		&anchorAt,
		&occurrence,
		&endAt,
		&version,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(secret), &payment.EncryptedSecret); err != nil {
		return nil, fmt.Errorf("invalid encrypted secret: %w", err)
	}

	payment.Amount = uint64(amount)
	payment.Frequency = domain.Frequency(frequency)
	payment.ExecuteAt = time.Unix(executeAt, 0).UTC()
	payment.Status = domain.PaymentStatus(status)
	payment.AnchorAt = timeOrZero(anchorAt)
	payment.Occurrence = uint32(occurrence)
	payment.EndAt = timeOrZero(endAt)
	payment.Version = uint32(version)
	payment.CreatedAt = time.Unix(created, 0).UTC()
	payment.UpdatedAt = time.Unix(updated, 0).UTC()
	return &payment, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix <= 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}
