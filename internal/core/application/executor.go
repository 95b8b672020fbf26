package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const DefaultRowLockTTL = 2 * time.Minute

// Executor runs the due scheduled payments. It is stateless between runs:
// every secret it decrypts lives only for the duration of its item.
type Executor struct {
	repo     domain.ScheduledPaymentRepository
	custody  ports.KeyCustody
	ledger   ports.LedgerClient
	builder  ports.TxBuilder
	unlocker ports.Unlocker
	locker   ports.RowLocker
	audit    *domain.AuditLog
	metrics  ports.Metrics
	lockTTL  time.Duration
}

func NewExecutor(
	repo domain.ScheduledPaymentRepository, custody ports.KeyCustody,
	ledger ports.LedgerClient, builder ports.TxBuilder, unlocker ports.Unlocker,
	locker ports.RowLocker, audit *domain.AuditLog, metrics ports.Metrics,
	lockTTL time.Duration,
) *Executor {
	if audit == nil {
		audit = domain.NewAuditLog(domain.DefaultAuditLogSize)
	}
	if metrics == nil {
		metrics = ports.NewNoopMetrics()
	}
	if lockTTL <= 0 {
		lockTTL = DefaultRowLockTTL
	}
	return &Executor{
		repo, custody, ledger, builder, unlocker, locker, audit, metrics, lockTTL,
	}
}

func (e *Executor) AuditLog() *domain.AuditLog {
	return e.audit
}

// RunOnce executes every pending payment due at now. Items are independent:
// a failing item is recorded and the batch goes on. Cancellation is checked
// between items only.
func (e *Executor) RunOnce(ctx context.Context, now time.Time) (*BatchResult, error) {
	start := time.Now()

	password, err := e.unlocker.GetPassword(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get master password: %w", err)
	}
	defer domain.Wipe(password)

	due, err := e.repo.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Items: make([]ItemResult, 0, len(due))}
	defer func() {
		e.metrics.ScheduledPaymentsProcessed(
			result.Succeeded, result.Failed, result.Skipped,
			time.Since(start).Seconds(),
		)
	}()

	for _, payment := range due {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Infof(
				"run interrupted, %d of %d payments left", len(due)-len(result.Items), len(due),
			)
			return result, err
		}
		result.add(e.execute(ctx, payment, password, now))
	}

	log.Infof(
		"scheduled payments run: processed %d, succeeded %d, failed %d, skipped %d",
		result.Processed, result.Succeeded, result.Failed, result.Skipped,
	)
	return result, nil
}

func (e *Executor) execute(
	ctx context.Context, payment domain.ScheduledPayment, password []byte,
	now time.Time,
) ItemResult {
	item := ItemResult{PaymentId: payment.Id, Status: ItemSkipped}

	release, ok, err := e.locker.TryLock(ctx, lockKey(payment.Id), e.lockTTL)
	if err != nil {
		log.WithError(err).Warnf("failed to lock scheduled payment %s", payment.Id)
		return item
	}
	if !ok {
		log.Debugf("scheduled payment %s is locked, skipping", payment.Id)
		return item
	}
	defer release()

	// The row may have been handled between listing and locking.
	current, err := e.repo.Get(ctx, payment.Id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return item
		}
		return failedItem(item, err)
	}
	if !current.IsDue(now) {
		return item
	}
	payment = *current

	if len(payment.TxHash) > 0 {
		found, err := e.ledger.GetTransaction(ctx, payment.TxHash)
		if err != nil {
			// Unknown whether the previous submission landed, leave the row
			// for the next run.
			log.WithError(err).Warnf(
				"failed to look up previous submission of scheduled payment %s",
				payment.Id,
			)
			return failedItem(item, err)
		}
		if found {
			return e.complete(ctx, item, payment, payment.TxHash, now)
		}
	}

	hash, err := e.pay(ctx, &payment, password)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			return item
		}
		return e.fail(ctx, item, payment, err)
	}

	return e.complete(context.WithoutCancel(ctx), item, payment, hash, now)
}

// pay decrypts the secret of the payment, signs the transaction and submits
// it. The hash is recorded on the row before submitting.
func (e *Executor) pay(
	ctx context.Context, payment *domain.ScheduledPayment, password []byte,
) (string, error) {
	asset, err := domain.ParseAsset(payment.Asset)
	if err != nil {
		return "", err
	}

	secret, err := e.custody.Decrypt(payment.EncryptedSecret, password)
	e.audit.Append(domain.AuditDecrypt, err)
	if err != nil {
		return "", err
	}
	defer secret.Wipe()

	publicKey, err := e.builder.PublicKey(secret)
	if err != nil {
		return "", err
	}
	if publicKey == payment.Recipient {
		return "", domain.InvalidInputError("recipient is the paying account")
	}

	account, err := e.ledger.LoadAccount(ctx, publicKey)
	if err != nil {
		return "", err
	}
	fee, err := e.ledger.EstimateFee(ctx)
	if err != nil {
		return "", err
	}

	signed, err := e.builder.BuildPayment(secret, *account, fee, ports.PaymentParams{
		Destination: payment.Recipient,
		Asset:       asset,
		Amount:      payment.Amount,
		Memo:        payment.Memo,
	})
	e.audit.Append(domain.AuditSign, err)
	if err != nil {
		return "", err
	}
	secret.Wipe()

	if err := e.repo.RecordSubmission(
		ctx, payment.Id, payment.Version, signed.Hash,
	); err != nil {
		return "", err
	}
	payment.Version++
	payment.TxHash = signed.Hash

	res, err := e.ledger.SubmitPayment(context.WithoutCancel(ctx), signed.Bytes)
	if err != nil {
		return "", err
	}
	if len(res.Hash) > 0 {
		return res.Hash, nil
	}
	return signed.Hash, nil
}

func (e *Executor) complete(
	ctx context.Context, item ItemResult, payment domain.ScheduledPayment,
	hash string, now time.Time,
) ItemResult {
	item.TxHash = hash

	next, err := payment.NextOccurrence(now)
	if err != nil {
		return failedItem(item, err)
	}
	if err := e.repo.MarkExecuted(ctx, payment.Id, payment.Version, hash, next); err != nil {
		log.WithError(err).Errorf(
			"scheduled payment %s was paid with tx %s but could not be marked executed",
			payment.Id, hash,
		)
		return failedItem(item, err)
	}
	if next != nil {
		item.NextPaymentId = next.Id
		log.Debugf(
			"scheduled payment %s executed, next occurrence %s at %s",
			payment.Id, next.Id, next.ExecuteAt,
		)
	}

	item.Status = ItemSucceeded
	return item
}

func (e *Executor) fail(
	ctx context.Context, item ItemResult, payment domain.ScheduledPayment,
	cause error,
) ItemResult {
	log.WithError(cause).Warnf("scheduled payment %s failed", payment.Id)

	ctx = context.WithoutCancel(ctx)
	if err := e.repo.MarkFailed(
		ctx, payment.Id, payment.Version, lastError(cause),
	); err != nil {
		log.WithError(err).Errorf("failed to mark scheduled payment %s as failed", payment.Id)
	}
	return failedItem(item, cause)
}

func failedItem(item ItemResult, err error) ItemResult {
	item.Status = ItemFailed
	item.ErrorClass = domain.ErrorClass(err)
	item.Error = lastError(err)
	return item
}

func lockKey(id string) string {
	return "scheduled_payment:" + id
}
