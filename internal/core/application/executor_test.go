package application_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenwallet/custody/internal/core/application"
	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	sqlitedb "github.com/lumenwallet/custody/internal/infrastructure/db/sqlite"
	inmemorylocker "github.com/lumenwallet/custody/internal/infrastructure/row-locker/inmemory"
	envunlocker "github.com/lumenwallet/custody/internal/infrastructure/unlocker/env"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const masterPassword = "master password"

type executorFixture struct {
	executor  *application.Executor
	repo      domain.ScheduledPaymentRepository
	ledger    *fakeLedger
	custody   ports.KeyCustody
	builder   ports.TxBuilder
	secret    []byte
	publicKey string
	recipient string
}

func newExecutorFixture(
	t *testing.T, unlocker ports.Unlocker, locker ports.RowLocker,
) *executorFixture {
	db, err := sqlitedb.OpenDb(filepath.Join(t.TempDir(), "sqlite.db"))
	require.NoError(t, err)
	require.NoError(t, sqlitedb.Migrate(db))
	repo, err := sqlitedb.NewScheduledPaymentRepository(db)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	if unlocker == nil {
		unlocker, err = envunlocker.NewService(masterPassword)
		require.NoError(t, err)
	}
	if locker == nil {
		locker = inmemorylocker.NewRowLocker()
	}

	custody := newCustody(t)
	builder := newBuilder(t)
	secret, publicKey := newKey(t, builder)
	_, recipient := newKey(t, builder)
	ledger := newFakeLedger()

	executor := application.NewExecutor(
		repo, custody, ledger, builder, unlocker, locker, nil, nil, time.Minute,
	)
	return &executorFixture{
		executor, repo, ledger, custody, builder, secret, publicKey, recipient,
	}
}

func (f *executorFixture) addPayment(
	t *testing.T, asset string, frequency domain.Frequency, executeAt time.Time,
) domain.ScheduledPayment {
	return f.addPaymentWithPassword(t, masterPassword, asset, frequency, executeAt)
}

func (f *executorFixture) addPaymentWithPassword(
	t *testing.T, pwd, asset string, frequency domain.Frequency,
	executeAt time.Time,
) domain.ScheduledPayment {
	blob, err := f.custody.Encrypt(f.secret, []byte(pwd))
	require.NoError(t, err)

	payment := domain.NewScheduledPayment(
		f.publicKey, *blob, f.recipient, asset, 100, "rent", frequency,
		executeAt, executeAt.Add(-24*time.Hour),
	)
	err = f.repo.Add(context.Background(), payment)
	require.NoError(t, err)
	return payment
}

func TestExecutor(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

	t.Run("one bad item does not abort the batch", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)

		first := f.addPayment(t, domain.NativeAsset, domain.FrequencyOnce, start)
		bad := f.addPayment(t, "USD", domain.FrequencyOnce, start.Add(time.Minute))
		third := f.addPayment(t, domain.NativeAsset, domain.FrequencyOnce, start.Add(2*time.Minute))

		result, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 3, result.Processed)
		require.Equal(t, 2, result.Succeeded)
		require.Equal(t, 1, result.Failed)
		require.Zero(t, result.Skipped)
		require.Len(t, result.Items, 3)
		require.Equal(t, domain.ClassInvalidAssetFormat, result.Items[1].ErrorClass)

		for _, id := range []string{first.Id, third.Id} {
			payment, err := f.repo.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, domain.PaymentExecuted, payment.Status)
			require.NotEmpty(t, payment.TxHash)
		}

		payment, err := f.repo.Get(ctx, bad.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentError, payment.Status)
		require.NotEmpty(t, payment.LastError)
		require.Empty(t, payment.TxHash)

		require.Equal(t, 2, f.ledger.submitCalls())

		// Nothing left to do.
		result, err = f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Zero(t, result.Processed)
	})

	t.Run("recurrence does not drift", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)
		payment := f.addPayment(t, domain.NativeAsset, domain.FrequencyWeekly, start)

		result, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, result.Succeeded)
		item := result.Items[0]
		require.NotEmpty(t, item.NextPaymentId)

		executed, err := f.repo.Get(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentExecuted, executed.Status)
		require.Equal(t, item.TxHash, executed.TxHash)

		next, err := f.repo.Get(ctx, item.NextPaymentId)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentPending, next.Status)
		require.Equal(t, payment.Id, next.PreviousId)
		require.True(t, next.ExecuteAt.Equal(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)))
		require.Equal(t, payment.Recipient, next.Recipient)
		require.Equal(t, payment.Amount, next.Amount)

		result, err = f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Zero(t, result.Processed)

		result, err = f.executor.RunOnce(ctx, next.ExecuteAt)
		require.NoError(t, err)
		require.Equal(t, 1, result.Succeeded)
		require.Equal(t, 2, f.ledger.submitCalls())

		following, err := f.repo.Get(ctx, result.Items[0].NextPaymentId)
		require.NoError(t, err)
		require.True(t, following.ExecuteAt.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("series stops at its end time", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)
		blob, err := f.custody.Encrypt(f.secret, []byte(masterPassword))
		require.NoError(t, err)

		payment := domain.NewScheduledPayment(
			f.publicKey, *blob, f.recipient, domain.NativeAsset, 100, "rent",
			domain.FrequencyWeekly, start, start.Add(-time.Hour),
		)
		payment.EndAt = start.AddDate(0, 0, 10)
		require.NoError(t, f.repo.Add(ctx, payment))

		result, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, result.Succeeded)
		require.NotEmpty(t, result.Items[0].NextPaymentId)

		next, err := f.repo.Get(ctx, result.Items[0].NextPaymentId)
		require.NoError(t, err)
		require.True(t, next.EndAt.Equal(payment.EndAt))

		result, err = f.executor.RunOnce(ctx, next.ExecuteAt)
		require.NoError(t, err)
		require.Equal(t, 1, result.Succeeded)
		require.Empty(t, result.Items[0].NextPaymentId)

		list, err := f.repo.ListByOwner(ctx, f.publicKey)
		require.NoError(t, err)
		require.Len(t, list, 2)
		for _, p := range list {
			require.Equal(t, domain.PaymentExecuted, p.Status)
		}
	})

	t.Run("wrong master password", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)
		payment := f.addPaymentWithPassword(
			t, "another password", domain.NativeAsset, domain.FrequencyOnce, start,
		)

		result, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, result.Failed)
		require.Equal(t, domain.ClassAuthenticationFailed, result.Items[0].ErrorClass)

		stored, err := f.repo.Get(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentError, stored.Status)
		require.Equal(t, domain.ErrAuthenticationFailed.Error(), stored.LastError)

		entries := f.executor.AuditLog().Entries()
		require.Len(t, entries, 1)
		require.Equal(t, domain.AuditDecrypt, entries[0].Operation)
		require.False(t, entries[0].Success)
	})

	t.Run("audit trail", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)
		f.addPayment(t, domain.NativeAsset, domain.FrequencyOnce, start)

		_, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)

		entries := f.executor.AuditLog().Entries()
		require.Len(t, entries, 2)
		require.Equal(t, domain.AuditDecrypt, entries[0].Operation)
		require.Equal(t, domain.AuditSign, entries[1].Operation)
		for _, e := range entries {
			require.True(t, e.Success)
		}
	})

	t.Run("paying self is rejected", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)
		f.recipient = f.publicKey
		f.addPayment(t, domain.NativeAsset, domain.FrequencyOnce, start)

		result, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, result.Failed)
		require.Equal(t, domain.ClassInvalidInput, result.Items[0].ErrorClass)
		require.Zero(t, f.ledger.submitCalls())
	})

	t.Run("ledger failure keeps the submitted hash", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)
		payment := f.addPayment(t, domain.NativeAsset, domain.FrequencyMonthly, start)
		f.ledger.failNext(domain.LedgerTransientError(fmt.Errorf("timeout")))

		result, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, result.Failed)
		require.Equal(t, domain.ClassLedgerTransient, result.Items[0].ErrorClass)
		require.Empty(t, result.Items[0].NextPaymentId)

		stored, err := f.repo.Get(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentError, stored.Status)
		require.NotEmpty(t, stored.TxHash)

		list, err := f.repo.ListByOwner(ctx, f.publicKey)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("previous submission is not paid twice", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)
		payment := f.addPayment(t, domain.NativeAsset, domain.FrequencyOnce, start)

		err := f.repo.RecordSubmission(ctx, payment.Id, payment.Version, "aa")
		require.NoError(t, err)
		f.ledger.markApplied("aa")

		result, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, result.Succeeded)
		require.Equal(t, "aa", result.Items[0].TxHash)
		require.Zero(t, f.ledger.submitCalls())

		stored, err := f.repo.Get(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentExecuted, stored.Status)
		require.Equal(t, "aa", stored.TxHash)
	})

	t.Run("unknown previous submission leaves the row", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)
		payment := f.addPayment(t, domain.NativeAsset, domain.FrequencyOnce, start)

		err := f.repo.RecordSubmission(ctx, payment.Id, payment.Version, "aa")
		require.NoError(t, err)
		f.ledger.lookupErr = domain.LedgerTransientError(fmt.Errorf("timeout"))

		result, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, result.Failed)

		stored, err := f.repo.Get(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentPending, stored.Status)
		require.Equal(t, payment.Version+1, stored.Version)
	})

	t.Run("locked rows are skipped", func(t *testing.T) {
		locker := &mockedLocker{}
		locker.On("TryLock", mock.Anything, mock.Anything, time.Minute).
			Return(nil, false, nil)

		f := newExecutorFixture(t, nil, locker)
		payment := f.addPayment(t, domain.NativeAsset, domain.FrequencyOnce, start)

		result, err := f.executor.RunOnce(ctx, now)
		require.NoError(t, err)
		require.Zero(t, result.Processed)
		require.Equal(t, 1, result.Skipped)
		require.Equal(t, application.ItemSkipped, result.Items[0].Status)
		locker.AssertExpectations(t)

		stored, err := f.repo.Get(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentPending, stored.Status)
	})

	t.Run("unlocker failure", func(t *testing.T) {
		unlocker := &mockedUnlocker{}
		unlocker.On("GetPassword", mock.Anything).
			Return(nil, fmt.Errorf("password file not found"))

		f := newExecutorFixture(t, unlocker, nil)
		f.addPayment(t, domain.NativeAsset, domain.FrequencyOnce, start)

		result, err := f.executor.RunOnce(ctx, now)
		require.Error(t, err)
		require.Nil(t, result)
		unlocker.AssertExpectations(t)
	})

	t.Run("cancellation between items", func(t *testing.T) {
		f := newExecutorFixture(t, nil, nil)
		f.addPayment(t, domain.NativeAsset, domain.FrequencyOnce, start)

		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.executor.RunOnce(cancelCtx, now)
		require.ErrorIs(t, err, context.Canceled)
		require.Zero(t, f.ledger.submitCalls())
	})
}
