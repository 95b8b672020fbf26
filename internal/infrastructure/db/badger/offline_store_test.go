package badgerdb_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lumenwallet/custody/internal/core/domain"
	badgerdb "github.com/lumenwallet/custody/internal/infrastructure/db/badger"
	"github.com/stretchr/testify/require"
)

var (
	destination = "02" + strings.Repeat("ab", 32)
	issuer      = "03" + strings.Repeat("cd", 32)
)

func newRequest(amount uint64) domain.TransactionRequest {
	return domain.TransactionRequest{
		Destination: destination,
		Asset:       "native",
		Amount:      amount,
		Memo:        "test",
	}
}

func TestOfflineStore(t *testing.T) {
	for _, dir := range []string{"", t.TempDir()} {
		name := "in_memory"
		if len(dir) > 0 {
			name = "on_disk"
		}
		t.Run(name, func(t *testing.T) {
			store, err := badgerdb.NewOfflineStore(dir, nil)
			require.NoError(t, err)
			defer store.Close()

			testSnapshots(t, store)
			testQueue(t, store)
		})
	}
}

func TestNewOfflineStore(t *testing.T) {
	store, err := badgerdb.NewOfflineStore()
	require.Error(t, err)
	require.Nil(t, store)

	store, err = badgerdb.NewOfflineStore(1, nil)
	require.Error(t, err)
	require.Nil(t, store)
}

func testSnapshots(t *testing.T, store domain.OfflineStore) {
	t.Run("snapshots", func(t *testing.T) {
		ctx := context.Background()

		value, err := store.LoadSnapshot(ctx, "balances")
		require.NoError(t, err)
		require.Nil(t, value)

		err = store.SaveSnapshot(ctx, "balances", []byte(`{"native":10}`))
		require.NoError(t, err)

		value, err = store.LoadSnapshot(ctx, "balances")
		require.NoError(t, err)
		require.Equal(t, []byte(`{"native":10}`), value)

		err = store.SaveSnapshot(ctx, "balances", []byte(`{"native":5}`))
		require.NoError(t, err)

		value, err = store.LoadSnapshot(ctx, "balances")
		require.NoError(t, err)
		require.Equal(t, []byte(`{"native":5}`), value)

		err = store.SaveSnapshot(ctx, "", []byte("x"))
		require.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func testQueue(t *testing.T, store domain.OfflineStore) {
	ctx := context.Background()

	t.Run("enqueue preserves fifo order", func(t *testing.T) {
		ids := make([]string, 0, 10)
		for i := 1; i <= 10; i++ {
			tx, err := store.Enqueue(ctx, newRequest(uint64(i)))
			require.NoError(t, err)
			require.Equal(t, domain.QueuedTxPending, tx.Status)
			require.Zero(t, tx.Attempts)
			ids = append(ids, tx.Id)
		}

		pending, err := store.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 10)
		for i, tx := range pending {
			require.Equal(t, ids[i], tx.Id)
			require.Equal(t, uint64(i+1), tx.Payload.Amount)
			if i > 0 {
				require.Greater(t, tx.Seq, pending[i-1].Seq)
			}
		}

		for _, id := range ids {
			err := store.MarkStatus(ctx, id, domain.QueuedTxConfirmed, nil)
			require.NoError(t, err)
		}
	})

	t.Run("invalid request", func(t *testing.T) {
		fixtures := []domain.TransactionRequest{
			{Destination: destination, Asset: "native"},
			{Destination: "not-a-key", Asset: "native", Amount: 1},
			{Destination: destination, Asset: "USD:" + issuer[:10], Amount: 1},
		}
		for _, f := range fixtures {
			tx, err := store.Enqueue(ctx, f)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
			require.Nil(t, tx)
		}
	})

	t.Run("mark status is idempotent", func(t *testing.T) {
		tx, err := store.Enqueue(ctx, newRequest(1))
		require.NoError(t, err)

		update := &domain.StatusUpdate{TxHash: "abcd", Attempts: 1}
		for i := 0; i < 2; i++ {
			err := store.MarkStatus(ctx, tx.Id, domain.QueuedTxConfirmed, update)
			require.NoError(t, err)
		}

		got, err := store.GetTransaction(ctx, tx.Id)
		require.NoError(t, err)
		require.Equal(t, domain.QueuedTxConfirmed, got.Status)
		require.Equal(t, "abcd", got.TxHash)
		require.Equal(t, uint32(1), got.Attempts)

		confirmed, err := store.ListByStatus(ctx, domain.QueuedTxConfirmed)
		require.NoError(t, err)
		count := 0
		for _, c := range confirmed {
			if c.Id == tx.Id {
				count++
			}
		}
		require.Equal(t, 1, count)

		pending, err := store.ListPending(ctx)
		require.NoError(t, err)
		for _, p := range pending {
			require.NotEqual(t, tx.Id, p.Id)
		}
	})

	t.Run("mark status of unknown id", func(t *testing.T) {
		err := store.MarkStatus(ctx, "unknown", domain.QueuedTxConfirmed, nil)
		require.NoError(t, err)

		err = store.MarkStatus(ctx, "unknown", "done", nil)
		require.ErrorIs(t, err, domain.ErrInvalidInput)

		tx, err := store.GetTransaction(ctx, "unknown")
		require.ErrorIs(t, err, domain.ErrNotFound)
		require.Nil(t, tx)
	})

	t.Run("retry bookkeeping", func(t *testing.T) {
		tx, err := store.Enqueue(ctx, newRequest(7))
		require.NoError(t, err)

		nextAttempt := time.Now().Add(2 * time.Second).UTC()
		err = store.MarkStatus(ctx, tx.Id, domain.QueuedTxPending, &domain.StatusUpdate{
			Attempts:      1,
			NextAttemptAt: nextAttempt,
			LastError:     domain.ClassLedgerTransient,
		})
		require.NoError(t, err)

		got, err := store.GetTransaction(ctx, tx.Id)
		require.NoError(t, err)
		require.Equal(t, domain.QueuedTxPending, got.Status)
		require.Equal(t, uint32(1), got.Attempts)
		require.True(t, nextAttempt.Equal(got.NextAttemptAt))
		require.False(t, got.ReadyAt(time.Now()))
		require.True(t, got.ReadyAt(nextAttempt))

		err = store.MarkStatus(ctx, tx.Id, domain.QueuedTxFailed, nil)
		require.NoError(t, err)

		failed, err := store.ListByStatus(ctx, domain.QueuedTxFailed)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		require.Equal(t, tx.Id, failed[0].Id)
	})

	t.Run("prune confirmed", func(t *testing.T) {
		pruned, err := store.PruneConfirmed(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Zero(t, pruned)

		pruned, err = store.PruneConfirmed(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, 11, pruned)

		confirmed, err := store.ListByStatus(ctx, domain.QueuedTxConfirmed)
		require.NoError(t, err)
		require.Empty(t, confirmed)

		failed, err := store.ListByStatus(ctx, domain.QueuedTxFailed)
		require.NoError(t, err)
		require.Len(t, failed, 1)
	})

	t.Run("remove", func(t *testing.T) {
		failed, err := store.ListByStatus(ctx, domain.QueuedTxFailed)
		require.NoError(t, err)
		require.Len(t, failed, 1)

		err = store.Remove(ctx, failed[0].Id)
		require.NoError(t, err)
		// Removing twice is harmless.
		err = store.Remove(ctx, failed[0].Id)
		require.NoError(t, err)

		_, err = store.GetTransaction(ctx, failed[0].Id)
		require.ErrorIs(t, err, domain.ErrNotFound)
		failed, err = store.ListByStatus(ctx, domain.QueuedTxFailed)
		require.NoError(t, err)
		require.Empty(t, failed)
	})
}
