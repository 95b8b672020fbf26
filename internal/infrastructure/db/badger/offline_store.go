package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const (
	offlineStoreDir = "offline"
	queueSeqKey     = "queue_seq"
)

type snapshot struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

type offlineStore struct {
	store *badgerhold.Store
	seq   *badger.Sequence
	// lock serializes read-modify-write cycles on queue rows.
	lock *sync.Mutex
}

// NewOfflineStore expects the base directory and a badger.Logger (or nil). An
// empty directory opens an in-memory store.
func NewOfflineStore(config ...interface{}) (domain.OfflineStore, error) {
	baseDir, logger, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, offlineStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline store: %s", err)
	}

	seq, err := store.Badger().GetSequence([]byte(queueSeqKey), 100)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open queue sequence: %s", err)
	}

	return &offlineStore{store, seq, &sync.Mutex{}}, nil
}

func (s *offlineStore) SaveSnapshot(
	_ context.Context, key string, value []byte,
) error {
	if len(key) <= 0 {
		return domain.InvalidInputError("missing snapshot key")
	}
	data := snapshot{
		Key:       key,
		Value:     append([]byte{}, value...),
		UpdatedAt: time.Now(),
	}
	err := withRetry(func() error {
		return s.store.Upsert(key, data)
	})
	return domain.PersistenceError(err)
}

func (s *offlineStore) LoadSnapshot(_ context.Context, key string) ([]byte, error) {
	var data snapshot
	if err := s.store.Get(key, &data); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, domain.PersistenceError(err)
	}
	return data.Value, nil
}

func (s *offlineStore) Enqueue(
	_ context.Context, req domain.TransactionRequest,
) (*domain.QueuedTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	seq, err := s.seq.Next()
	if err != nil {
		return nil, domain.PersistenceError(err)
	}

	tx := domain.NewQueuedTransaction(req, time.Now())
	tx.Seq = seq

	if err := withRetry(func() error {
		return s.store.Insert(tx.Id, tx)
	}); err != nil {
		return nil, domain.PersistenceError(err)
	}
	return &tx, nil
}

func (s *offlineStore) ListPending(ctx context.Context) ([]domain.QueuedTransaction, error) {
	return s.ListByStatus(ctx, domain.QueuedTxPending)
}

func (s *offlineStore) ListByStatus(
	_ context.Context, status domain.QueuedTxStatus,
) ([]domain.QueuedTransaction, error) {
	query := badgerhold.Where("Status").Eq(status).SortBy("Seq")
	return s.find(query)
}

func (s *offlineStore) GetTransaction(
	_ context.Context, id string,
) (*domain.QueuedTransaction, error) {
	tx, err := s.get(id)
	if err != nil {
		return nil, domain.PersistenceError(err)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	return tx, nil
}

func (s *offlineStore) MarkStatus(
	_ context.Context, id string, status domain.QueuedTxStatus,
	update *domain.StatusUpdate,
) error {
	if !status.IsValid() {
		return domain.InvalidInputError("unknown status %q", status)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	tx, err := s.get(id)
	if err != nil {
		return domain.PersistenceError(err)
	}
	if tx == nil {
		return nil
	}

	tx.Apply(status, update, time.Now())

	err = withRetry(func() error {
		return s.store.Update(id, *tx)
	})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return domain.PersistenceError(err)
}

func (s *offlineStore) Remove(_ context.Context, id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	err := withRetry(func() error {
		return s.store.Delete(id, domain.QueuedTransaction{})
	})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return domain.PersistenceError(err)
}

func (s *offlineStore) PruneConfirmed(_ context.Context, before time.Time) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	confirmed, err := s.find(badgerhold.Where("Status").Eq(domain.QueuedTxConfirmed))
	if err != nil {
		return 0, err
	}
	txs := make([]domain.QueuedTransaction, 0, len(confirmed))
	for _, tx := range confirmed {
		if tx.UpdatedAt.Before(before) {
			txs = append(txs, tx)
		}
	}
	if len(txs) <= 0 {
		return 0, nil
	}

	err = withRetry(func() error {
		return s.store.Badger().Update(func(txn *badger.Txn) error {
			for _, tx := range txs {
				if err := s.store.TxDelete(txn, tx.Id, domain.QueuedTransaction{}); err != nil {
					if errors.Is(err, badgerhold.ErrNotFound) {
						continue
					}
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, domain.PersistenceError(err)
	}
	return len(txs), nil
}

func (s *offlineStore) Close() {
	//nolint:errcheck
	s.seq.Release()
	//nolint:errcheck
	s.store.Close()
}

func (s *offlineStore) get(id string) (*domain.QueuedTransaction, error) {
	var tx domain.QueuedTransaction
	if err := s.store.Get(id, &tx); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

func (s *offlineStore) find(query *badgerhold.Query) ([]domain.QueuedTransaction, error) {
	txs := make([]domain.QueuedTransaction, 0)
	if err := s.store.Find(&txs, query); err != nil {
		return nil, domain.PersistenceError(err)
	}
	return txs, nil
}
