package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const walletStoreDir = "wallets"

type walletStore struct {
	store *badgerhold.Store
	lock  *sync.Mutex
}

func NewWalletStore(config ...interface{}) (domain.WalletStore, error) {
	baseDir, logger, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, walletStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet store: %s", err)
	}
	return &walletStore{store, &sync.Mutex{}}, nil
}

// AddWallet appends a new version. Versions start at 1 and must be
// contiguous, older versions are never touched.
func (s *walletStore) AddWallet(ctx context.Context, record domain.WalletRecord) error {
	if len(record.WalletId) <= 0 {
		return domain.InvalidInputError("missing wallet id")
	}
	if record.Secret.IsEmpty() {
		return domain.InvalidInputError("missing encrypted secret")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	latest, err := s.GetWallet(ctx, record.WalletId)
	if err != nil {
		return err
	}
	expectedVersion := uint32(1)
	if latest != nil {
		expectedVersion = latest.Version + 1
	}
	if record.Version != expectedVersion {
		return fmt.Errorf(
			"%w: wallet %s expected version %d, got %d",
			domain.ErrConcurrentUpdate, record.WalletId, expectedVersion, record.Version,
		)
	}

	key := fmt.Sprintf("%s/%d", record.WalletId, record.Version)
	err = withRetry(func() error {
		return s.store.Insert(key, record)
	})
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("%w: wallet %s version %d", domain.ErrConcurrentUpdate, record.WalletId, record.Version)
	}
	return domain.PersistenceError(err)
}

func (s *walletStore) GetWallet(_ context.Context, walletId string) (*domain.WalletRecord, error) {
	query := badgerhold.Where("WalletId").Eq(walletId).SortBy("Version").Reverse().Limit(1)

	records := make([]domain.WalletRecord, 0)
	if err := s.store.Find(&records, query); err != nil {
		return nil, domain.PersistenceError(err)
	}
	if len(records) <= 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *walletStore) Close() {
	//nolint:errcheck
	s.store.Close()
}
