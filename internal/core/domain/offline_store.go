package domain

import (
	"context"
	"time"
)

// OfflineStore is the durable local store for cached read models and the
// single FIFO queue of outgoing transactions. Queue rows are only ever
// changed through Enqueue and MarkStatus, and dropped through Remove and
// PruneConfirmed.
type OfflineStore interface {
	SaveSnapshot(ctx context.Context, key string, value []byte) error
	// LoadSnapshot returns nil if nothing is stored under key.
	LoadSnapshot(ctx context.Context, key string) ([]byte, error)

	Enqueue(ctx context.Context, tx TransactionRequest) (*QueuedTransaction, error)
	// ListPending returns the pending rows ordered by enqueue time, oldest
	// first.
	ListPending(ctx context.Context) ([]QueuedTransaction, error)
	ListByStatus(ctx context.Context, status QueuedTxStatus) ([]QueuedTransaction, error)
	GetTransaction(ctx context.Context, id string) (*QueuedTransaction, error)
	// MarkStatus is a no-op for unknown ids and safe to repeat.
	MarkStatus(
		ctx context.Context, id string, status QueuedTxStatus, update *StatusUpdate,
	) error
	// Remove deletes a row. It is a no-op for unknown ids.
	Remove(ctx context.Context, id string) error
	PruneConfirmed(ctx context.Context, before time.Time) (int, error)
	Close()
}

// WalletRecord is one version of the encrypted secret of a wallet. Password
// rotation appends a new version.
type WalletRecord struct {
	WalletId  string
	Version   uint32
	PublicKey string
	Secret    EncryptedSecret
	CreatedAt time.Time
}

type WalletStore interface {
	AddWallet(ctx context.Context, record WalletRecord) error
	// GetWallet returns the latest version, or nil if the wallet is unknown.
	GetWallet(ctx context.Context, walletId string) (*WalletRecord, error)
	Close()
}
