package ports

import "context"

type Balance struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type Account struct {
	PublicKey string    `json:"public_key"`
	Sequence  uint64    `json:"sequence"`
	Balances  []Balance `json:"balances"`
}

type SubmitResult struct {
	Hash     string
	LedgerId uint64
}

// LedgerClient is the adapter over the ledger network. Every error it returns
// is already classified as domain.ErrLedgerTransient or
// domain.ErrLedgerPermanent.
type LedgerClient interface {
	LoadAccount(ctx context.Context, publicKey string) (*Account, error)
	SubmitPayment(ctx context.Context, signedTx []byte) (*SubmitResult, error)
	EstimateFee(ctx context.Context) (uint64, error)
	// GetTransaction reports whether a transaction with the given hash was
	// applied by the ledger.
	GetTransaction(ctx context.Context, hash string) (bool, error)
}
