package ports

import "github.com/lumenwallet/custody/internal/core/domain"

type PaymentParams struct {
	Destination string
	Asset       domain.Asset
	Amount      uint64
	Memo        string
}

type SignedTx struct {
	Hash  string
	Bytes []byte
}

type TxBuilder interface {
	// GenerateSecret returns a fresh random secret key.
	GenerateSecret() ([]byte, error)
	// PublicKey derives the account id controlled by secret.
	PublicKey(secret []byte) (string, error)
	// BuildPayment builds a single-operation payment spending from the account
	// of secret at sequence account.Sequence+1 and signs it.
	BuildPayment(
		secret []byte, account Account, fee uint64, params PaymentParams,
	) (*SignedTx, error)
}
