package txbuilder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/fxamacker/cbor/v2"
	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
)

const secretLen = 32

// PaymentTx is the body of a single-operation payment. Its deterministic CBOR
// encoding is what gets hashed and signed.
type PaymentTx struct {
	Network     string       `cbor:"1,keyasint"`
	Source      string       `cbor:"2,keyasint"`
	Sequence    uint64       `cbor:"3,keyasint"`
	Fee         uint64       `cbor:"4,keyasint"`
	Destination string       `cbor:"5,keyasint"`
	Asset       domain.Asset `cbor:"6,keyasint"`
	Amount      uint64       `cbor:"7,keyasint"`
	Memo        string       `cbor:"8,keyasint,omitempty"`
}

type Envelope struct {
	Tx        PaymentTx `cbor:"1,keyasint"`
	Signature []byte    `cbor:"2,keyasint"`
}

type txBuilder struct {
	network string
	encMode cbor.EncMode
}

func NewTxBuilder(network string) (ports.TxBuilder, error) {
	if len(network) <= 0 {
		return nil, fmt.Errorf("missing network passphrase")
	}
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return &txBuilder{network, encMode}, nil
}

func (b *txBuilder) GenerateSecret() ([]byte, error) {
	privkey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}
	defer privkey.Zero()

	return privkey.Serialize(), nil
}

func (b *txBuilder) PublicKey(secret []byte) (string, error) {
	if len(secret) != secretLen {
		return "", domain.InvalidInputError("secret key must be %d bytes", secretLen)
	}
	privkey, pubkey := btcec.PrivKeyFromBytes(secret)
	defer privkey.Zero()

	return hex.EncodeToString(pubkey.SerializeCompressed()), nil
}

func (b *txBuilder) BuildPayment(
	secret []byte, account ports.Account, fee uint64, params ports.PaymentParams,
) (*ports.SignedTx, error) {
	if len(secret) != secretLen {
		return nil, domain.InvalidInputError("secret key must be %d bytes", secretLen)
	}
	if params.Amount <= 0 {
		return nil, domain.InvalidInputError("amount must be greater than zero")
	}
	if len(params.Destination) <= 0 {
		return nil, domain.InvalidInputError("missing destination")
	}

	privkey, pubkey := btcec.PrivKeyFromBytes(secret)
	defer privkey.Zero()

	source := hex.EncodeToString(pubkey.SerializeCompressed())
	if len(account.PublicKey) > 0 && account.PublicKey != source {
		return nil, domain.InvalidInputError("account does not match secret key")
	}

	tx := PaymentTx{
		Network:     b.network,
		Source:      source,
		Sequence:    account.Sequence + 1,
		Fee:         fee,
		Destination: params.Destination,
		Asset:       params.Asset,
		Amount:      params.Amount,
		Memo:        domain.TruncateMemo(params.Memo),
	}

	hash, err := b.hash(tx)
	if err != nil {
		return nil, err
	}

	sig, err := schnorr.Sign(privkey, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payment: %w", err)
	}

	buf, err := b.encMode.Marshal(Envelope{tx, sig.Serialize()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	return &ports.SignedTx{
		Hash:  hex.EncodeToString(hash),
		Bytes: buf,
	}, nil
}

func (b *txBuilder) hash(tx PaymentTx) ([]byte, error) {
	buf, err := b.encMode.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment: %w", err)
	}
	hash := sha256.Sum256(buf)
	return hash[:], nil
}

// DecodeEnvelope parses a signed envelope, checks the signature against the
// source account and returns the transaction hash.
func DecodeEnvelope(buf []byte) (*Envelope, string, error) {
	var envelope Envelope
	if err := cbor.Unmarshal(buf, &envelope); err != nil {
		return nil, "", fmt.Errorf("invalid envelope: %w", err)
	}

	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, "", err
	}
	body, err := encMode.Marshal(envelope.Tx)
	if err != nil {
		return nil, "", err
	}
	hash := sha256.Sum256(body)

	pubkeyBytes, err := hex.DecodeString(envelope.Tx.Source)
	if err != nil {
		return nil, "", fmt.Errorf("invalid source: %w", err)
	}
	pubkey, err := btcec.ParsePubKey(pubkeyBytes)
	if err != nil {
		return nil, "", fmt.Errorf("invalid source: %w", err)
	}
	sig, err := schnorr.ParseSignature(envelope.Signature)
	if err != nil {
		return nil, "", fmt.Errorf("invalid signature: %w", err)
	}
	if !sig.Verify(hash[:], pubkey) {
		return nil, "", fmt.Errorf("signature does not match source")
	}

	return &envelope, hex.EncodeToString(hash[:]), nil
}
