package application

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// Wallet manages the persisted encrypted secret of a single wallet and
// unlocks it into the session cache.
type Wallet struct {
	id      string
	store   domain.WalletStore
	custody ports.KeyCustody
	builder ports.TxBuilder
	session *SessionKeyCache
	now     func() time.Time
}

func NewWallet(
	id string, store domain.WalletStore, custody ports.KeyCustody,
	builder ports.TxBuilder, session *SessionKeyCache,
) *Wallet {
	return &Wallet{id, store, custody, builder, session, time.Now}
}

// Create stores the first version of the wallet secret. If secret is nil a
// new one is generated. It returns the account id of the wallet.
func (w *Wallet) Create(ctx context.Context, password, secret []byte) (string, error) {
	if len(password) <= 0 {
		return "", domain.InvalidInputError("missing password")
	}
	existing, err := w.store.GetWallet(ctx, w.id)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", domain.InvalidInputError("wallet %s already exists", w.id)
	}

	if secret == nil {
		secret, err = w.builder.GenerateSecret()
		if err != nil {
			return "", err
		}
		defer domain.Wipe(secret)
	}

	publicKey, err := w.builder.PublicKey(secret)
	if err != nil {
		return "", err
	}
	blob, err := w.custody.Encrypt(secret, password)
	if err != nil {
		return "", err
	}

	if err := w.store.AddWallet(ctx, domain.WalletRecord{
		WalletId:  w.id,
		Version:   1,
		PublicKey: publicKey,
		Secret:    *blob,
		CreatedAt: w.now().UTC(),
	}); err != nil {
		return "", err
	}

	log.Infof("wallet %s created", w.id)
	return publicKey, nil
}

func (w *Wallet) Unlock(ctx context.Context, password []byte) error {
	record, err := w.record(ctx)
	if err != nil {
		return err
	}
	return w.session.Unlock(ctx, record.Secret, password)
}

func (w *Wallet) Lock() {
	w.session.Clear()
}

func (w *Wallet) IsLocked() bool {
	return !w.session.IsActive()
}

// RotatePassword re-encrypts the secret under newPassword as a new version
// of the wallet record. Previous versions are kept.
func (w *Wallet) RotatePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	if len(newPassword) <= 0 {
		return domain.InvalidInputError("missing new password")
	}
	record, err := w.record(ctx)
	if err != nil {
		return err
	}

	secret, err := w.custody.Decrypt(record.Secret, oldPassword)
	w.session.AuditLog().Append(domain.AuditDecrypt, err)
	if err != nil {
		return err
	}
	defer secret.Wipe()

	blob, err := w.custody.Encrypt(secret, newPassword)
	if err != nil {
		return err
	}

	if err := w.store.AddWallet(ctx, domain.WalletRecord{
		WalletId:  w.id,
		Version:   record.Version + 1,
		PublicKey: record.PublicKey,
		Secret:    *blob,
		CreatedAt: w.now().UTC(),
	}); err != nil {
		return err
	}

	log.Infof("wallet %s password rotated to version %d", w.id, record.Version+1)
	return nil
}

func (w *Wallet) PublicKey(ctx context.Context) (string, error) {
	record, err := w.record(ctx)
	if err != nil {
		return "", err
	}
	return record.PublicKey, nil
}

func (w *Wallet) record(ctx context.Context) (*domain.WalletRecord, error) {
	record, err := w.store.GetWallet(ctx, w.id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: wallet %s", domain.ErrNotFound, w.id)
	}
	return record, nil
}
