package ports

import "github.com/lumenwallet/custody/internal/core/domain"

type KeyCustody interface {
	Encrypt(secret, password []byte) (*domain.EncryptedSecret, error)
	// Decrypt fails with domain.ErrAuthenticationFailed, whatever the reason.
	Decrypt(blob domain.EncryptedSecret, password []byte) (domain.Secret, error)
}
