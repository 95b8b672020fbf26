package cypher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	"golang.org/x/crypto/pbkdf2"
)

const (
	MinIterations     = 100_000
	DefaultIterations = 210_000
	// MaxIterations bounds the work a stored blob can ask for.
	MaxIterations = 10 * DefaultIterations

	keyLen = 32
)

type service struct {
	iterations uint32
	rand       io.Reader
}

// NewService returns the password based custody service. Secrets are sealed
// with AES-256-GCM under a key derived with PBKDF2-HMAC-SHA256.
func NewService(iterations uint32) (ports.KeyCustody, error) {
	if iterations < MinIterations || iterations > MaxIterations {
		return nil, fmt.Errorf(
			"kdf iterations must be between %d and %d, got %d",
			MinIterations, MaxIterations, iterations,
		)
	}
	return &service{iterations, rand.Reader}, nil
}

func (s *service) Encrypt(secret, password []byte) (*domain.EncryptedSecret, error) {
	if len(secret) <= 0 {
		return nil, domain.InvalidInputError("missing secret")
	}
	if len(password) <= 0 {
		return nil, domain.InvalidInputError("missing password")
	}

	salt := make([]byte, domain.SaltLen)
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, domain.NonceLen)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key := deriveKey(password, salt, s.iterations)
	defer domain.Wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	return &domain.EncryptedSecret{
		Ciphertext:    gcm.Seal(nil, nonce, secret, nil),
		Salt:          salt,
		Nonce:         nonce,
		KdfIterations: s.iterations,
	}, nil
}

// Decrypt always runs the key derivation before looking at the shape of the
// blob, and every failure returns the same error.
func (s *service) Decrypt(
	blob domain.EncryptedSecret, password []byte,
) (domain.Secret, error) {
	if len(password) <= 0 {
		return nil, domain.InvalidInputError("missing password")
	}

	iterations := blob.KdfIterations
	validIterations := iterations >= MinIterations && iterations <= MaxIterations
	wellFormed := validIterations &&
		len(blob.Salt) == domain.SaltLen &&
		len(blob.Nonce) == domain.NonceLen &&
		len(blob.Ciphertext) > 0
	if !validIterations {
		iterations = s.iterations
	}

	key := deriveKey(password, blob.Salt, iterations)
	defer domain.Wipe(key)

	if !wellFormed {
		return nil, domain.ErrAuthenticationFailed
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, domain.ErrAuthenticationFailed
	}
	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		domain.Wipe(plaintext)
		return nil, domain.ErrAuthenticationFailed
	}
	return domain.Secret(plaintext), nil
}

func deriveKey(password, salt []byte, iterations uint32) []byte {
	return pbkdf2.Key(password, salt, int(iterations), keyLen, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, domain.NonceLen)
}
