package domain

import (
	"crypto/subtle"
)

const (
	SaltLen  = 16
	NonceLen = 12
)

// EncryptedSecret is the at-rest form of a secret key. It is written once and
// superseded by a new value on password change, never mutated.
type EncryptedSecret struct {
	Ciphertext    []byte `json:"ciphertext"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	KdfIterations uint32 `json:"kdf_iterations"`
}

func (e EncryptedSecret) IsEmpty() bool {
	return len(e.Ciphertext) <= 0 && len(e.Salt) <= 0 && len(e.Nonce) <= 0
}

// Secret holds plaintext key material. It must never be converted to a string;
// call Wipe as soon as it is no longer needed.
type Secret []byte

// Wipe overwrites the buffer with zeros in place.
func (s Secret) Wipe() {
	Wipe(s)
}

func (s Secret) Equal(other []byte) bool {
	return subtle.ConstantTimeCompare(s, other) == 1
}

// String never renders key material.
func (s Secret) String() string {
	return "[redacted]"
}

func (s Secret) GoString() string {
	return "domain.Secret{[redacted]}"
}

// Wipe zeroes every given buffer.
func Wipe(bufs ...[]byte) {
	for _, buf := range bufs {
		clear(buf)
	}
}
