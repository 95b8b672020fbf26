package ports

import "context"

// Unlocker provides the master passphrase protecting scheduled payment
// secrets. Callers wipe the returned buffer after use.
type Unlocker interface {
	GetPassword(ctx context.Context) ([]byte, error)
}
