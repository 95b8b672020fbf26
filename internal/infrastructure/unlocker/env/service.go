package envunlocker

import (
	"context"
	"fmt"

	"github.com/lumenwallet/custody/internal/core/ports"
)

type service struct {
	password []byte
}

func NewService(password string) (ports.Unlocker, error) {
	if len(password) <= 0 {
		return nil, fmt.Errorf("missing password in env")
	}
	return &service{[]byte(password)}, nil
}

// GetPassword returns a fresh copy that the caller is free to wipe.
func (s *service) GetPassword(_ context.Context) ([]byte, error) {
	return append([]byte{}, s.password...), nil
}
