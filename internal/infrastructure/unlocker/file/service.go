package fileunlocker

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
)

type service struct {
	filePath string
}

func NewService(filePath string) (ports.Unlocker, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, err
	}
	return &service{filePath: filePath}, nil
}

func (s *service) GetPassword(_ context.Context) ([]byte, error) {
	buf, err := os.ReadFile(s.filePath)
	if err != nil {
		return nil, err
	}
	defer domain.Wipe(buf)

	password := bytes.TrimFunc(buf, func(r rune) bool {
		return r == 10 || r == 13 || r == 32
	})
	if len(password) <= 0 {
		return nil, fmt.Errorf("password file %s is empty", s.filePath)
	}

	return append([]byte{}, password...), nil
}
