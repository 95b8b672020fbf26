package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lumenwallet/custody/internal/core/domain"
)

const (
	filename = "wallets.json"
)

type walletData struct {
	Version   uint32                 `json:"version"`
	PublicKey string                 `json:"public_key"`
	Secret    domain.EncryptedSecret `json:"encrypted_secret"`
	CreatedAt int64                  `json:"created_at"`
}

func (d walletData) decode(walletId string) domain.WalletRecord {
	return domain.WalletRecord{
		WalletId:  walletId,
		Version:   d.Version,
		PublicKey: d.PublicKey,
		Secret:    d.Secret,
		CreatedAt: time.Unix(d.CreatedAt, 0).UTC(),
	}
}

// state maps a wallet id to all of its versions, oldest first.
type state map[string][]walletData

type fileStore struct {
	filePath string
	lock     *sync.Mutex
}

// NewWalletStore keeps every version of every wallet record in a single JSON
// file under baseDir.
func NewWalletStore(baseDir string) (domain.WalletStore, error) {
	datadir := cleanAndExpandPath(baseDir)
	if err := makeDirectoryIfNotExists(datadir); err != nil {
		return nil, fmt.Errorf("failed to initialize datadir: %s", err)
	}
	filePath := filepath.Join(datadir, filename)

	fileStore := &fileStore{filePath, &sync.Mutex{}}

	if _, err := fileStore.open(); err != nil {
		return nil, fmt.Errorf("failed to open file store: %s", err)
	}

	return fileStore, nil
}

func (s *fileStore) AddWallet(_ context.Context, record domain.WalletRecord) error {
	if len(record.WalletId) <= 0 {
		return domain.InvalidInputError("missing wallet id")
	}
	if record.Secret.IsEmpty() {
		return domain.InvalidInputError("missing encrypted secret")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := s.open()
	if err != nil {
		return domain.PersistenceError(err)
	}

	versions := data[record.WalletId]
	expectedVersion := uint32(len(versions)) + 1
	if record.Version != expectedVersion {
		return fmt.Errorf(
			"%w: wallet %s expected version %d, got %d",
			domain.ErrConcurrentUpdate, record.WalletId, expectedVersion, record.Version,
		)
	}

	data[record.WalletId] = append(versions, walletData{
		Version:   record.Version,
		PublicKey: record.PublicKey,
		Secret:    record.Secret,
		CreatedAt: record.CreatedAt.Unix(),
	})

	if err := s.write(data); err != nil {
		return domain.PersistenceError(fmt.Errorf("failed to write to file store: %s", err))
	}
	return nil
}

func (s *fileStore) GetWallet(_ context.Context, walletId string) (*domain.WalletRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := s.open()
	if err != nil {
		return nil, domain.PersistenceError(err)
	}
	versions := data[walletId]
	if len(versions) <= 0 {
		return nil, nil
	}

	record := versions[len(versions)-1].decode(walletId)
	return &record, nil
}

func (s *fileStore) Close() {}

func (s *fileStore) open() (state, error) {
	file, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open file store: %s", err)
		}
		if err := s.write(state{}); err != nil {
			return nil, fmt.Errorf("failed to initialize file store: %s", err)
		}
		return state{}, nil
	}

	data := state{}
	if err := json.Unmarshal(file, &data); err != nil {
		return nil, fmt.Errorf("failed to read file store: %s", err)
	}
	return data, nil
}

// write replaces the file atomically so a crash never leaves a truncated
// wallet file behind.
func (s *fileStore) write(data state) error {
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, buf, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0700)
	}
	return nil
}
