package db

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	badgerdb "github.com/lumenwallet/custody/internal/infrastructure/db/badger"
	sqlitedb "github.com/lumenwallet/custody/internal/infrastructure/db/sqlite"
)

var (
	offlineStoreTypes = map[string]func(...interface{}) (domain.OfflineStore, error){
		"badger": badgerdb.NewOfflineStore,
	}
	scheduleStoreTypes = map[string]func(...interface{}) (domain.ScheduledPaymentRepository, error){
		"sqlite": newSqliteScheduleStore,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	OfflineStoreType  string
	ScheduleStoreType string

	OfflineStoreConfig  []interface{}
	ScheduleStoreConfig []interface{}
}

type service struct {
	offlineStore      domain.OfflineStore
	scheduledPayments domain.ScheduledPaymentRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	offlineStoreFactory, ok := offlineStoreTypes[config.OfflineStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid offline store type: %s", config.OfflineStoreType)
	}
	scheduleStoreFactory, ok := scheduleStoreTypes[config.ScheduleStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid schedule store type: %s", config.ScheduleStoreType)
	}

	offlineStore, err := offlineStoreFactory(config.OfflineStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create offline store: %w", err)
	}

	scheduledPayments, err := scheduleStoreFactory(config.ScheduleStoreConfig...)
	if err != nil {
		offlineStore.Close()
		return nil, fmt.Errorf("failed to create schedule store: %w", err)
	}

	return &service{offlineStore, scheduledPayments}, nil
}

func (s *service) OfflineStore() domain.OfflineStore {
	return s.offlineStore
}

func (s *service) ScheduledPayments() domain.ScheduledPaymentRepository {
	return s.scheduledPayments
}

func (s *service) Close() {
	s.offlineStore.Close()
	s.scheduledPayments.Close()
}

func newSqliteScheduleStore(config ...interface{}) (domain.ScheduledPaymentRepository, error) {
	if len(config) != 1 {
		return nil, errors.New("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok || len(baseDir) <= 0 {
		return nil, errors.New("invalid config, expected base directory at 0")
	}

	db, err := sqlitedb.OpenDb(filepath.Join(baseDir, sqliteDbFile))
	if err != nil {
		return nil, err
	}
	if err := sqlitedb.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	return sqlitedb.NewScheduledPaymentRepository(db)
}
