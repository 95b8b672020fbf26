package badgerdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/timshannon/badgerhold/v4"
)

const maxRetries = 5

func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
		opts.SyncWrites = true
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(30 * time.Minute)

		go func() {
			for range ticker.C {
				err := db.Badger().RunValueLogGC(0.5)
				if errors.Is(err, badger.ErrDBClosed) {
					ticker.Stop()
					return
				}
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
					logger.Errorf("%s", err)
				}
			}
		}()
	}

	return db, nil
}

func parseConfig(config ...interface{}) (string, badger.Logger, error) {
	if len(config) != 2 {
		return "", nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return "", nil, fmt.Errorf("invalid logger")
		}
	}
	return baseDir, logger, nil
}

// withRetry runs fn again while it fails with a transaction conflict.
func withRetry(fn func() error) error {
	err := fn()
	for attempts := 1; errors.Is(err, badger.ErrConflict) && attempts <= maxRetries; attempts++ {
		time.Sleep(100 * time.Millisecond)
		err = fn()
	}
	return err
}
