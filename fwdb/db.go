package fwdb

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/sweetfw/updater"
	"go.etcd.io/bbolt"
)

const (
	dbName      = "fw.db"
	firmwareDir = "firmware"
)

var (
	settingsBucket = []byte("settings")
	firmwareBucket = []byte("firmware")
	historyBucket  = []byte("history")

	currentVersionKey = []byte("currentVersion")
)

// DB persists the firmware state of the device in a bolt database kept in
// the data directory, next to the downloaded firmware files.
type DB struct {
	*bbolt.DB
	updater.PendingError
	dir string
	log Logger
}

// Compile time check for protocol compatibility
var _ updater.DataStore = (*DB)(nil)

type Config struct {
	DataDir string
	Logger  Logger
}

func Open(config *Config) (*DB, error) {
	err := os.MkdirAll(filepath.Join(config.DataDir, firmwareDir), 0700)
	if err != nil {
		return nil, errors.Errorf("Could not create data dir: %v", err)
	}

	bdb, err := bbolt.Open(filepath.Join(config.DataDir, dbName), 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Errorf("Could not open %v: %v", dbName, err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{settingsBucket, firmwareBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, errors.Errorf("Could not create buckets: %v", err)
	}

	db := &DB{
		DB:  bdb,
		dir: config.DataDir,
		log: config.Logger,
	}

	if db.log == nil {
		db.log = noopLogger{}
	}

	return db, nil
}
