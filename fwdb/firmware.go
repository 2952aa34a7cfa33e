package fwdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/sweetfw/updater"
	"go.etcd.io/bbolt"
)

// StoredFirmware is a firmware file kept by the data store.
type StoredFirmware struct {
	updater.File
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"storedAt"`
}

func (db *DB) CurrentVersion() updater.Result[int] {
	var version int

	found, err := db.getJSON(settingsBucket, currentVersionKey, &version)
	if err != nil {
		return updater.Failure[int](errors.Errorf("Could not read current version: %v", err))
	}

	if !found {
		return updater.Failure[int](updater.ErrNoCurrentVersion)
	}

	return updater.Success(version)
}

func (db *DB) SetCurrentVersion(version int) error {
	err := db.setJSON(settingsBucket, currentVersionKey, version)
	if err != nil {
		return errors.Errorf("Could not save current version: %v", err)
	}

	return nil
}

// SeedCurrentVersion records version as installed unless a version is
// recorded already. It reports whether version was recorded.
func (db *DB) SeedCurrentVersion(version int) (bool, error) {
	payload, err := json.Marshal(version)
	if err != nil {
		return false, err
	}

	seeded := false

	err = db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(settingsBucket)
		if err != nil {
			return err
		}

		if current := bucket.Get(currentVersionKey); current != nil && !bytes.Equal(current, []byte("null")) {
			return nil
		}

		seeded = true

		return bucket.Put(currentVersionKey, payload)
	})
	if err != nil {
		return false, errors.Errorf("Could not seed current version: %v", err)
	}

	return seeded, nil
}

func (db *DB) DownloadPath(version int) string {
	return filepath.Join(db.dir, firmwareDir, fmt.Sprintf("firmware-v%d.bin", version))
}

func (db *DB) Store(ctx context.Context, file updater.File) <-chan updater.Result[bool] {
	out := make(chan updater.Result[bool], 1)

	go func() {
		if err, ok := db.Take(); ok {
			out <- updater.Failure[bool](err)
			return
		}

		stored := &StoredFirmware{
			File:     file,
			StoredAt: time.Now(),
		}

		if info, err := os.Stat(file.Path); err == nil {
			stored.Size = info.Size()
		} else {
			db.log.Warnf("Storing %v without an image on disk: %v", file, err)
		}

		err := db.setJSON(firmwareBucket, []byte(strconv.Itoa(file.Version)), stored)
		if err != nil {
			db.log.Errorf("Could not store firmware %v: %v", file, err)
			out <- updater.Success(false)
			return
		}

		db.log.Infof("Stored firmware %v", file)

		out <- updater.Success(true)
	}()

	return out
}

// Firmware returns the stored firmware files ordered by version.
func (db *DB) Firmware() ([]*StoredFirmware, error) {
	var files []*StoredFirmware

	err := db.eachJSON(firmwareBucket, func(payload []byte) error {
		stored := &StoredFirmware{}
		if err := json.Unmarshal(payload, stored); err != nil {
			return errors.Errorf("Could not unmarshal firmware: %v", err)
		}

		files = append(files, stored)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Version < files[j].Version
	})

	return files, nil
}
