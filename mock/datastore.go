package mock

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/sweetfw/updater"
)

// DataStore keeps stored firmware files in memory.
type DataStore struct {
	base
	mtx   sync.Mutex
	files []updater.File
}

// Compile time check for protocol compatibility
var _ updater.DataStore = (*DataStore)(nil)

func NewDataStore(config *Config) *DataStore {
	return &DataStore{base: newBase(config)}
}

func (d *DataStore) CurrentVersion() updater.Result[int] {
	if d.scenario.CurrentVersion == nil {
		return updater.Failure[int](errors.New("No firmware installed"))
	}

	return updater.Success(*d.scenario.CurrentVersion)
}

func (d *DataStore) DownloadPath(version int) string {
	return filepath.Join(d.scenario.DownloadDir, fmt.Sprintf("firmware-v%d.bin", version))
}

func (d *DataStore) Store(ctx context.Context, file updater.File) <-chan updater.Result[bool] {
	d.log.Debugf("Storing %v", file)

	return single(ctx, &d.base, d.scenario.Delays.Store, func() (bool, error) {
		d.mtx.Lock()
		defer d.mtx.Unlock()

		d.files = append(d.files, file)

		return true, nil
	})
}

// Files returns the files stored so far.
func (d *DataStore) Files() []updater.File {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return append([]updater.File(nil), d.files...)
}
