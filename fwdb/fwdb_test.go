package fwdb

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/the-lightning-land/sweetfw/mock"
	"github.com/the-lightning-land/sweetfw/updater"
	"github.com/the-lightning-land/sweetfw/validate"
)

func openDB(t *testing.T) *DB {
	db, err := Open(&Config{DataDir: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func TestCurrentVersion(t *testing.T) {
	db := openDB(t)

	_, err := db.CurrentVersion().Get()
	assert.Equal(t, updater.ErrNoCurrentVersion, err)

	require.NoError(t, db.SetCurrentVersion(3))

	version, err := db.CurrentVersion().Get()
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestStore(t *testing.T) {
	db := openDB(t)

	path := db.DownloadPath(4)
	assert.Equal(t, filepath.Join(db.dir, "firmware", "firmware-v4.bin"), path)
	require.NoError(t, ioutil.WriteFile(path, []byte("image"), 0600))

	ok, err := (<-db.Store(context.Background(), updater.File{Version: 4, Path: path})).Get()
	require.NoError(t, err)
	assert.True(t, ok)

	// without an image on disk
	ok, err = (<-db.Store(context.Background(), updater.File{Version: 2, Path: "missing"})).Get()
	require.NoError(t, err)
	assert.True(t, ok)

	files, err := db.Firmware()
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, 2, files[0].Version)
	assert.Equal(t, int64(0), files[0].Size)
	assert.Equal(t, updater.File{Version: 4, Path: path}, files[1].File)
	assert.Equal(t, int64(5), files[1].Size)
}

func TestStoreInjectedError(t *testing.T) {
	db := openDB(t)
	db.InjectError(updater.ErrStoring)

	_, err := (<-db.Store(context.Background(), updater.File{Version: 4})).Get()
	assert.Equal(t, updater.ErrStoring, err)

	// single shot
	ok, err := (<-db.Store(context.Background(), updater.File{Version: 4})).Get()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecorder(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.SetCurrentVersion(3))

	r := NewRecorder(db)
	file := updater.File{Version: 4, Path: "p"}

	for _, s := range []updater.State{
		updater.Started{},
		updater.CheckingForUpdate{CurrentVersion: 3},
		updater.Downloading{NewVersion: 4, Percentage: 0, Path: "p"},
		updater.Downloading{NewVersion: 4, Percentage: 50, Path: "p"},
		updater.Downloaded{NewVersion: 4, Path: "p"},
		updater.StoredToFile{File: file},
		updater.UploadingToDevice{File: file, Percentage: 10},
		updater.UploadedToDevice{},
		updater.WaitingForRestart{},
		updater.Done{},
	} {
		r.StateChanged(s)
	}

	r.StateChanged(updater.Started{})
	r.StateChanged(updater.Failed{Cause: updater.ErrNoCurrentVersion})

	// ignored outside of a run
	r.StateChanged(updater.Done{})

	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)

	failed, done := runs[0], runs[1]

	assert.Equal(t, "done", done.State)
	assert.Equal(t, 3, done.FromVersion)
	assert.Equal(t, 4, done.ToVersion)
	assert.Empty(t, done.Cause)
	assert.False(t, done.Finished.IsZero())

	assert.Equal(t, "error", failed.State)
	assert.Equal(t, "no-current-version", failed.Cause)
	assert.NotEqual(t, done.Id, failed.Id)

	version, err := db.CurrentVersion().Get()
	require.NoError(t, err)
	assert.Equal(t, 4, version)
}

func TestSeedCurrentVersion(t *testing.T) {
	db := openDB(t)

	seeded, err := db.SeedCurrentVersion(3)
	require.NoError(t, err)
	assert.True(t, seeded)

	// an installed version is never overwritten
	seeded, err = db.SeedCurrentVersion(7)
	require.NoError(t, err)
	assert.False(t, seeded)

	version, err := db.CurrentVersion().Get()
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

// A seeded fw.db with the image validator and the default simulation, as
// the daemon runs by default, completes an update.
func TestDefaultScenarioCompletes(t *testing.T) {
	db := openDB(t)

	scenario := mock.DefaultScenario()
	scenario.Delays = mock.Delays{}

	_, err := db.SeedCurrentVersion(*scenario.CurrentVersion)
	require.NoError(t, err)

	validator, err := validate.New(&validate.Config{})
	require.NoError(t, err)

	config := &mock.Config{Scenario: scenario}

	m := updater.NewManager(&updater.Config{
		Remote:    mock.NewRemote(config),
		DataStore: db,
		Device:    mock.NewDevice(config),
		Validator: validator,
		Observer:  NewRecorder(db),
	})
	require.NoError(t, m.Start())
	t.Cleanup(func() {
		_ = m.Stop()
	})

	require.NoError(t, m.StartUpdate())

	require.Eventually(t, func() bool {
		runs, err := db.Runs()
		return err == nil && len(runs) == 1 && updater.Terminal(m.State()) && !runs[0].Finished.IsZero()
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, updater.Done{}, m.State())

	version, err := db.CurrentVersion().Get()
	require.NoError(t, err)
	assert.Equal(t, 4, version)

	files, err := db.Firmware()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, db.DownloadPath(4), files[0].Path)
	assert.Equal(t, int64(len(scenario.Payload)), files[0].Size)
}
