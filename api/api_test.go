package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-errors/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/the-lightning-land/sweetfw/fwdb"
	"github.com/the-lightning-land/sweetfw/mock"
	"github.com/the-lightning-land/sweetfw/updater"
)

type history struct {
	runs []*fwdb.Run
	err  error
}

func (h *history) Runs() ([]*fwdb.Run, error) {
	return h.runs, h.err
}

func newManager(t *testing.T, delays mock.Delays) *updater.Manager {
	scenario := mock.DefaultScenario()
	scenario.DownloadDir = t.TempDir()
	scenario.Delays = delays

	config := &mock.Config{Scenario: scenario}

	m := updater.NewManager(&updater.Config{
		Remote:    mock.NewRemote(config),
		DataStore: mock.NewDataStore(config),
		Device:    mock.NewDevice(config),
		Validator: mock.NewValidator(config),
	})

	require.NoError(t, m.Start())
	t.Cleanup(func() {
		_ = m.Stop()
	})

	return m
}

func do(t *testing.T, a *Api, method, path string, v interface{}) int {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()

	a.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	if v != nil {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
	}

	return rec.Code
}

func TestGetUpdate(t *testing.T) {
	a := New(&Config{Manager: newManager(t, mock.Delays{})})

	res := &stateResponse{}
	code := do(t, a, http.MethodGet, "/api/v1/update", res)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "none", res.State)
	assert.Equal(t, "idle", res.Status)
}

func TestPostUpdateWhileRunning(t *testing.T) {
	m := newManager(t, mock.Delays{Check: time.Minute})
	a := New(&Config{Manager: m})

	res := &stateResponse{}
	assert.Equal(t, http.StatusAccepted, do(t, a, http.MethodPost, "/api/v1/update", res))

	require.Eventually(t, func() bool {
		_, ok := m.State().(updater.CheckingForUpdate)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	e := &errorResponse{}
	assert.Equal(t, http.StatusConflict, do(t, a, http.MethodPost, "/api/v1/update", e))
	assert.Equal(t, updater.ErrUpdateInProgress.Error(), e.Error)

	state := &stateResponse{}
	do(t, a, http.MethodGet, "/api/v1/update", state)
	assert.Equal(t, "checking", state.State)
	assert.Equal(t, 3, state.CurrentVersion)
}

func TestPostFault(t *testing.T) {
	m := newManager(t, mock.Delays{Check: 500 * time.Millisecond})
	a := New(&Config{Manager: m})

	e := &errorResponse{}
	assert.Equal(t, http.StatusConflict, do(t, a, http.MethodPost, "/api/v1/update/fault", e))
	assert.Contains(t, e.Error, "none")

	require.NoError(t, m.StartUpdate())
	require.Eventually(t, func() bool {
		_, ok := m.State().(updater.CheckingForUpdate)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	res := &faultResponse{}
	assert.Equal(t, http.StatusOK, do(t, a, http.MethodPost, "/api/v1/update/fault", res))
	assert.Equal(t, "api-error", res.Fault)

	require.Eventually(t, func() bool {
		return m.State() == updater.Failed{Cause: updater.ErrAPI}
	}, 2*time.Second, 5*time.Millisecond)

	state := &stateResponse{}
	do(t, a, http.MethodGet, "/api/v1/update", state)
	assert.Equal(t, "error", state.State)
	assert.Equal(t, "api-error", state.Cause)
	assert.Equal(t, "Error: api-error", state.Status)
}

func TestGetHistory(t *testing.T) {
	m := newManager(t, mock.Delays{})
	started := time.Date(2019, 4, 1, 12, 0, 0, 0, time.UTC)

	runs := []*fwdb.Run{
		{Id: "b", Started: started, FromVersion: 3, ToVersion: 4, State: "done"},
	}

	a := New(&Config{Manager: m, History: &history{runs: runs}})

	res := &historyResponse{}
	assert.Equal(t, http.StatusOK, do(t, a, http.MethodGet, "/api/v1/update/history", res))
	require.Len(t, res.Runs, 1)
	assert.Equal(t, "b", res.Runs[0].Id)
	assert.True(t, started.Equal(res.Runs[0].Started))

	a = New(&Config{Manager: m, History: &history{}})
	res = &historyResponse{}
	assert.Equal(t, http.StatusOK, do(t, a, http.MethodGet, "/api/v1/update/history", res))
	assert.NotNil(t, res.Runs)
	assert.Empty(t, res.Runs)

	a = New(&Config{Manager: m, History: &history{err: errors.New("broken")}})
	assert.Equal(t, http.StatusInternalServerError, do(t, a, http.MethodGet, "/api/v1/update/history", &errorResponse{}))

	a = New(&Config{Manager: m})
	assert.Equal(t, http.StatusNotFound, do(t, a, http.MethodGet, "/api/v1/update/history", &errorResponse{}))
}

func TestUpdateEvents(t *testing.T) {
	m := newManager(t, mock.Delays{Tick: time.Millisecond})
	a := New(&Config{Manager: m})

	server := httptest.NewServer(a)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/update/events"

	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))

	first := &stateResponse{}
	require.NoError(t, c.ReadJSON(first))
	assert.Equal(t, "none", first.State)

	require.NoError(t, m.StartUpdate())

	var names []string
	for {
		res := &stateResponse{}
		require.NoError(t, c.ReadJSON(res))

		if len(names) == 0 || names[len(names)-1] != res.State {
			names = append(names, res.State)
		}

		if res.State == "done" || res.State == "error" {
			break
		}
	}

	assert.Equal(t, []string{
		"started",
		"checking",
		"downloading",
		"downloaded",
		"stored",
		"uploading",
		"uploaded",
		"restarting",
		"done",
	}, names)
}

func TestNewStateResponse(t *testing.T) {
	file := updater.File{Version: 4, Path: "some/local/path"}

	res := newStateResponse(updater.UploadingToDevice{File: file, Percentage: 97})
	assert.Equal(t, "uploading", res.State)
	require.NotNil(t, res.Progress)
	assert.Equal(t, 97, *res.Progress)
	assert.Equal(t, &file, res.File)

	res = newStateResponse(updater.Downloading{NewVersion: 4, Percentage: 0, Path: "p"})
	require.NotNil(t, res.Progress)
	assert.Equal(t, 0, *res.Progress)
	assert.Equal(t, 4, res.NewVersion)

	res = newStateResponse(updater.Done{})
	assert.Nil(t, res.Progress)
	assert.Nil(t, res.File)
}
