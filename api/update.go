package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/the-lightning-land/sweetfw/fwdb"
	"github.com/the-lightning-land/sweetfw/updater"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type stateResponse struct {
	State          string        `json:"state"`
	Status         string        `json:"status"`
	CurrentVersion int           `json:"currentVersion,omitempty"`
	NewVersion     int           `json:"newVersion,omitempty"`
	Progress       *int          `json:"progress,omitempty"`
	Path           string        `json:"path,omitempty"`
	File           *updater.File `json:"file,omitempty"`
	Cause          string        `json:"cause,omitempty"`
}

func newStateResponse(state updater.State) *stateResponse {
	res := &stateResponse{
		State:  state.Name(),
		Status: state.String(),
	}

	switch s := state.(type) {
	case updater.CheckingForUpdate:
		res.CurrentVersion = s.CurrentVersion
	case updater.Downloading:
		res.NewVersion = s.NewVersion
		res.Progress = &s.Percentage
		res.Path = s.Path
	case updater.Downloaded:
		res.NewVersion = s.NewVersion
		res.Path = s.Path
	case updater.StoredToFile:
		res.File = &s.File
	case updater.UploadingToDevice:
		res.File = &s.File
		res.Progress = &s.Percentage
	case updater.Failed:
		res.Cause = s.Cause.Error()
	}

	return res
}

type faultResponse struct {
	Fault string `json:"fault"`
}

type historyResponse struct {
	Runs []*fwdb.Run `json:"runs"`
}

func (a *Api) handleGetUpdate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.jsonResponse(w, newStateResponse(a.manager.State()), http.StatusOK)
	}
}

func (a *Api) handlePostUpdate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := a.manager.StartUpdate()
		if err == updater.ErrUpdateInProgress {
			a.jsonError(w, err.Error(), http.StatusConflict)
			return
		}

		if err != nil {
			a.log.Errorf("Could not start update: %v", err)
			a.jsonError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		a.jsonResponse(w, newStateResponse(a.manager.State()), http.StatusAccepted)
	}
}

func (a *Api) handlePostFault() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fault, ok := a.manager.InjectFault()
		if !ok {
			a.jsonError(w, fmt.Sprintf("Nothing to fail in state %v", a.manager.State().Name()), http.StatusConflict)
			return
		}

		a.jsonResponse(w, &faultResponse{Fault: fault.Error()}, http.StatusOK)
	}
}

func (a *Api) handleGetHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.history == nil {
			a.jsonError(w, "No history available", http.StatusNotFound)
			return
		}

		runs, err := a.history.Runs()
		if err != nil {
			a.log.Errorf("Could not read history: %v", err)
			a.jsonError(w, "Could not read history", http.StatusInternalServerError)
			return
		}

		if runs == nil {
			runs = []*fwdb.Run{}
		}

		a.jsonResponse(w, &historyResponse{Runs: runs}, http.StatusOK)
	}
}

// handleGetUpdateEvents streams the current state followed by every state
// change over a websocket until either side goes away.
func (a *Api) handleGetUpdateEvents() http.HandlerFunc {
	upgrader := &websocket.Upgrader{}

	return func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.log.Errorf("Could not upgrade connection: %v", err)
			return
		}
		defer c.Close()

		client := a.manager.Subscribe()
		defer client.Cancel()

		closed := make(chan struct{})

		// read pump
		go func() {
			defer close(closed)

			c.SetReadLimit(512)
			c.SetReadDeadline(time.Now().Add(pongWait))
			c.SetPongHandler(func(string) error {
				c.SetReadDeadline(time.Now().Add(pongWait))
				return nil
			})

			for {
				_, _, err := c.ReadMessage()
				if err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						a.log.Errorf("unexpected websocket closure: %v", err)
					}
					return
				}
			}
		}()

		// write pump
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(newStateResponse(a.manager.State())); err != nil {
			return
		}

		for {
			select {
			case state, ok := <-client.States:
				c.SetWriteDeadline(time.Now().Add(writeWait))

				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}

				if err := c.WriteJSON(newStateResponse(state)); err != nil {
					return
				}
			case <-ticker.C:
				c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}
}
