package fwdb

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/the-lightning-land/sweetfw/updater"
)

// Run is the persisted summary of one update run.
type Run struct {
	Id          string    `json:"id"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished,omitempty"`
	FromVersion int       `json:"fromVersion,omitempty"`
	ToVersion   int       `json:"toVersion,omitempty"`
	State       string    `json:"state"`
	Cause       string    `json:"cause,omitempty"`
}

// Recorder keeps the history of update runs and advances the current
// version once a run is done.
type Recorder struct {
	db  *DB
	run *Run
}

// Compile time check for protocol compatibility
var _ updater.Observer = (*Recorder)(nil)

func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) StateChanged(state updater.State) {
	if _, ok := state.(updater.Started); ok {
		r.run = &Run{
			Id:      uuid.New().String(),
			Started: time.Now(),
		}
	}

	if r.run == nil {
		return
	}

	previous := r.run.State
	r.run.State = state.Name()

	switch s := state.(type) {
	case updater.CheckingForUpdate:
		r.run.FromVersion = s.CurrentVersion
	case updater.Downloading:
		r.run.ToVersion = s.NewVersion
	case updater.Done:
		r.run.Finished = time.Now()

		err := r.db.SetCurrentVersion(r.run.ToVersion)
		if err != nil {
			r.db.log.Errorf("Could not advance current version: %v", err)
		}
	case updater.Failed:
		r.run.Finished = time.Now()
		r.run.Cause = s.Cause.Error()
	}

	// progress only changes the percentage
	if previous == r.run.State {
		return
	}

	err := r.db.setJSON(historyBucket, []byte(r.run.Id), r.run)
	if err != nil {
		r.db.log.Errorf("Could not save run %v: %v", r.run.Id, err)
	}

	if updater.Terminal(state) {
		r.run = nil
	}
}

// Runs returns the recorded runs, most recent first.
func (db *DB) Runs() ([]*Run, error) {
	var runs []*Run

	err := db.eachJSON(historyBucket, func(payload []byte) error {
		run := &Run{}
		if err := json.Unmarshal(payload, run); err != nil {
			return errors.Errorf("Could not unmarshal run: %v", err)
		}

		runs = append(runs, run)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Started.After(runs[j].Started)
	})

	return runs, nil
}
