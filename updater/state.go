package updater

import "fmt"

// State is one stage of an update run. Variants are plain comparable
// values, so two states are equal exactly when they are the same variant
// carrying the same payload.
type State interface {
	// Name is the stable machine readable name of the variant.
	Name() string
	// String renders the state for humans.
	String() string

	isState()
}

type None struct{}

// Started is entered while checking the prerequisites of a run.
type Started struct{}

// CheckingForUpdate asks the remote service whether an update is needed.
type CheckingForUpdate struct {
	CurrentVersion int
}

type Downloading struct {
	NewVersion int
	Percentage int
	Path       string
}

// Downloaded means the image is on disk and has to be unpacked, validated
// and stored.
type Downloaded struct {
	NewVersion int
	Path       string
}

type StoredToFile struct {
	File File
}

type UploadingToDevice struct {
	File       File
	Percentage int
}

// UploadedToDevice means the device holds the image and can install it.
type UploadedToDevice struct{}

// WaitingForRestart means install and restart were requested and the
// device has not reported back yet.
type WaitingForRestart struct{}

type Done struct{}

type Failed struct {
	Cause Error
}

func (None) Name() string              { return "none" }
func (Started) Name() string           { return "started" }
func (CheckingForUpdate) Name() string { return "checking" }
func (Downloading) Name() string       { return "downloading" }
func (Downloaded) Name() string        { return "downloaded" }
func (StoredToFile) Name() string      { return "stored" }
func (UploadingToDevice) Name() string { return "uploading" }
func (UploadedToDevice) Name() string  { return "uploaded" }
func (WaitingForRestart) Name() string { return "restarting" }
func (Done) Name() string              { return "done" }
func (Failed) Name() string            { return "error" }

func (None) String() string    { return "idle" }
func (Started) String() string { return "started" }

func (s CheckingForUpdate) String() string {
	return fmt.Sprintf("v.%d checking for update...", s.CurrentVersion)
}

func (s Downloading) String() string {
	return fmt.Sprintf("v.%d API downloading: %d%%", s.NewVersion, s.Percentage)
}

func (s Downloaded) String() string {
	return fmt.Sprintf("v.%d downloaded", s.NewVersion)
}

func (s StoredToFile) String() string { return "file stored" }

func (s UploadingToDevice) String() string {
	return fmt.Sprintf("uploading to device: %d%%", s.Percentage)
}

func (UploadedToDevice) String() string  { return "uploaded to device" }
func (WaitingForRestart) String() string { return "waiting for device restart..." }
func (Done) String() string              { return "done" }

func (s Failed) String() string {
	return fmt.Sprintf("Error: %v", s.Cause)
}

func (None) isState()              {}
func (Started) isState()           {}
func (CheckingForUpdate) isState() {}
func (Downloading) isState()       {}
func (Downloaded) isState()        {}
func (StoredToFile) isState()      {}
func (UploadingToDevice) isState() {}
func (UploadedToDevice) isState()  {}
func (WaitingForRestart) isState() {}
func (Done) isState()              {}
func (Failed) isState()            {}

// Terminal reports whether no further entry actions run after s.
func Terminal(s State) bool {
	switch s.(type) {
	case Done, Failed:
		return true
	default:
		return false
	}
}

// Idle reports whether a new run may be started from s.
func Idle(s State) bool {
	_, none := s.(None)
	return none || Terminal(s)
}
