package updater

import (
	"context"
	"sync"
)

// Injector accepts a failure that the next operation of a collaborator
// reports instead of its normal outcome.
type Injector interface {
	InjectError(err Error)

	// Disarm drops a failure that was injected but not reported yet.
	Disarm()
}

// RemoteService checks for and downloads new firmware.
type RemoteService interface {
	Injector

	// CheckForUpdate resolves to the version that should be installed.
	CheckForUpdate(ctx context.Context, currentVersion int) <-chan Result[int]

	// Download writes the given version to path. The channel carries zero
	// or more progress reports followed by one terminal report and is then
	// closed.
	Download(ctx context.Context, version int, path string) <-chan Result[Progress]
}

// Validator unpacks a downloaded image and checks that it may be installed.
type Validator interface {
	Injector

	UnpackAndValidate(ctx context.Context, file File) <-chan Result[File]
}

// DataStore knows the installed firmware version and keeps firmware files.
type DataStore interface {
	Injector

	CurrentVersion() Result[int]
	DownloadPath(version int) string
	Store(ctx context.Context, file File) <-chan Result[bool]
}

// Device is the target that receives and installs the firmware.
type Device interface {
	Injector

	// Ready reports whether an upload can be started now.
	Ready(ctx context.Context) bool

	// Upload transfers the file. Reports follow the same rules as
	// RemoteService.Download.
	Upload(ctx context.Context, file File) <-chan Result[Progress]

	// InstallAndRestart resolves once the device restarted on the new
	// firmware, or failed to.
	InstallAndRestart(ctx context.Context) <-chan Result[bool]
}

// PendingError is a single shot failure override for collaborators.
// The zero value holds nothing.
type PendingError struct {
	mu  sync.Mutex
	err Error
	set bool
}

var _ Injector = (*PendingError)(nil)

func (p *PendingError) InjectError(err Error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.err = err
	p.set = true
}

// Take returns the armed failure, if any, and disarms it.
func (p *PendingError) Take() (Error, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.set {
		return 0, false
	}

	err := p.err
	p.err = 0
	p.set = false

	return err, true
}

func (p *PendingError) Disarm() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.err = 0
	p.set = false
}

// armed reports whether a failure is waiting without consuming it.
func (p *PendingError) armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.set
}
