package updater

import (
	"github.com/go-errors/errors"
)

// Error is the closed set of failures an update run can end with.
// Each kind belongs to exactly one stage of the pipeline.
type Error int

const (
	ErrNoCurrentVersion Error = iota + 1
	ErrDownloadedVersionInvalid
	ErrAPI
	ErrUnpacking
	ErrDeviceUploading
	ErrDeviceInstalling
	ErrDeviceNotReady
	ErrStoring
)

var errorNames = map[Error]string{
	ErrNoCurrentVersion:         "no-current-version",
	ErrDownloadedVersionInvalid: "downloaded-version-invalid",
	ErrAPI:                      "api-error",
	ErrUnpacking:                "unpacking-error",
	ErrDeviceUploading:          "device-uploading-error",
	ErrDeviceInstalling:         "device-installing-error",
	ErrDeviceNotReady:           "device-not-ready",
	ErrStoring:                  "storing-error",
}

// ErrUpdateInProgress is returned when an update is requested while
// another run has not reached a terminal state yet.
var ErrUpdateInProgress = errors.New("Update already in progress")

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return name
	}

	return "unknown-error"
}

// ParseError returns the kind with the given name.
func ParseError(name string) (Error, error) {
	for kind, n := range errorNames {
		if n == name {
			return kind, nil
		}
	}

	return 0, errors.Errorf("Unknown update error %q", name)
}

// Cause maps err onto the taxonomy. Errors that already carry a kind
// keep it, everything else is reported as fallback.
func Cause(err error, fallback Error) Error {
	var kind Error
	if errors.As(err, &kind) {
		return kind
	}

	return fallback
}

type kindError struct {
	kind Error
	err  error
}

// Wrap attaches a kind to err, keeping err available to errors.Is.
func Wrap(kind Error, err error) error {
	return &kindError{kind: kind, err: err}
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}
