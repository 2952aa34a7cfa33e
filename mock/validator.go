package mock

import (
	"context"

	"github.com/the-lightning-land/sweetfw/updater"
)

// Validator accepts every image after pretending to unpack it.
type Validator struct {
	base
}

// Compile time check for protocol compatibility
var _ updater.Validator = (*Validator)(nil)

func NewValidator(config *Config) *Validator {
	return &Validator{base: newBase(config)}
}

func (v *Validator) UnpackAndValidate(ctx context.Context, file updater.File) <-chan updater.Result[updater.File] {
	v.log.Debugf("Validating %v", file)

	return single(ctx, &v.base, v.scenario.Delays.Unpack, func() (updater.File, error) {
		return file, nil
	})
}
