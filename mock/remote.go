package mock

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/sweetfw/updater"
)

// Remote pretends to be the firmware API.
type Remote struct {
	base
}

// Compile time check for protocol compatibility
var _ updater.RemoteService = (*Remote)(nil)

func NewRemote(config *Config) *Remote {
	return &Remote{base: newBase(config)}
}

func (r *Remote) CheckForUpdate(ctx context.Context, currentVersion int) <-chan updater.Result[int] {
	r.log.Debugf("Checking for update of v.%d", currentVersion)

	return single(ctx, &r.base, r.scenario.Delays.Check, func() (int, error) {
		return r.scenario.NewVersion, nil
	})
}

func (r *Remote) Download(ctx context.Context, version int, path string) <-chan updater.Result[updater.Progress] {
	r.log.Debugf("Downloading v.%d to %v", version, path)

	return r.transfer(ctx, 0, func() error {
		if r.scenario.Payload == "" {
			return nil
		}

		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return errors.Errorf("Could not create download dir: %v", err)
		}

		err = ioutil.WriteFile(path, []byte(r.scenario.Payload), 0644)
		if err != nil {
			return errors.Errorf("Could not write download: %v", err)
		}

		return nil
	})
}
