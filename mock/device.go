package mock

import (
	"context"

	"github.com/the-lightning-land/sweetfw/updater"
)

// Device pretends to be a device that receives and installs firmware.
type Device struct {
	base
}

// Compile time check for protocol compatibility
var _ updater.Device = (*Device)(nil)

func NewDevice(config *Config) *Device {
	return &Device{base: newBase(config)}
}

func (d *Device) Ready(ctx context.Context) bool {
	return d.scenario.DeviceReady
}

func (d *Device) Upload(ctx context.Context, file updater.File) <-chan updater.Result[updater.Progress] {
	d.log.Debugf("Uploading %v to device", file)

	return d.transfer(ctx, d.scenario.Delays.Upload, nil)
}

func (d *Device) InstallAndRestart(ctx context.Context) <-chan updater.Result[bool] {
	d.log.Infof("Installing firmware and restarting device")

	return single(ctx, &d.base, d.scenario.Delays.Install, func() (bool, error) {
		return true, nil
	})
}
