package device

import (
	"context"
	"time"

	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"
)

const (
	systemdService = "org.freedesktop.systemd1"
	systemdPath    = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManager = "org.freedesktop.systemd1.Manager"
	systemdUnit    = "org.freedesktop.systemd1.Unit"
)

// SystemdRestarter restarts the systemd unit running the device and
// waits until it is active again.
type SystemdRestarter struct {
	conn     *dbus.Conn
	unit     string
	interval time.Duration
	timeout  time.Duration
	log      Logger
}

// Compile time check for protocol compatibility
var _ Restarter = (*SystemdRestarter)(nil)

type SystemdConfig struct {
	Unit    string
	Timeout time.Duration
	Logger  Logger
}

func NewSystemdRestarter(config *SystemdConfig) (*SystemdRestarter, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Errorf("Could not connect to system bus: %v", err)
	}

	r := &SystemdRestarter{
		conn:     conn,
		unit:     config.Unit,
		interval: 500 * time.Millisecond,
		timeout:  config.Timeout,
		log:      config.Logger,
	}

	if r.timeout <= 0 {
		r.timeout = time.Minute
	}

	if r.log == nil {
		r.log = noopLogger{}
	}

	return r, nil
}

func (r *SystemdRestarter) Restart(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	manager := r.conn.Object(systemdService, systemdPath)

	var job dbus.ObjectPath
	err := manager.CallWithContext(ctx, systemdManager+".RestartUnit", 0, r.unit, "replace").Store(&job)
	if err != nil {
		return false, errors.Errorf("Could not restart %v: %v", r.unit, err)
	}

	r.log.Infof("Restarting %v with job %v", r.unit, job)

	var unitPath dbus.ObjectPath
	err = manager.CallWithContext(ctx, systemdManager+".GetUnit", 0, r.unit).Store(&unitPath)
	if err != nil {
		return false, errors.Errorf("Could not find unit %v: %v", r.unit, err)
	}

	unit := r.conn.Object(systemdService, unitPath)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		prop, err := unit.GetProperty(systemdUnit + ".ActiveState")
		if err != nil {
			return false, errors.Errorf("Could not read state of %v: %v", r.unit, err)
		}

		state, _ := prop.Value().(string)

		r.log.Debugf("Unit %v is %v", r.unit, state)

		switch state {
		case "active":
			return true, nil
		case "failed":
			return false, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			r.log.Warnf("Unit %v did not come back: %v", r.unit, ctx.Err())
			return false, nil
		}
	}
}
