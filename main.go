package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/the-lightning-land/sweetfw/api"
	"github.com/the-lightning-land/sweetfw/device"
	"github.com/the-lightning-land/sweetfw/fwdb"
	"github.com/the-lightning-land/sweetfw/mock"
	"github.com/the-lightning-land/sweetfw/updater"
	"github.com/the-lightning-land/sweetfw/validate"
	// Blank import to set up profiling HTTP handlers.
	_ "net/http/pprof"
)

var (
	// Commit stores the current commit hash of this build. This should be set using -ldflags during compilation.
	Commit string
	// Version stores the version string of this build. This should be set using -ldflags during compilation.
	Version string
	// Date stores the date of this build. This should be set using -ldflags during compilation.
	Date string
)

// sweetfwMain is the true entry point for sweetfw. This is required since defers
// created in the top-level scope of a main method aren't executed if os.Exit() is called.
func sweetfwMain() error {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	// Load CLI configuration and defaults
	cfg, err := loadConfig()
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil
	} else if err != nil {
		return errors.Errorf("Failed parsing arguments: %v", err)
	}

	// Set logger into debug mode if called with --debug
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		log.Info("Setting debug mode.")
	}

	log.Debug("Loaded config.")

	// Print version of the daemon
	log.Infof("Version %s (commit %s)", Version, Commit)
	log.Infof("Built on %s", Date)

	// Stop here if only version was requested
	if cfg.ShowVersion {
		return nil
	}

	if cfg.Profiling.Listen != "" {
		go func() {
			log.Infof("Starting profiling server on %v", cfg.Profiling.Listen)
			// Redirect the root path
			http.Handle("/", http.RedirectHandler("/debug/pprof", http.StatusSeeOther))
			// All other handlers are registered on DefaultServeMux through the import of pprof
			err := http.ListenAndServe(cfg.Profiling.Listen, nil)
			if err != nil {
				log.Errorf("Could not run profiler: %v", err)
			}
		}()
	}

	// fw.db keeps the installed version, stored firmware and the run history
	db, err := fwdb.Open(&fwdb.Config{
		DataDir: cfg.DataDir,
		Logger:  log.New().WithField("system", "fwdb"),
	})
	if err != nil {
		return errors.Errorf("Could not open fw.db: %v", err)
	}

	log.Infof("Opened fw.db")

	defer func() {
		err := db.Close()
		if err != nil {
			log.Errorf("Could not close fw.db: %v", err)
		} else {
			log.Info("Closed fw.db.")
		}
	}()

	// Simulated collaborators share one scenario
	scenario := mock.DefaultScenario()
	if cfg.Mock.Scenario != "" {
		scenario, err = mock.LoadScenario(cfg.Mock.Scenario)
		if err != nil {
			return errors.Errorf("Could not load scenario: %v", err)
		}

		log.Infof("Loaded scenario %v", cfg.Mock.Scenario)
	}

	mockConfig := &mock.Config{
		Scenario: scenario,
		Logger:   log.New().WithField("system", "mock"),
	}

	// The firmware API
	var remote updater.RemoteService

	switch cfg.Remote {
	case "mock":
		remote = mock.NewRemote(mockConfig)

		log.Info("Created a mock remote.")
	default:
		return errors.Errorf("Unknown remote type %v", cfg.Remote)
	}

	// The storage for versions and downloaded firmware
	var store updater.DataStore

	switch cfg.DataStore {
	case "bolt":
		store = db

		// a fresh fw.db starts from the configured or simulated version
		version := cfg.CurrentVersion
		if version == 0 && cfg.Remote == "mock" && scenario.CurrentVersion != nil {
			version = *scenario.CurrentVersion
		}

		if version > 0 {
			seeded, err := db.SeedCurrentVersion(version)
			if err != nil {
				return errors.Errorf("Could not seed current version: %v", err)
			}

			if seeded {
				log.Infof("Recorded v.%d as installed firmware.", version)
			}
		}

		log.Info("Using fw.db as datastore.")
	case "mock":
		store = mock.NewDataStore(mockConfig)

		log.Info("Created a mock datastore.")
	default:
		return errors.Errorf("Unknown datastore type %v", cfg.DataStore)
	}

	// The validation of downloads
	var validator updater.Validator

	switch cfg.Validator {
	case "image":
		checksums := make(map[int]string)
		for v, sum := range cfg.Val.Checksums {
			version, err := strconv.Atoi(v)
			if err != nil {
				return errors.Errorf("Invalid checksum version %v: %v", v, err)
			}

			checksums[version] = sum
		}

		validator, err = validate.New(&validate.Config{
			Constraint: cfg.Val.Constraint,
			Checksums:  checksums,
			Logger:     log.New().WithField("system", "validate"),
		})
		if err != nil {
			return errors.Errorf("Could not create validator: %v", err)
		}

		log.Infof("Created image validator.")
	case "mock":
		validator = mock.NewValidator(mockConfig)

		log.Info("Created a mock validator.")
	default:
		return errors.Errorf("Unknown validator type %v", cfg.Validator)
	}

	// The device receiving the firmware
	var dev updater.Device

	switch cfg.Device {
	case "local":
		var pin device.ReadyPin
		if cfg.Dev.ReadyPin != "" {
			gpio, err := device.NewGPIOPin(cfg.Dev.ReadyPin)
			if err != nil {
				return errors.Errorf("Could not open ready pin: %v", err)
			}

			pin = gpio
		}

		var restarter device.Restarter
		if cfg.Dev.Unit != "" {
			systemd, err := device.NewSystemdRestarter(&device.SystemdConfig{
				Unit:    cfg.Dev.Unit,
				Timeout: cfg.Dev.RestartTimeout,
				Logger:  log.New().WithField("system", "systemd"),
			})
			if err != nil {
				return errors.Errorf("Could not connect to systemd: %v", err)
			}

			restarter = systemd
		}

		dev = device.NewLocal(&device.Config{
			StagingDir:   cfg.Dev.StagingDir,
			ImagePath:    cfg.Dev.ImagePath,
			MinFreeBytes: cfg.Dev.MinFree,
			ReadyPin:     pin,
			Restarter:    restarter,
			Logger:       log.New().WithField("system", "device"),
		})

		log.Infof("Created local device with image %v.", cfg.Dev.ImagePath)
	case "mock":
		dev = mock.NewDevice(mockConfig)

		log.Info("Created a mock device.")
	default:
		return errors.Errorf("Unknown device type %v", cfg.Device)
	}

	scenario.Arm(map[string]updater.Injector{
		"remote":    remote,
		"datastore": store,
		"device":    dev,
		"validator": validator,
	})

	statusLog := log.New().WithField("system", "status")

	// central controller for update runs
	manager := updater.NewManager(&updater.Config{
		Remote:    remote,
		DataStore: store,
		Device:    dev,
		Validator: validator,
		Observer: updater.Observers(
			fwdb.NewRecorder(db),
			updater.ObserverFunc(func(state updater.State) {
				statusLog.Info(state)
			}),
		),
		Logger: log.New().WithField("system", "updater"),
	})

	err = manager.Start()
	if err != nil {
		return errors.Errorf("Could not start update manager: %v", err)
	}

	log.Infof("Started update manager.")

	defer func() {
		err := manager.Stop()
		if err != nil {
			log.Errorf("Could not properly stop update manager: %v", err)
		} else {
			log.Infof("Stopped update manager.")
		}
	}()

	a := api.New(&api.Config{
		Manager:  manager,
		History:  db,
		MaxConns: cfg.Api.MaxConns,
		Log:      log.New().WithField("system", "api"),
	})

	listener, err := net.Listen("tcp", cfg.Api.Listen)
	if err != nil {
		return errors.Errorf("Could not listen on %v: %v", cfg.Api.Listen, err)
	}

	go func() {
		log.Infof("Serving api on %v", listener.Addr())

		err := a.Serve(listener)
		if err != nil {
			log.Errorf("Could not serve api: %v", err)
		}
	}()

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := a.Shutdown(ctx)
		if err != nil {
			log.Errorf("Could not properly shut down api: %v", err)
		} else {
			log.Infof("Stopped api.")
		}
	}()

	if cfg.Update {
		err := manager.StartUpdate()
		if err != nil {
			return errors.Errorf("Could not start update: %v", err)
		}
	}

	// blocks until interrupted
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	sig := <-signals
	log.Info(sig)
	log.Info("Received an interrupt, stopping sweetfw...")

	// finish with no error
	return nil
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := sweetfwMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			log.WithError(err).Println("Failed running sweetfw.")
		}
		os.Exit(1)
	}
}
