package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
)

const (
	defaultDataDir        = "/var/lib/sweetfw"
	defaultConfigFilename = "sweetfw.conf"
	defaultRemote         = "mock"
	defaultDataStore      = "bolt"
	defaultDevice         = "mock"
	defaultValidator      = "image"
	defaultApiListen      = "localhost:9080"
	defaultApiMaxConns    = 16
	defaultRestartTimeout = time.Minute
	defaultMinFree        = 16 * 1024 * 1024
)

type profilingConfig struct {
	Listen string `long:"listen" description:"Address of the profiling server"`
}

type mockConfig struct {
	Scenario string `long:"scenario" description:"YAML file describing the simulated collaborators"`
}

type deviceConfig struct {
	StagingDir     string        `long:"stagingdir" description:"Directory receiving uploaded images"`
	ImagePath      string        `long:"image" description:"Firmware image of the device, has to exist"`
	MinFree        uint64        `long:"minfree" description:"Free bytes the staging directory needs"`
	ReadyPin       string        `long:"readypin" description:"GPIO the device holds high while it accepts updates"`
	Unit           string        `long:"unit" description:"Systemd unit restarted after an install"`
	RestartTimeout time.Duration `long:"restarttimeout" description:"Time the unit has to become active again"`
}

type validatorConfig struct {
	Constraint string            `long:"constraint" description:"Version constraint firmware has to satisfy, like >= 3"`
	Checksums  map[string]string `long:"checksum" description:"Expected SHA-256 of an unpacked version, like 4:9f86d0..."`
}

type apiConfig struct {
	Listen   string `long:"listen" description:"Address of the http api"`
	MaxConns int    `long:"maxconns" description:"Maximum number of concurrent api connections"`
}

type config struct {
	ShowVersion bool   `short:"v" long:"version" description:"Display version information and exit"`
	Debug       bool   `long:"debug" description:"Start in debug mode"`
	ConfigFile  string `long:"configfile" description:"Path to configuration file"`
	DataDir     string `long:"datadir" description:"The directory to store sweetfw's data within"`
	Update      bool   `long:"update" description:"Start an update run right away"`

	CurrentVersion int `long:"currentversion" description:"Installed firmware version recorded when fw.db holds none yet"`

	Remote    string `long:"remote" description:"Firmware API" choice:"mock"`
	DataStore string `long:"datastore" description:"Storage for versions and firmware files" choice:"mock" choice:"bolt"`
	Device    string `long:"device" description:"Device receiving the firmware" choice:"mock" choice:"local"`
	Validator string `long:"validator" description:"Validation of downloaded firmware" choice:"mock" choice:"image"`

	Profiling *profilingConfig `group:"Profiling" namespace:"profiling"`
	Mock      *mockConfig      `group:"Mock" namespace:"mock"`
	Dev       *deviceConfig    `group:"Device" namespace:"device"`
	Val       *validatorConfig `group:"Validator" namespace:"validator"`
	Api       *apiConfig       `group:"API" namespace:"api"`
}

// loadConfig parses the command line once to find the config file, reads
// that file and parses the command line again so flags take precedence.
func loadConfig() (*config, error) {
	defaultCfg := func() config {
		return config{
			DataDir:   defaultDataDir,
			Remote:    defaultRemote,
			DataStore: defaultDataStore,
			Device:    defaultDevice,
			Validator: defaultValidator,
			Profiling: &profilingConfig{},
			Mock:      &mockConfig{},
			Dev: &deviceConfig{
				MinFree:        defaultMinFree,
				RestartTimeout: defaultRestartTimeout,
			},
			Val: &validatorConfig{},
			Api: &apiConfig{
				Listen:   defaultApiListen,
				MaxConns: defaultApiMaxConns,
			},
		}
	}

	preCfg := defaultCfg()

	_, err := flags.NewParser(&preCfg, flags.Default|flags.IgnoreUnknown).Parse()
	if err != nil {
		return nil, err
	}

	cfg := defaultCfg()
	parser := flags.NewParser(&cfg, flags.Default)

	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(preCfg.DataDir, defaultConfigFilename)
	}

	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		// the default config file is optional
		if _, ok := err.(*os.PathError); !ok || preCfg.ConfigFile != "" {
			return nil, err
		}
	}

	_, err = parser.Parse()
	if err != nil {
		return nil, err
	}

	if cfg.Dev.StagingDir == "" {
		cfg.Dev.StagingDir = filepath.Join(cfg.DataDir, "staging")
	}

	return &cfg, nil
}
