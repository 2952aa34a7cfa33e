package mock

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/sweetfw/updater"
	"gopkg.in/yaml.v3"
)

// Delays between the steps of the simulated collaborators.
type Delays struct {
	Check   time.Duration `yaml:"check"`
	Tick    time.Duration `yaml:"tick"`
	Unpack  time.Duration `yaml:"unpack"`
	Store   time.Duration `yaml:"store"`
	Upload  time.Duration `yaml:"upload"`
	Install time.Duration `yaml:"install"`
}

// Scenario describes how the simulated collaborators behave.
type Scenario struct {
	// CurrentVersion is the installed version, none if nil.
	CurrentVersion *int   `yaml:"current_version"`
	NewVersion     int    `yaml:"new_version"`
	DownloadDir    string `yaml:"download_dir"`
	// Progress is reported by downloads and uploads before completing.
	Progress []int `yaml:"progress"`
	// Payload is written to the download path when set.
	Payload     string `yaml:"payload"`
	DeviceReady bool   `yaml:"device_ready"`
	Delays      Delays `yaml:"delays"`
	// Failures arms errors by collaborator (remote, validator, datastore,
	// device) before the first run.
	Failures map[string]string `yaml:"failures"`
}

// DefaultScenario updates from v.3 to v.4 at the pace of a slow device.
func DefaultScenario() *Scenario {
	current := 3

	return &Scenario{
		CurrentVersion: &current,
		NewVersion:     4,
		DownloadDir:    filepath.Join(os.TempDir(), "sweetfw"),
		Progress:       []int{95, 96, 97, 98, 99},
		Payload:        "sweetfw firmware v.4\n",
		DeviceReady:    true,
		Delays: Delays{
			Check:   3 * time.Second,
			Tick:    time.Second,
			Unpack:  time.Second,
			Store:   2 * time.Second,
			Upload:  time.Second,
			Install: 5 * time.Second,
		},
	}
}

// LoadScenario reads a YAML scenario. Fields missing from the file keep
// the values of DefaultScenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("Could not read scenario: %v", err)
	}

	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	scenario := DefaultScenario()

	err := yaml.Unmarshal(data, scenario)
	if err != nil {
		return nil, errors.Errorf("Could not parse scenario: %v", err)
	}

	for target, name := range scenario.Failures {
		if _, err := updater.ParseError(name); err != nil {
			return nil, errors.Errorf("Invalid failure for %v: %v", target, err)
		}

		switch target {
		case "remote", "validator", "datastore", "device":
		default:
			return nil, errors.Errorf("Unknown collaborator %q", target)
		}
	}

	return scenario, nil
}

// Arm injects the failures of the scenario into the collaborators.
func (s *Scenario) Arm(collaborators map[string]updater.Injector) {
	for target, name := range s.Failures {
		kind, err := updater.ParseError(name)
		if err != nil {
			continue
		}

		if c, ok := collaborators[target]; ok {
			c.InjectError(kind)
		}
	}
}
