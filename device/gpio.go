package device

import (
	"github.com/go-errors/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// GPIOPin reads the ready line of the device from a GPIO of the host.
type GPIOPin struct {
	pin gpio.PinIO
}

// Compile time check for protocol compatibility
var _ ReadyPin = (*GPIOPin)(nil)

// NewGPIOPin opens the pin with the given name, for example "GPIO17".
func NewGPIOPin(name string) (*GPIOPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Errorf("Could not initialize host: %v", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("Could not find pin %v", name)
	}

	if err := pin.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, errors.Errorf("Could not set up pin %v: %v", name, err)
	}

	return &GPIOPin{pin: pin}, nil
}

func (p *GPIOPin) High() bool {
	return p.pin.Read() == gpio.High
}
