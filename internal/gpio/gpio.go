// Package gpio provides the digital I/O of the charge station with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The simulated implementation keeps levels in memory and accepts injected inputs.
package gpio

import (
	"errors"
	"fmt"
	"strings"
)

// Signal names one digital line.
type Signal int

const (
	PilotOK Signal = iota
	Fault
	Button
	Contactor
	LED
)

var signalNames = [...]string{
	PilotOK:   "PILOT_OK",
	Fault:     "FAULT",
	Button:    "BTN",
	Contactor: "CONTACTOR",
	LED:       "LED",
}

// String returns the signal name used by the command interface.
func (s Signal) String() string {
	if s < 0 || int(s) >= len(signalNames) {
		return fmt.Sprintf("Signal(%d)", int(s))
	}
	return signalNames[s]
}

// IsInput reports whether the signal is read by the controller.
func (s Signal) IsInput() bool {
	return s == PilotOK || s == Fault || s == Button
}

// IsOutput reports whether the signal is driven by the controller.
func (s Signal) IsOutput() bool {
	return s == Contactor || s == LED
}

// ErrUnknownSignal is returned for names or signals that are not valid for
// the requested operation.
var ErrUnknownSignal = errors.New("unknown signal")

// ParseInput resolves an input name (case-insensitive).
func ParseInput(name string) (Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for _, s := range []Signal{PilotOK, Fault, Button} {
		if signalNames[s] == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
}

// Inputs is one snapshot of the input lines, in logical form.
type Inputs struct {
	PilotOK bool
	Fault   bool
	Button  bool
}

// Device reads the inputs and drives the outputs.
type Device interface {
	// Read returns the current logical input levels.
	Read() (Inputs, error)

	// Write drives an output line. Writing the current level is a no-op
	// from the hardware's point of view.
	Write(sig Signal, on bool) error

	// Close releases resources and leaves the outputs de-energized.
	Close() error
}

// Injector is implemented by devices whose inputs can be set from software.
type Injector interface {
	SetInput(sig Signal, on bool) error
}

// Pins maps signals to GPIO line offsets (BCM numbering).
type Pins struct {
	PilotOK   int
	Fault     int
	Button    int
	Contactor int
	LED       int
}

// DefaultPins is the reference wiring.
var DefaultPins = Pins{
	PilotOK:   17,
	Fault:     27,
	Button:    22,
	Contactor: 23,
	LED:       24,
}
