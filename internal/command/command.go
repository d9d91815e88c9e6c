// Package command implements the line-oriented text interface of the station.
//
//	GET STATE
//	GET IO
//	SET LED <OFF|SLOW|FAST|FAULT|ON>
//	SET IN <PILOT_OK|FAULT|BTN> <0|1>
//	CLEAR LED
//	HELP
//
// Commands are case-insensitive. Every error is local: it is rendered as a
// response line and never touches controller state.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/charge-controller/internal/gpio"
	"github.com/sweeney/charge-controller/internal/logic"
	"github.com/sweeney/charge-controller/internal/station"
)

var (
	ErrInvalidInputName  = errors.New("invalid input")
	ErrInvalidInputValue = errors.New("value must be 0 or 1")
	ErrInvalidLedMode    = errors.New("invalid LED mode")
	ErrUnknownCommand    = errors.New("unknown command")
)

// Controller is the part of the station the interpreter drives.
type Controller interface {
	State() logic.State
	IO() station.IO
	ForceLED(mode logic.LedMode)
	ClearLED()
	SetInput(sig gpio.Signal, on bool) error
}

// Interpreter parses and executes command lines.
type Interpreter struct {
	ctl Controller
}

// New creates an interpreter bound to ctl.
func New(ctl Controller) *Interpreter {
	return &Interpreter{ctl: ctl}
}

// Execute runs one command line and returns its response.
// A blank line returns an empty response and no error.
func (i *Interpreter) Execute(line string) (string, error) {
	parts := strings.Fields(strings.ToUpper(line))
	if len(parts) == 0 {
		return "", nil
	}

	switch {
	case match(parts, "GET", "STATE"):
		return "STATE: " + string(i.ctl.State()), nil

	case match(parts, "GET", "IO"):
		return FormatIO(i.ctl.IO()), nil

	case len(parts) >= 2 && parts[0] == "SET" && parts[1] == "LED":
		return i.setLED(parts[2:])

	case len(parts) >= 2 && parts[0] == "SET" && parts[1] == "IN":
		return i.setInput(parts[2:])

	case match(parts, "CLEAR", "LED"):
		i.ctl.ClearLED()
		return "LED override cleared", nil

	case match(parts, "HELP"):
		return HelpText, nil
	}

	return "", fmt.Errorf("%w: %q (type HELP for the command list)", ErrUnknownCommand, strings.TrimSpace(line))
}

// Handle runs one command line and always returns a printable response.
func (i *Interpreter) Handle(line string) string {
	resp, err := i.Execute(line)
	if err != nil {
		return "Error: " + err.Error()
	}
	return resp
}

func (i *Interpreter) setLED(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: usage SET LED <OFF|SLOW|FAST|FAULT|ON>", ErrInvalidLedMode)
	}
	mode, ok := logic.ParseLedMode(args[0])
	if !ok {
		return "", fmt.Errorf("%w: %q (options: OFF, SLOW, FAST, FAULT, ON)", ErrInvalidLedMode, args[0])
	}
	i.ctl.ForceLED(mode)
	return "LED forced to " + string(mode), nil
}

func (i *Interpreter) setInput(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: usage SET IN <PILOT_OK|FAULT|BTN> <0|1>", ErrInvalidInputName)
	}
	sig, err := gpio.ParseInput(args[0])
	if err != nil {
		return "", fmt.Errorf("%w: %q (options: PILOT_OK, FAULT, BTN)", ErrInvalidInputName, args[0])
	}
	if len(args) != 2 {
		return "", fmt.Errorf("%w: usage SET IN %s <0|1>", ErrInvalidInputValue, sig)
	}
	v, err := strconv.Atoi(args[1])
	if err != nil || (v != 0 && v != 1) {
		return "", fmt.Errorf("%w: got %q", ErrInvalidInputValue, args[1])
	}
	if err := i.ctl.SetInput(sig, v == 1); err != nil {
		return "", fmt.Errorf("set %s: %w", sig, err)
	}
	return fmt.Sprintf("Input %s set to %d", sig, v), nil
}

func match(parts []string, words ...string) bool {
	if len(parts) != len(words) {
		return false
	}
	for i := range words {
		if parts[i] != words[i] {
			return false
		}
	}
	return true
}

// FormatIO renders line levels as the GET IO response.
func FormatIO(io station.IO) string {
	return fmt.Sprintf("PILOT_OK=%d FAULT=%d BTN=%d CONTACTOR=%d LED=%d",
		bit(io.PilotOK), bit(io.Fault), bit(io.Button), bit(io.Contactor), bit(io.LED))
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// HelpText is the HELP response.
const HelpText = `Commands:
GET STATE                          - show the current state
GET IO                             - show every input and output
SET LED <OFF|SLOW|FAST|FAULT|ON>   - force the LED pattern
SET IN <PILOT_OK|FAULT|BTN> <0|1>  - simulate an input change
CLEAR LED                          - release the forced LED pattern
HELP                               - show this help

States:
IDLE     - contactor off, LED slow blink (1 Hz)
READY    - pilot ok, waiting for the user (LED steady)
CHARGING - contactor on, LED fast blink (4 Hz)
FAULT    - contactor off, LED double flash every second

Transitions:
1. startup -> IDLE
2. IDLE -> READY on PILOT_OK rising
3. READY -> CHARGING on BTN press (debounced 20ms)
4. any state -> FAULT on FAULT rising
5. READY/CHARGING -> IDLE on PILOT_OK falling
6. FAULT -> IDLE when FAULT is clear and BTN is pressed`
