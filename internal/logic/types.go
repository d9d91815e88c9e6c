// Package logic contains the pure control logic of the charge station:
// the button debounce filter, the charge state machine and the LED pattern
// generator. This package has NO external dependencies (no GPIO, MQTT, OS,
// logging or time.Sleep). Time is always injectable via time.Time parameters.
package logic

import (
	"strings"
	"time"
)

// State is the charging lifecycle state.
type State string

const (
	StateIdle     State = "IDLE"
	StateReady    State = "READY"
	StateCharging State = "CHARGING"
	StateFault    State = "FAULT"
)

// States lists every state in lifecycle order.
var States = []State{StateIdle, StateReady, StateCharging, StateFault}

// LedMode is the requested visual pattern of the status LED.
type LedMode string

const (
	LedOff   LedMode = "OFF"
	LedSlow  LedMode = "SLOW"  // 1 Hz, 500ms on / 500ms off
	LedFast  LedMode = "FAST"  // 4 Hz, 125ms on / 125ms off
	LedFault LedMode = "FAULT" // double flash once per second
	LedOn    LedMode = "ON"
)

// LedModes lists every LED mode.
var LedModes = []LedMode{LedOff, LedSlow, LedFast, LedFault, LedOn}

// ParseLedMode converts a mode token (case-insensitive) into a LedMode.
func ParseLedMode(s string) (LedMode, bool) {
	m := LedMode(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range LedModes {
		if m == known {
			return m, true
		}
	}
	return "", false
}

// Input is a single sample of the digital inputs.
type Input struct {
	PilotOK bool // vehicle connected and ready
	Fault   bool // fault line asserted
	Button  bool // raw (undebounced) start button level
}

// Outputs are the fixed outputs associated with a state.
type Outputs struct {
	Contactor bool
	LED       LedMode
}

// Reason names what triggered a transition.
type Reason string

const (
	ReasonStartup    Reason = "STARTUP"
	ReasonFaultEdge  Reason = "FAULT_RISING"
	ReasonPilotRise  Reason = "PILOT_RISING"
	ReasonPilotFall  Reason = "PILOT_FALLING"
	ReasonButton     Reason = "BUTTON"
	ReasonFaultReset Reason = "FAULT_RESET"
)

// Transition describes a state change produced by a single Step.
type Transition struct {
	Timestamp time.Time
	From      State
	To        State
	Reason    Reason
	Contactor bool
}

// Counts tracks the number of times each state has been entered since startup.
type Counts struct {
	Idle     int
	Ready    int
	Charging int
	Fault    int
}

func (c *Counts) add(s State) {
	switch s {
	case StateIdle:
		c.Idle++
	case StateReady:
		c.Ready++
	case StateCharging:
		c.Charging++
	case StateFault:
		c.Fault++
	}
}
