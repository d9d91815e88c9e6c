// Package station runs the charge controller against a digital I/O device.
//
// A Station owns the state machine, the LED generator and the device. Tick and
// every command-surface operation take the same mutex, so a tick never sees a
// half-applied command and commands are ordered relative to ticks.
package station

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/charge-controller/internal/gpio"
	"github.com/sweeney/charge-controller/internal/logic"
)

// ErrNotInjectable is returned by SetInput when the device has real inputs.
var ErrNotInjectable = errors.New("device does not accept simulated inputs")

// IO is the level of every line as seen by the controller.
type IO struct {
	PilotOK   bool
	Fault     bool
	Button    bool
	Contactor bool
	LED       bool
}

// View is a point-in-time copy of the controller state.
type View struct {
	State        logic.State
	Since        time.Time
	IO           IO
	LEDMode      logic.LedMode
	LEDRequested logic.LedMode
	Override     bool
	Counts       logic.Counts
}

// Station sequences the control loop and the command surface.
type Station struct {
	mu      sync.Mutex
	dev     gpio.Device
	clock   func() time.Time
	machine *logic.Machine
	led     *logic.LED

	inputs    gpio.Inputs
	contactor bool
	ledLevel  bool
	written   map[gpio.Signal]bool

	listeners []func(logic.Transition)
}

// New creates a station in Idle and applies Idle's outputs to the device.
// clock is used to timestamp commands that arrive between ticks.
func New(dev gpio.Device, debounce time.Duration, clock func() time.Time) (*Station, error) {
	now := clock()
	s := &Station{
		dev:     dev,
		clock:   clock,
		machine: logic.NewMachine(debounce, now),
		led:     logic.NewLED(now),
		written: make(map[gpio.Signal]bool),
	}

	out := logic.OutputsFor(logic.StateIdle, false)
	s.led.Request(out.LED, now)
	err := errors.Join(
		s.write(gpio.Contactor, out.Contactor),
		s.write(gpio.LED, s.led.Step(now)),
	)
	if err != nil {
		return s, fmt.Errorf("apply startup outputs: %w", err)
	}
	return s, nil
}

// OnTransition registers fn to be called after every state change.
// Listeners run on the ticking goroutine, outside the station lock.
func (s *Station) OnTransition(fn func(logic.Transition)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Tick runs one sample: state machine first, then the LED generator.
// A read error skips the tick; write errors are returned after the tick
// completes and the write is retried on the next tick.
func (s *Station) Tick(now time.Time) error {
	s.mu.Lock()

	in, err := s.dev.Read()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("read inputs: %w", err)
	}
	s.inputs = in

	res := s.machine.Step(logic.Input{
		PilotOK: in.PilotOK,
		Fault:   in.Fault,
		Button:  in.Button,
	}, now)
	if res.Transition != nil {
		s.led.Request(res.LED, now)
	}

	werr := errors.Join(
		s.write(gpio.Contactor, res.Contactor),
		s.write(gpio.LED, s.led.Step(now)),
	)

	var listeners []func(logic.Transition)
	if res.Transition != nil {
		listeners = append(listeners, s.listeners...)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(*res.Transition)
	}
	return werr
}

// write drives sig only when the level differs from the last successful write.
// Caller holds s.mu.
func (s *Station) write(sig gpio.Signal, on bool) error {
	if last, ok := s.written[sig]; ok && last == on {
		return nil
	}
	if err := s.dev.Write(sig, on); err != nil {
		return fmt.Errorf("write %s: %w", sig, err)
	}
	s.written[sig] = on
	switch sig {
	case gpio.Contactor:
		s.contactor = on
	case gpio.LED:
		s.ledLevel = on
	}
	return nil
}

// State returns the current charge state.
func (s *Station) State() logic.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// IO returns the current line levels. Inputs are read from the device so
// a simulated change is visible before the next tick.
func (s *Station) IO() IO {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioLocked()
}

func (s *Station) ioLocked() IO {
	in, err := s.dev.Read()
	if err != nil {
		in = s.inputs
	}
	return IO{
		PilotOK:   in.PilotOK,
		Fault:     in.Fault,
		Button:    in.Button,
		Contactor: s.contactor,
		LED:       s.ledLevel,
	}
}

// ForceLED sets a manual LED override.
func (s *Station) ForceLED(mode logic.LedMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.led.Force(mode, s.clock())
}

// ClearLED removes the manual LED override.
func (s *Station) ClearLED() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.led.ClearForce(s.clock())
}

// SetInput injects an input level on a simulated device.
func (s *Station) SetInput(sig gpio.Signal, on bool) error {
	inj, ok := s.dev.(gpio.Injector)
	if !ok {
		return ErrNotInjectable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return inj.SetInput(sig, on)
}

// Injectable reports whether SetInput is supported by the device.
func (s *Station) Injectable() bool {
	_, ok := s.dev.(gpio.Injector)
	return ok
}

// View returns a consistent copy of the controller state.
func (s *Station) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, overridden := s.led.Override()
	return View{
		State:        s.machine.State(),
		Since:        s.machine.EnteredAt(),
		IO:           s.ioLocked(),
		LEDMode:      s.led.Mode(),
		LEDRequested: s.led.Requested(),
		Override:     overridden,
		Counts:       s.machine.Counts(),
	}
}
