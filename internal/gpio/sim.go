package gpio

import (
	"fmt"
	"sync"
)

// Sim is an in-memory device. Inputs are set with SetInput, outputs are
// recorded for inspection. Safe for concurrent use.
type Sim struct {
	mu        sync.Mutex
	in        Inputs
	contactor bool
	led       bool
	writes    int
	closed    bool

	// ReadError, if set, will be returned by Read().
	ReadError error

	// WriteError, if set, will be returned by Write().
	WriteError error
}

// NewSim creates a simulated device with all lines low.
func NewSim() *Sim {
	return &Sim{}
}

// Read returns the injected input levels.
func (s *Sim) Read() (Inputs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadError != nil {
		return Inputs{}, s.ReadError
	}
	return s.in, nil
}

// Write records an output level.
func (s *Sim) Write(sig Signal, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	switch sig {
	case Contactor:
		s.contactor = on
	case LED:
		s.led = on
	default:
		return fmt.Errorf("write %s: %w", sig, ErrUnknownSignal)
	}
	s.writes++
	return nil
}

// SetInput sets an input level as if the line had changed.
func (s *Sim) SetInput(sig Signal, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch sig {
	case PilotOK:
		s.in.PilotOK = on
	case Fault:
		s.in.Fault = on
	case Button:
		s.in.Button = on
	default:
		return fmt.Errorf("set input %s: %w", sig, ErrUnknownSignal)
	}
	return nil
}

// Output returns the last level written to an output.
func (s *Sim) Output(sig Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch sig {
	case Contactor:
		return s.contactor
	case LED:
		return s.led
	}
	return false
}

// Writes returns the number of successful writes.
func (s *Sim) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Close de-energizes the outputs and marks the device closed.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactor = false
	s.led = false
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
