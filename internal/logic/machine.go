package logic

import "time"

// Result is the outcome of a single Machine.Step.
type Result struct {
	// Contactor is the contactor command after the step.
	Contactor bool
	// LED is the mode implied by the current state. It is a request for the
	// LED generator only when Transition is non-nil.
	LED LedMode
	// Transition is set when the state changed during the step.
	Transition *Transition
}

// Machine is the charge state machine.
// Not safe for concurrent use; the caller sequences Step calls.
type Machine struct {
	state     State
	button    *Debouncer
	pilotPrev bool
	faultPrev bool
	contactor bool
	counts    Counts
	enteredAt time.Time
}

// NewMachine creates a machine in Idle with the contactor open.
func NewMachine(debounce time.Duration, now time.Time) *Machine {
	m := &Machine{
		state:     StateIdle,
		button:    NewDebouncer(debounce),
		enteredAt: now,
	}
	m.counts.add(StateIdle)
	return m
}

// OutputsFor returns the fixed outputs of a state. fault is the current level
// of the fault line; it only matters for Charging.
func OutputsFor(s State, fault bool) Outputs {
	switch s {
	case StateIdle:
		return Outputs{Contactor: false, LED: LedSlow}
	case StateReady:
		return Outputs{Contactor: false, LED: LedOn}
	case StateCharging:
		return Outputs{Contactor: !fault, LED: LedFast}
	case StateFault:
		return Outputs{Contactor: false, LED: LedFault}
	default:
		panic("logic: unknown state " + string(s))
	}
}

// Step consumes one input sample and advances the machine.
func (m *Machine) Step(in Input, now time.Time) Result {
	m.button.Update(in.Button, now)

	faultRise := in.Fault && !m.faultPrev
	pilotRise := in.PilotOK && !m.pilotPrev
	pilotFall := !in.PilotOK && m.pilotPrev

	var tr *Transition

	if faultRise {
		// Highest priority, from any state.
		tr = m.enter(StateFault, ReasonFaultEdge, in.Fault, now)
		m.contactor = false
	} else {
		switch m.state {
		case StateIdle:
			if pilotRise {
				tr = m.enter(StateReady, ReasonPilotRise, in.Fault, now)
			}
		case StateReady:
			if m.button.RisingEdge() {
				tr = m.enter(StateCharging, ReasonButton, in.Fault, now)
			} else if pilotFall {
				tr = m.enter(StateIdle, ReasonPilotFall, in.Fault, now)
			}
		case StateCharging:
			if pilotFall {
				tr = m.enter(StateIdle, ReasonPilotFall, in.Fault, now)
			} else if in.Fault {
				// Interlock: drop the contactor but stay in Charging.
				m.contactor = false
			}
		case StateFault:
			if !in.Fault && m.button.RisingEdge() {
				tr = m.enter(StateIdle, ReasonFaultReset, in.Fault, now)
			}
		default:
			panic("logic: unknown state " + string(m.state))
		}
	}

	m.pilotPrev = in.PilotOK
	m.faultPrev = in.Fault

	return Result{
		Contactor:  m.contactor,
		LED:        OutputsFor(m.state, in.Fault).LED,
		Transition: tr,
	}
}

// enter switches to s and applies its outputs. Re-entering the current state
// is a no-op and returns nil.
func (m *Machine) enter(s State, reason Reason, fault bool, now time.Time) *Transition {
	if s == m.state {
		return nil
	}
	from := m.state
	m.state = s
	m.enteredAt = now
	m.contactor = OutputsFor(s, fault).Contactor
	m.counts.add(s)
	return &Transition{
		Timestamp: now,
		From:      from,
		To:        s,
		Reason:    reason,
		Contactor: m.contactor,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Contactor returns the current contactor command.
func (m *Machine) Contactor() bool {
	return m.contactor
}

// Button returns the debounced button level.
func (m *Machine) Button() bool {
	return m.button.Level()
}

// EnteredAt returns when the current state was entered.
func (m *Machine) EnteredAt() time.Time {
	return m.enteredAt
}

// Counts returns how many times each state has been entered.
func (m *Machine) Counts() Counts {
	return m.counts
}
