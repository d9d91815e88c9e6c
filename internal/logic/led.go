package logic

import "time"

// Blink periods: time between toggles.
const (
	SlowToggle = 500 * time.Millisecond
	FastToggle = 125 * time.Millisecond
)

type faultSegment struct {
	duration time.Duration
	level    bool
}

// faultPattern is the double flash: wait, flash, gap, flash, rest.
var faultPattern = [...]faultSegment{
	{200 * time.Millisecond, false},
	{100 * time.Millisecond, true},
	{100 * time.Millisecond, false},
	{100 * time.Millisecond, true},
	{500 * time.Millisecond, false},
}

// FaultCycle is the total period of the fault pattern.
const FaultCycle = 1000 * time.Millisecond

// LED generates the status LED level from the active mode and elapsed time.
// Not safe for concurrent use.
type LED struct {
	requested  LedMode
	forced     LedMode
	overridden bool

	active     LedMode
	level      bool
	phase      int
	phaseStart time.Time
}

// NewLED creates a generator with the LED off.
func NewLED(now time.Time) *LED {
	l := &LED{requested: LedOff}
	l.apply(LedOff, now)
	return l
}

// Request records the mode implied by the state machine. It becomes active
// immediately unless a manual override is in place.
func (l *LED) Request(mode LedMode, now time.Time) {
	l.requested = mode
	if !l.overridden {
		l.apply(mode, now)
	}
}

// Force sets a manual override that wins over Request until ClearForce.
func (l *LED) Force(mode LedMode, now time.Time) {
	l.forced = mode
	l.overridden = true
	l.apply(mode, now)
}

// ClearForce drops the manual override and reverts to the last requested mode.
func (l *LED) ClearForce(now time.Time) {
	if !l.overridden {
		return
	}
	l.overridden = false
	l.forced = ""
	l.apply(l.requested, now)
}

// apply makes mode active and restarts its timing from now.
func (l *LED) apply(mode LedMode, now time.Time) {
	l.active = mode
	l.phase = 0
	l.phaseStart = now
	l.level = mode == LedOn
}

// Step advances the pattern to now and returns the LED level.
func (l *LED) Step(now time.Time) bool {
	switch l.active {
	case LedOff:
		l.level = false
	case LedOn:
		l.level = true
	case LedSlow:
		l.toggle(now, SlowToggle)
	case LedFast:
		l.toggle(now, FastToggle)
	case LedFault:
		l.stepFault(now)
	default:
		panic("logic: unknown led mode " + string(l.active))
	}
	return l.level
}

// stepFault walks the pattern forward to now, however late the sample is.
// Whole cycles are skipped at once; they leave the phase unchanged.
func (l *LED) stepFault(now time.Time) {
	if elapsed := now.Sub(l.phaseStart); elapsed >= FaultCycle {
		l.phaseStart = l.phaseStart.Add(elapsed / FaultCycle * FaultCycle)
	}
	for now.Sub(l.phaseStart) >= faultPattern[l.phase].duration {
		l.phaseStart = l.phaseStart.Add(faultPattern[l.phase].duration)
		l.phase = (l.phase + 1) % len(faultPattern)
	}
	l.level = faultPattern[l.phase].level
}

func (l *LED) toggle(now time.Time, period time.Duration) {
	if now.Sub(l.phaseStart) >= period {
		l.level = !l.level
		l.phaseStart = advance(l.phaseStart, period, now)
	}
}

// advance moves a toggle deadline forward by period so sampling jitter does
// not accumulate. After a stall longer than a period it resyncs to now.
func advance(start time.Time, period time.Duration, now time.Time) time.Time {
	s := start.Add(period)
	if now.Sub(s) >= period {
		return now
	}
	return s
}

// Mode returns the active mode (override if set, else the requested mode).
func (l *LED) Mode() LedMode {
	return l.active
}

// Requested returns the last mode requested by the state machine.
func (l *LED) Requested() LedMode {
	return l.requested
}

// Override returns the forced mode and whether an override is active.
func (l *LED) Override() (LedMode, bool) {
	return l.forced, l.overridden
}

// Level returns the level computed by the last Step.
func (l *LED) Level() bool {
	return l.level
}

// Phase returns the current fault pattern phase (0-4).
func (l *LED) Phase() int {
	return l.phase
}
