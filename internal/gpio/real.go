//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Real drives actual hardware using the Linux GPIO character device.
type Real struct {
	chip      *gpiocdev.Chip
	pilot     *gpiocdev.Line
	fault     *gpiocdev.Line
	button    *gpiocdev.Line
	contactor *gpiocdev.Line
	led       *gpiocdev.Line
}

// NewReal requests the five lines on the named chip (e.g. "gpiochip0").
// Outputs start low so the contactor is open until the controller decides otherwise.
func NewReal(chipName string, pins Pins) (*Real, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &Real{chip: chip}

	inputs := []struct {
		sig  Signal
		pin  int
		line **gpiocdev.Line
	}{
		{PilotOK, pins.PilotOK, &r.pilot},
		{Fault, pins.Fault, &r.fault},
		{Button, pins.Button, &r.button},
	}
	for _, in := range inputs {
		line, err := chip.RequestLine(in.pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", in.sig, in.pin, err)
		}
		*in.line = line
	}

	outputs := []struct {
		sig  Signal
		pin  int
		line **gpiocdev.Line
	}{
		{Contactor, pins.Contactor, &r.contactor},
		{LED, pins.LED, &r.led},
	}
	for _, out := range outputs {
		line, err := chip.RequestLine(out.pin, gpiocdev.AsOutput(0))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", out.sig, out.pin, err)
		}
		*out.line = line
	}

	return r, nil
}

// Read returns the logical input levels (active high).
func (r *Real) Read() (Inputs, error) {
	var in Inputs
	var err error
	if in.PilotOK, err = readLine(r.pilot); err != nil {
		return Inputs{}, fmt.Errorf("read %s: %w", PilotOK, err)
	}
	if in.Fault, err = readLine(r.fault); err != nil {
		return Inputs{}, fmt.Errorf("read %s: %w", Fault, err)
	}
	if in.Button, err = readLine(r.button); err != nil {
		return Inputs{}, fmt.Errorf("read %s: %w", Button, err)
	}
	return in, nil
}

func readLine(l *gpiocdev.Line) (bool, error) {
	v, err := l.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Write drives an output line.
func (r *Real) Write(sig Signal, on bool) error {
	var line *gpiocdev.Line
	switch sig {
	case Contactor:
		line = r.contactor
	case LED:
		line = r.led
	default:
		return fmt.Errorf("write %s: %w", sig, ErrUnknownSignal)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("write %s: %w", sig, err)
	}
	return nil
}

// Close drives the outputs low, then releases every line and the chip.
func (r *Real) Close() error {
	var errs []error

	for _, out := range []struct {
		sig  Signal
		line *gpiocdev.Line
	}{{Contactor, r.contactor}, {LED, r.led}} {
		if out.line == nil {
			continue
		}
		if err := out.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", out.sig, err))
		}
	}

	for _, l := range []*gpiocdev.Line{r.pilot, r.fault, r.button, r.contactor, r.led} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", l.Offset(), err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
