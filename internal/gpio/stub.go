//go:build !linux

package gpio

import "errors"

// Real is not available on non-Linux platforms.
type Real struct{}

// NewReal returns an error on non-Linux platforms.
func NewReal(chipName string, pins Pins) (*Real, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *Real) Read() (Inputs, error) {
	return Inputs{}, errors.New("gpio: not supported")
}

// Write is not implemented on non-Linux platforms.
func (r *Real) Write(sig Signal, on bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *Real) Close() error {
	return nil
}
