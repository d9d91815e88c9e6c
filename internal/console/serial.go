package console

import (
	"fmt"

	"go.bug.st/serial.v1"
)

// DefaultBaud is the UART speed used when none is configured.
const DefaultBaud = 115200

// OpenSerial opens a UART at 8N1.
func OpenSerial(path string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return port, nil
}
