package device

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

const (
	DefaultPath     = "/dev/ttyACM1"
	DefaultBaudRate = 9600
)

// Port is the byte sink the writer drives.
type Port interface {
	io.Writer
	Close() error
}

// SerialConfig selects the serial device.
type SerialConfig struct {
	Path     string
	BaudRate int
}

// OpenSerial opens the device in 8N1 mode.
func OpenSerial(cfg SerialConfig) (Port, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Path, mode)
	if err != nil {
		if ports, lerr := serial.GetPortsList(); lerr == nil && len(ports) > 0 {
			return nil, fmt.Errorf("open serial device %s (available: %v): %w", cfg.Path, ports, err)
		}
		return nil, fmt.Errorf("open serial device %s: %w", cfg.Path, err)
	}
	return port, nil
}
