package actuator

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// ErrWriteFailed is returned when the relay board accepted fewer bytes than
// the command holds.
var ErrWriteFailed = errors.New("failed to write to relay port")

// Port is the minimal surface SerialDriver needs from a serial port. It lets
// tests stand in for real hardware.
type Port interface {
	io.Writer
	io.Closer
}

// PortOptions describes the serial line to the relay board.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

// Normalize validates the options and fills defaults (9600 8N1).
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch p := strings.ToUpper(strings.TrimSpace(opts.Parity)); p {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialDriver switches relay channels on a board that takes line commands
// of the form "P<pin>=<0|1>\n".
type SerialDriver struct {
	mu   sync.Mutex
	port Port
}

// NewSerialDriver drives an already opened port.
func NewSerialDriver(port Port) *SerialDriver {
	return &SerialDriver{port: port}
}

// OpenSerialDriver opens the relay board at path.
func OpenSerialDriver(path string, opts PortOptions) (*SerialDriver, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open relay port %s: %w", path, err)
	}
	return NewSerialDriver(port), nil
}

// Set writes one relay command.
func (d *SerialDriver) Set(pin Pin, level Level) error {
	var bit byte
	switch level {
	case Low:
		bit = '0'
	case High:
		bit = '1'
	default:
		return fmt.Errorf("invalid level %v", level)
	}
	command := fmt.Sprintf("P%d=%c\n", pin, bit)

	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Close closes the underlying port.
func (d *SerialDriver) Close() error {
	return d.port.Close()
}
