// Package controller reads button and encoder input from serial hardware
// controllers, falling back to the keyboard when no hardware is available.
package controller

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 100 * time.Millisecond

	// signalSettle is how long DTR/RTS changes are given to propagate.
	// Bluetooth serial bridges drop the link without it.
	signalSettle = 50 * time.Millisecond
)

// Port is the subset of serial.Port a Controller needs.
type Port interface {
	io.Reader
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Close() error
}

// Opener opens a named port at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// OpenSerial opens a real serial port. DTR and RTS start low and are raised
// once the port is open. Reads time out after DefaultReadTimeout so the
// reader can notice Close.
func OpenSerial(name string, baud int) (Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	p, err := serial.Open(name, &serial.Mode{
		BaudRate:          baud,
		InitialStatusBits: &serial.ModemOutputBits{DTR: false, RTS: false},
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	if err := p.SetReadTimeout(DefaultReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", name, err)
	}

	time.Sleep(signalSettle)
	if err := p.SetDTR(true); err != nil {
		p.Close()
		return nil, fmt.Errorf("raising DTR on %s: %w", name, err)
	}
	if err := p.SetRTS(true); err != nil {
		p.Close()
		return nil, fmt.Errorf("raising RTS on %s: %w", name, err)
	}
	return p, nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
