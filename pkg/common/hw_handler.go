package common

import (
	"fmt"
	"sync"

	"github.com/warthog618/gpiod"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

// GPIOLines drives M0, M1 and samples AUX through the Linux GPIO character device
type GPIOLines struct {
	chip    *gpiod.Chip
	M0Line  *gpiod.Line // M0 GPIO Pin
	M1Line  *gpiod.Line // M1 GPIO Pin
	AUXLine *gpiod.Line // AUX GPIO Pin
	mu      sync.Mutex  // lines are requested and released as one resource
	closed  bool
}

// NewGPIOLines requests the three lines on gpioChip. M0 and M1 start low (Normal mode).
func NewGPIOLines(gpioChip string, M0Pin int, M1Pin int, AUXPin int) (*GPIOLines, error) {
	c, err := gpiod.NewChip(gpioChip, gpiod.WithConsumer("as32-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to create GPIO chip: %w", err)
	}
	lines := &GPIOLines{chip: c}

	lines.AUXLine, err = c.RequestLine(AUXPin, gpiod.AsInput)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to request AUX GPIO line: %w", err)
	}

	lines.M0Line, err = c.RequestLine(M0Pin, gpiod.AsOutput(0))
	if err != nil {
		lines.release()
		return nil, fmt.Errorf("failed to request M0 GPIO line: %w", err)
	}

	lines.M1Line, err = c.RequestLine(M1Pin, gpiod.AsOutput(0))
	if err != nil {
		lines.release()
		return nil, fmt.Errorf("failed to request M1 GPIO line: %w", err)
	}
	return lines, nil
}

func (obj *GPIOLines) line(id hal.LineID) (*gpiod.Line, error) {
	switch id {
	case hal.LineM0:
		return obj.M0Line, nil
	case hal.LineM1:
		return obj.M1Line, nil
	case hal.LineAUX:
		return obj.AUXLine, nil
	}
	return nil, fmt.Errorf("unknown control line %d", id)
}

func (obj *GPIOLines) SetOutput(id hal.LineID, level hal.Level) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.closed {
		return hal.ErrLinesClosed
	}
	if id == hal.LineAUX {
		return fmt.Errorf("failed to set %s line: line is an input", id)
	}
	l, err := obj.line(id)
	if err != nil {
		return err
	}
	err = l.SetValue(int(level))
	if err != nil {
		return fmt.Errorf("failed to set %s line to %s: %w", id, level, err)
	}
	return nil
}

func (obj *GPIOLines) ReadInput(id hal.LineID) (hal.Level, error) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.closed {
		return hal.Low, hal.ErrLinesClosed
	}
	l, err := obj.line(id)
	if err != nil {
		return hal.Low, err
	}
	val, err := l.Value()
	if err != nil {
		return hal.Low, fmt.Errorf("failed to get %s line value: %w", id, err)
	}
	if val == 1 {
		return hal.High, nil
	}
	return hal.Low, nil
}

// Close releases the lines. The outputs keep their last driven levels on most boards.
func (obj *GPIOLines) Close() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.closed {
		return nil
	}
	obj.closed = true
	return obj.release()
}

func (obj *GPIOLines) release() (err error) {
	for _, l := range []*gpiod.Line{obj.M0Line, obj.M1Line, obj.AUXLine} {
		if l == nil {
			continue
		}
		if cerr := l.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close GPIO line: %w", cerr)
		}
	}
	if cerr := obj.chip.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close GPIO chip: %w", cerr)
	}
	return err
}

// HWHandler bundles everything needed to talk to one module on a Raspberry Pi style host
type HWHandler struct {
	TTY    string        // serial port name
	Lines  *GPIOLines    // M0, M1, AUX
	Opener *SerialOpener // opens the UART at any baud rate
}

// NewHWHandler claims the control lines. The serial port is opened later, per baud rate.
func NewHWHandler(M0Pin int, M1Pin int, AUXPin int, ttyName string, gpioChip string) (*HWHandler, error) {
	lines, err := NewGPIOLines(gpioChip, M0Pin, M1Pin, AUXPin)
	if err != nil {
		return nil, err
	}
	return &HWHandler{
		TTY:    ttyName,
		Lines:  lines,
		Opener: NewSerialOpener(),
	}, nil
}

// Close releases the control lines
func (obj *HWHandler) Close() error {
	return obj.Lines.Close()
}
