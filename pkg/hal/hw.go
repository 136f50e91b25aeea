package hal

import (
	"fmt"
	"time"
)

// ChipMode is one of the four operating modes selected with the M0 and M1 lines
type ChipMode int

const (
	ModeNormal ChipMode = iota
	ModeWakeOnRadio
	ModeConfig
	ModeSleep
)

var chipModeNames = map[ChipMode]string{
	ModeNormal:      "Normal",
	ModeWakeOnRadio: "WakeOnRadio",
	ModeConfig:      "Config",
	ModeSleep:       "Sleep",
}

func (m ChipMode) String() string {
	if name, ok := chipModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ChipMode(%d)", int(m))
}

// ChipModes lists every supported mode in table order
func ChipModes() []ChipMode {
	return []ChipMode{ModeNormal, ModeWakeOnRadio, ModeConfig, ModeSleep}
}

// LineID identifies one of the module control lines
type LineID int

const (
	LineM0 LineID = iota
	LineM1
	LineAUX
)

func (l LineID) String() string {
	switch l {
	case LineM0:
		return "M0"
	case LineM1:
		return "M1"
	case LineAUX:
		return "AUX"
	}
	return fmt.Sprintf("Line(%d)", int(l))
}

// Level is a digital line level
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// ControlLines gives access to the two mode select outputs (M0, M1) and the AUX status input
type ControlLines interface {
	SetOutput(line LineID, level Level) error
	ReadInput(line LineID) (Level, error)
	Close() error
}

// Channel is an open, exclusive byte stream to the module UART
type Channel interface {
	Write(p []byte) (int, error)
	// ReadAvailable returns whatever is buffered right now, possibly nothing. It never blocks.
	ReadAvailable() ([]byte, error)
	BytesWaiting() (int, error)
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Close() error
}

// Opener opens channels. The bit timing of a channel is fixed for its lifetime,
// a different baud rate always needs a new channel.
type Opener interface {
	Open(path string, baudRate int, readTimeout time.Duration) (Channel, error)
}
