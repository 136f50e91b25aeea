// Package mode switches the module between its operating modes using the M0 and M1
// lines and samples the AUX line for readiness.
package mode

import (
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

const (
	// MinSettleDelay is the shortest time the module firmware needs to notice new line levels
	MinSettleDelay = 100 * time.Millisecond
	// ReadyPollInterval is the AUX sampling period used by WaitReady
	ReadyPollInterval = 10 * time.Millisecond
)

type chipModeLineState struct {
	m0Value hal.Level
	m1Value hal.Level
}

var chipModes = map[hal.ChipMode]chipModeLineState{
	hal.ModeNormal:      {m0Value: hal.Low, m1Value: hal.Low},
	hal.ModeWakeOnRadio: {m0Value: hal.High, m1Value: hal.Low},
	hal.ModeConfig:      {m0Value: hal.Low, m1Value: hal.High},
	hal.ModeSleep:       {m0Value: hal.High, m1Value: hal.High},
}

// Levels returns the M0 and M1 levels that select mode
func Levels(mode hal.ChipMode) (m0 hal.Level, m1 hal.Level, err error) {
	state, ok := chipModes[mode]
	if !ok {
		return hal.Low, hal.Low, fmt.Errorf("%w: %d", hal.ErrUnsupportedMode, mode)
	}
	return state.m0Value, state.m1Value, nil
}

// FromLevels is the inverse of Levels
func FromLevels(m0 hal.Level, m1 hal.Level) (hal.ChipMode, error) {
	for mode, values := range chipModes {
		if values.m0Value == m0 && values.m1Value == m1 {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("chip is in some weird undefined mode (M0=%s, M1=%s). Check connection", m0, m1)
}

// State is the controller's view of the module. Ready is only the last AUX sample.
type State struct {
	Mode  hal.ChipMode
	Ready bool
}

// Controller owns the control lines
type Controller struct {
	lines hal.ControlLines
	state State

	// Settle is how long SetMode blocks after driving the lines, never less than MinSettleDelay
	Settle time.Duration
	// PollInterval is the AUX sampling period, capped at ReadyPollInterval
	PollInterval time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

// NewController wraps lines. The initial mode is assumed to be Normal, which is
// what the lines are driven to when they are claimed.
func NewController(lines hal.ControlLines) *Controller {
	return &Controller{
		lines:        lines,
		state:        State{Mode: hal.ModeNormal},
		Settle:       MinSettleDelay,
		PollInterval: ReadyPollInterval,
		sleep:        time.Sleep,
		now:          time.Now,
	}
}

func (obj *Controller) pause(d time.Duration) {
	if obj.sleep == nil {
		time.Sleep(d)
		return
	}
	obj.sleep(d)
}

func (obj *Controller) clock() time.Time {
	if obj.now == nil {
		return time.Now()
	}
	return obj.now()
}

// State returns the last known module state
func (obj *Controller) State() State {
	return obj.state
}

// SetMode drives both lines for target and waits for the settle delay.
// It does not wait for AUX, use WaitReady where readiness matters.
func (obj *Controller) SetMode(target hal.ChipMode) error {
	return obj.SetModeSettle(target, obj.Settle)
}

// SetModeSettle is SetMode with an explicit settle delay
func (obj *Controller) SetModeSettle(target hal.ChipMode, settle time.Duration) error {
	chipMode, ok := chipModes[target]
	if !ok {
		return fmt.Errorf("failed to set chip mode: %w: %d", hal.ErrUnsupportedMode, target)
	}
	// outputs are fire and forget, there is no feedback beyond AUX
	obj.state = State{Mode: target}

	err := obj.lines.SetOutput(hal.LineM0, chipMode.m0Value)
	if err != nil {
		return fmt.Errorf("failed to set mode [%s] on M0 line: %w", target, err)
	}
	err = obj.lines.SetOutput(hal.LineM1, chipMode.m1Value)
	if err != nil {
		return fmt.Errorf("failed to set mode [%s] on M1 line: %w", target, err)
	}
	if settle < MinSettleDelay {
		settle = MinSettleDelay
	}
	glog.Infof("mode set to %s (M0=%s, M1=%s), settling %s", target, chipMode.m0Value, chipMode.m1Value, settle)
	obj.pause(settle)
	return nil
}

// WaitReady polls AUX until it reads high or timeout elapses. A timeout is
// reported as false, some modules keep AUX low and still accept commands.
func (obj *Controller) WaitReady(timeout time.Duration) bool {
	interval := obj.PollInterval
	if interval <= 0 || interval > ReadyPollInterval {
		interval = ReadyPollInterval
	}
	deadline := obj.clock().Add(timeout)
	for {
		level, err := obj.lines.ReadInput(hal.LineAUX)
		if err != nil {
			glog.V(1).Infof("AUX read failed: %v", err)
		} else if level == hal.High {
			obj.state.Ready = true
			return true
		}
		remaining := deadline.Sub(obj.clock())
		if remaining <= 0 {
			obj.state.Ready = false
			glog.Warningf("AUX timeout after %s", timeout)
			return false
		}
		if interval > remaining {
			obj.pause(remaining)
		} else {
			obj.pause(interval)
		}
	}
}

// Sample reads AUX once and records it
func (obj *Controller) Sample() (bool, error) {
	level, err := obj.lines.ReadInput(hal.LineAUX)
	if err != nil {
		return false, fmt.Errorf("failed to check AUX pin input state: %w", err)
	}
	obj.state.Ready = level == hal.High
	return obj.state.Ready, nil
}

// Readback reads the mode select lines back and decodes the mode they select
func (obj *Controller) Readback() (hal.ChipMode, error) {
	m0, err := obj.lines.ReadInput(hal.LineM0)
	if err != nil {
		return 0, fmt.Errorf("failed to get M0 line value: %w", err)
	}
	m1, err := obj.lines.ReadInput(hal.LineM1)
	if err != nil {
		return 0, fmt.Errorf("failed to get M1 line value: %w", err)
	}
	return FromLevels(m0, m1)
}
