package mode

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
	"github.com/teeho88/LoRaNode-Gateway/pkg/hal/haltest"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) elapsed(start time.Time) time.Duration {
	return c.now.Sub(start)
}

func newTestController(lines hal.ControlLines) (*Controller, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ctrl := NewController(lines)
	ctrl.sleep = clock.Sleep
	ctrl.now = clock.Now
	return ctrl, clock
}

func TestSetModeDrivesTableLevels(t *testing.T) {
	testCases := []struct {
		mode hal.ChipMode
		m0   hal.Level
		m1   hal.Level
	}{
		{hal.ModeNormal, hal.Low, hal.Low},
		{hal.ModeWakeOnRadio, hal.High, hal.Low},
		{hal.ModeConfig, hal.Low, hal.High},
		{hal.ModeSleep, hal.High, hal.High},
	}
	for _, tc := range testCases {
		t.Run(tc.mode.String(), func(t *testing.T) {
			lines := haltest.NewLines()
			ctrl, clock := newTestController(lines)
			require.NoError(t, ctrl.SetMode(tc.mode))
			require.Equal(t, tc.m0, lines.Level(hal.LineM0))
			require.Equal(t, tc.m1, lines.Level(hal.LineM1))
			require.Equal(t, tc.mode, ctrl.State().Mode)
			require.Equal(t, []time.Duration{MinSettleDelay}, clock.sleeps)

			mode, err := ctrl.Readback()
			require.NoError(t, err)
			require.Equal(t, tc.mode, mode)
		})
	}
}

func TestModeTableIsInjective(t *testing.T) {
	seen := map[chipModeLineState]hal.ChipMode{}
	for _, mode := range hal.ChipModes() {
		m0, m1, err := Levels(mode)
		require.NoError(t, err)
		state := chipModeLineState{m0Value: m0, m1Value: m1}
		prev, dup := seen[state]
		require.Falsef(t, dup, "%s and %s share line levels", prev, mode)
		seen[state] = mode

		back, err := FromLevels(m0, m1)
		require.NoError(t, err)
		require.Equal(t, mode, back)
	}
	require.Len(t, seen, 4)
}

func TestSetModeUnsupported(t *testing.T) {
	lines := haltest.NewLines()
	ctrl, clock := newTestController(lines)
	err := ctrl.SetMode(hal.ChipMode(42))
	require.True(t, errors.Is(err, hal.ErrUnsupportedMode))
	require.Empty(t, lines.Writes())
	require.Empty(t, clock.sleeps)
}

func TestSetModeSettleIsClamped(t *testing.T) {
	lines := haltest.NewLines()
	ctrl, clock := newTestController(lines)
	ctrl.Settle = time.Millisecond
	require.NoError(t, ctrl.SetMode(hal.ModeConfig))
	require.NoError(t, ctrl.SetModeSettle(hal.ModeNormal, 2*time.Second))
	require.Equal(t, []time.Duration{MinSettleDelay, 2 * time.Second}, clock.sleeps)
}

func TestSetModeDoesNotWaitForAUX(t *testing.T) {
	lines := haltest.NewLines()
	lines.AUX = hal.Low
	ctrl, _ := newTestController(lines)
	require.NoError(t, ctrl.SetMode(hal.ModeConfig))
	require.Zero(t, lines.AUXReads())
	require.False(t, ctrl.State().Ready)
}

func TestSetModeLineFailureStillRecordsMode(t *testing.T) {
	lines := haltest.NewLines()
	lines.SetErr = errors.New("gpio busy")
	ctrl, _ := newTestController(lines)
	err := ctrl.SetMode(hal.ModeSleep)
	require.Error(t, err)
	require.Equal(t, hal.ModeSleep, ctrl.State().Mode)
}

func TestWaitReady(t *testing.T) {
	t.Run("ready immediately", func(t *testing.T) {
		lines := haltest.NewLines()
		ctrl, clock := newTestController(lines)
		require.True(t, ctrl.WaitReady(time.Second))
		require.True(t, ctrl.State().Ready)
		require.Empty(t, clock.sleeps)
	})

	t.Run("ready after polls", func(t *testing.T) {
		lines := haltest.NewLines()
		lines.ReadyAfter = 3
		ctrl, clock := newTestController(lines)
		start := clock.Now()
		require.True(t, ctrl.WaitReady(time.Second))
		require.Equal(t, 4, lines.AUXReads())
		require.Equal(t, 3*ReadyPollInterval, clock.elapsed(start))
	})

	t.Run("timeout is bounded", func(t *testing.T) {
		lines := haltest.NewLines()
		lines.AUX = hal.Low
		ctrl, clock := newTestController(lines)
		start := clock.Now()
		timeout := 95 * time.Millisecond
		require.False(t, ctrl.WaitReady(timeout))
		require.False(t, ctrl.State().Ready)
		require.Equal(t, timeout, clock.elapsed(start))
		for _, d := range clock.sleeps {
			require.LessOrEqual(t, d, ReadyPollInterval)
		}
	})

	t.Run("zero timeout samples once", func(t *testing.T) {
		lines := haltest.NewLines()
		lines.AUX = hal.Low
		ctrl, clock := newTestController(lines)
		require.False(t, ctrl.WaitReady(0))
		require.Equal(t, 1, lines.AUXReads())
		require.Empty(t, clock.sleeps)
	})

	t.Run("read errors are not fatal", func(t *testing.T) {
		lines := haltest.NewLines()
		lines.ReadErr = errors.New("gpio gone")
		ctrl, _ := newTestController(lines)
		require.False(t, ctrl.WaitReady(30*time.Millisecond))
	})
}

func TestWaitReadyRealClock(t *testing.T) {
	lines := haltest.NewLines()
	lines.AUX = hal.Low
	ctrl := NewController(lines)
	timeout := 50 * time.Millisecond
	start := time.Now()
	require.False(t, ctrl.WaitReady(timeout))
	// generous upper bound for scheduler jitter
	require.Less(t, time.Since(start), timeout+40*time.Millisecond)
}

func TestSample(t *testing.T) {
	lines := haltest.NewLines()
	ctrl, _ := newTestController(lines)
	ready, err := ctrl.Sample()
	require.NoError(t, err)
	require.True(t, ready)

	lines.AUX = hal.Low
	ready, err = ctrl.Sample()
	require.NoError(t, err)
	require.False(t, ready)
	require.False(t, ctrl.State().Ready)
}

func TestControllerLiteralUsesWallClock(t *testing.T) {
	lines := haltest.NewLines()
	lines.ReadyAfter = 2
	ctrl := &Controller{lines: lines}

	require.NoError(t, ctrl.SetModeSettle(hal.ModeConfig, 0))
	require.Equal(t, hal.High, lines.Level(hal.LineM1))
	require.True(t, ctrl.WaitReady(time.Second))
}
