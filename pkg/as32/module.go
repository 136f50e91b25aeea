// Package as32 drives an AS32-TTL-100 LoRa module: AT configuration in Config mode,
// link discovery and packet streaming in Normal mode.
//
// Every operation that leaves Normal mode drives the module back to Normal mode
// before returning, on error paths too, so the packet stream keeps working after a
// failed configuration attempt.
package as32

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/teeho88/LoRaNode-Gateway/pkg/at"
	"github.com/teeho88/LoRaNode-Gateway/pkg/discovery"
	"github.com/teeho88/LoRaNode-Gateway/pkg/framing"
	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
	"github.com/teeho88/LoRaNode-Gateway/pkg/mode"
)

var (
	// ErrRejected is returned when the module answers a setting with anything but OK
	ErrRejected = errors.New("module rejected command")
	// ErrStreaming is returned by operations that need the channel while a stream is running
	ErrStreaming = errors.New("packet stream is running")
)

const (
	DefaultBaudRate     = 9600
	DefaultReadTimeout  = time.Second
	DefaultReadyTimeout = 2 * time.Second
	// DefaultCommitWindow is the response window of AT+SAVE and AT+RESET
	DefaultCommitWindow = time.Second
	// DefaultSurveyWindow is the response window used by SurveyModes and SweepSettle
	DefaultSurveyWindow = time.Second
	// DefaultSurveySettle is the settle delay used by SurveyModes
	DefaultSurveySettle = 500 * time.Millisecond
)

// DefaultSettleSweep are the settle delays tried by SweepSettle
var DefaultSettleSweep = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
}

// Options describe the serial side of the module
type Options struct {
	Path        string
	BaudRate    int
	Terminator  at.Terminator
	ReadTimeout time.Duration
}

// Module is the AS32 facade. It owns the control lines and opens at most one
// channel at a time.
type Module struct {
	ctrl     *mode.Controller
	lines    hal.ControlLines
	opener   hal.Opener
	engine   *at.Engine
	path     string
	link     discovery.LinkConfig
	settings settingsCollection

	ReadTimeout time.Duration
	// Window is the response window of configuration commands, zero means at.DefaultWindow
	Window       time.Duration
	CommitWindow time.Duration
	ReadyTimeout time.Duration
	SurveyWindow time.Duration
	SurveySettle time.Duration
	// Prober runs Discover, its opener and path are the module's
	Prober   *discovery.Prober
	Receiver *framing.Receiver

	mu     sync.Mutex
	stream hal.Channel
}

// NewModule wraps lines and opener. The module is assumed to be in Normal mode,
// which is what the lines are driven to when they are claimed.
func NewModule(lines hal.ControlLines, opener hal.Opener, opts Options) (*Module, error) {
	if lines == nil || opener == nil {
		return nil, fmt.Errorf("control lines and channel opener are required")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("serial device path is required")
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	engine := at.NewEngine(opts.Terminator)
	prober := discovery.NewProber(opener, opts.Path)
	prober.Engine = engine
	prober.ReadTimeout = opts.ReadTimeout
	return &Module{
		ctrl:         mode.NewController(lines),
		lines:        lines,
		opener:       opener,
		engine:       engine,
		path:         opts.Path,
		link:         discovery.LinkConfig{BaudRate: opts.BaudRate, Terminator: opts.Terminator},
		settings:     newSettingsCollection(),
		ReadTimeout:  opts.ReadTimeout,
		CommitWindow: DefaultCommitWindow,
		ReadyTimeout: DefaultReadyTimeout,
		SurveyWindow: DefaultSurveyWindow,
		SurveySettle: DefaultSurveySettle,
		Prober:       prober,
		Receiver:     framing.NewReceiver(),
	}, nil
}

// Controller returns the mode controller
func (obj *Module) Controller() *mode.Controller {
	return obj.ctrl
}

// Engine returns the transaction engine used for every AT command
func (obj *Module) Engine() *at.Engine {
	return obj.engine
}

// Link returns the baud rate and terminator used to talk to the module
func (obj *Module) Link() discovery.LinkConfig {
	return obj.link
}

// SetLink changes the baud rate and terminator of the following operations
func (obj *Module) SetLink(link discovery.LinkConfig) {
	obj.link = link
	obj.engine.Terminator = link.Terminator
}

// Settings returns a copy of the last known module settings
func (obj *Module) Settings() settingsCollection {
	return obj.settings.Copy()
}

// GetModuleConfiguration formats the last known module settings
func (obj *Module) GetModuleConfiguration() string {
	return obj.settings.String()
}

func (obj *Module) checkIdle() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.stream != nil {
		return ErrStreaming
	}
	return nil
}

func (obj *Module) openChannel() (hal.Channel, error) {
	ch, err := obj.opener.Open(obj.path, obj.link.BaudRate, obj.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial channel: %w", err)
	}
	return ch, nil
}

func closeChannel(ch hal.Channel) {
	if err := ch.Close(); err != nil {
		glog.Warningf("failed to close serial channel: %v", err)
	}
}

// enter selects target and waits for AUX. An AUX timeout is only logged,
// some modules keep AUX low and still answer.
func (obj *Module) enter(target hal.ChipMode) error {
	err := obj.ctrl.SetMode(target)
	if err != nil {
		return err
	}
	obj.ctrl.WaitReady(obj.ReadyTimeout)
	return nil
}

// restoreNormal drives the module back to Normal mode and reports a failure
// through err unless an earlier error is already set
func (obj *Module) restoreNormal(err *error) {
	rerr := obj.ctrl.SetMode(hal.ModeNormal)
	if rerr == nil {
		return
	}
	glog.Errorf("failed to restore normal mode: %v", rerr)
	if *err == nil {
		*err = fmt.Errorf("failed to restore normal mode: %w", rerr)
	}
}

// EnterConfig selects Config mode and reports whether AUX signalled ready.
// The module stays in Config mode until another mode is selected.
func (obj *Module) EnterConfig() (bool, error) {
	if err := obj.checkIdle(); err != nil {
		return false, err
	}
	err := obj.ctrl.SetMode(hal.ModeConfig)
	if err != nil {
		return false, fmt.Errorf("failed to enter config mode: %w", err)
	}
	return obj.ctrl.WaitReady(obj.ReadyTimeout), nil
}

// SetNormal selects Normal mode
func (obj *Module) SetNormal() error {
	if err := obj.checkIdle(); err != nil {
		return err
	}
	return obj.ctrl.SetMode(hal.ModeNormal)
}

// Command sends one AT command in the current mode on a fresh channel.
// Use EnterConfig first, commands in Normal mode are transmitted over the air.
func (obj *Module) Command(command string, window time.Duration) (*at.Transaction, error) {
	if err := obj.checkIdle(); err != nil {
		return nil, err
	}
	if current := obj.ctrl.State().Mode; current != hal.ModeConfig && current != hal.ModeSleep {
		glog.Warningf("sending %q in %s mode", command, current)
	}
	ch, err := obj.openChannel()
	if err != nil {
		return nil, err
	}
	defer closeChannel(ch)
	if window <= 0 {
		window = obj.Window
	}
	return obj.engine.SendCommand(ch, command, window)
}

// ApplySettings writes settings in Config mode. With permanent set, AT+SAVE and
// AT+RESET follow, unless the module rejected one of the settings.
// Every transaction is returned, rejected ones included.
func (obj *Module) ApplySettings(settings []hal.Setting, permanent bool) (txs []*at.Transaction, err error) {
	if err = obj.checkIdle(); err != nil {
		return nil, err
	}
	defer obj.restoreNormal(&err)
	err = obj.enter(hal.ModeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to start config builder: %w", err)
	}
	ch, err := obj.openChannel()
	if err != nil {
		return nil, err
	}
	defer closeChannel(ch)

	var rejected []string
	for _, s := range settings {
		tx, err := obj.engine.SendCommand(ch, SetCommand(s), obj.Window)
		if err != nil {
			return txs, fmt.Errorf("failed to write %s: %w", s.GetName(), err)
		}
		txs = append(txs, tx)
		glog.Infof("%s", tx)
		if tx.Outcome != at.OutcomeSuccess {
			rejected = append(rejected, tx.Command())
			continue
		}
		obj.store(s)
	}
	if len(rejected) > 0 {
		return txs, fmt.Errorf("%w: %s", ErrRejected, strings.Join(rejected, ", "))
	}
	if !permanent {
		return txs, nil
	}

	commitWindow := obj.CommitWindow
	if commitWindow <= 0 {
		commitWindow = DefaultCommitWindow
	}
	for _, cmd := range []string{"AT+SAVE", "AT+RESET"} {
		tx, err := obj.engine.SendCommand(ch, cmd, commitWindow)
		if err != nil {
			return txs, fmt.Errorf("failed to send %s: %w", cmd, err)
		}
		txs = append(txs, tx)
		glog.Infof("%s", tx)
		if tx.Outcome == at.OutcomeError {
			return txs, fmt.Errorf("%w: %s", ErrRejected, cmd)
		}
	}
	return txs, nil
}

// store copies the value of s into the module's view of the same setting
func (obj *Module) store(s hal.Setting) {
	for _, known := range obj.settings {
		if known.GetName() == s.GetName() {
			_ = known.SetValue(s.GetValue())
			return
		}
	}
}

// updateFromDiagnostics parses query answers into the known settings
func (obj *Module) updateFromDiagnostics(diags []discovery.Diagnostic) {
	for _, d := range diags {
		if d.Err != nil || d.Transaction == nil || d.Transaction.Outcome == at.OutcomeNoResponse {
			continue
		}
		for _, s := range obj.settings {
			if QueryCommand(s) != d.FollowUp.Command {
				continue
			}
			if err := ParseQueryResponse(s, d.Transaction.Text()); err != nil {
				glog.V(1).Infof("ignoring %s answer: %v", d.FollowUp.Command, err)
			}
		}
	}
}

// Info reads address, parameters, channel and network id in Config mode
func (obj *Module) Info() (diags []discovery.Diagnostic, err error) {
	if err = obj.checkIdle(); err != nil {
		return nil, err
	}
	defer obj.restoreNormal(&err)
	err = obj.enter(hal.ModeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to enter config mode: %w", err)
	}
	ch, err := obj.openChannel()
	if err != nil {
		return nil, err
	}
	defer closeChannel(ch)

	for _, f := range discovery.DefaultFollowUps {
		tx, err := obj.engine.SendCommand(ch, f.Command, obj.Window)
		diags = append(diags, discovery.Diagnostic{FollowUp: f, Transaction: tx, Err: err})
		if err != nil {
			return diags, fmt.Errorf("failed to query %s: %w", f.Description, err)
		}
	}
	obj.updateFromDiagnostics(diags)
	return diags, nil
}

// Discover selects target (Config or Sleep), runs the prober over candidates and
// switches the module to the accepted link
func (obj *Module) Discover(ctx context.Context, target hal.ChipMode, candidates []discovery.LinkConfig, probe string) (res *discovery.Result, err error) {
	if target != hal.ModeConfig && target != hal.ModeSleep {
		return nil, fmt.Errorf("discovery needs config or sleep mode, not %s", target)
	}
	if err = obj.checkIdle(); err != nil {
		return nil, err
	}
	defer obj.restoreNormal(&err)
	err = obj.enter(target)
	if err != nil {
		return nil, fmt.Errorf("failed to enter %s mode: %w", target, err)
	}
	res, err = obj.Prober.Discover(ctx, candidates, probe)
	if err != nil {
		return res, err
	}
	if res.Accepted != nil {
		obj.SetLink(*res.Accepted)
		obj.updateFromDiagnostics(res.Diagnostics)
	}
	return res, nil
}

// ModeReport is what SurveyModes observed in one mode. Readback is the mode
// the M0/M1 lines read back as, it differs from Mode when a line is not wired right.
type ModeReport struct {
	Mode        hal.ChipMode
	Readback    hal.ChipMode
	ReadbackErr error
	Ready       bool
	AUXErr      error
	Transaction *at.Transaction
}

// Mismatch reports whether the lines did not read back as Mode
func (r ModeReport) Mismatch() bool {
	return r.ReadbackErr != nil || r.Readback != r.Mode
}

func (r ModeReport) String() string {
	aux := "LOW/Busy"
	if r.AUXErr != nil {
		aux = r.AUXErr.Error()
	} else if r.Ready {
		aux = "HIGH/Ready"
	}
	s := fmt.Sprintf("%s: AUX %s, %s", r.Mode, aux, r.Transaction)
	switch {
	case r.ReadbackErr != nil:
		s += fmt.Sprintf(" [M0/M1 readback failed: %v]", r.ReadbackErr)
	case r.Readback != r.Mode:
		s += fmt.Sprintf(" [M0/M1 read back as %s, check wiring]", r.Readback)
	}
	return s
}

// SurveyModes visits every mode, samples AUX and sends command in each of them
func (obj *Module) SurveyModes(command string) (reports []ModeReport, err error) {
	if err = obj.checkIdle(); err != nil {
		return nil, err
	}
	ch, err := obj.openChannel()
	if err != nil {
		return nil, err
	}
	defer closeChannel(ch)
	defer obj.restoreNormal(&err)

	for _, m := range hal.ChipModes() {
		err = obj.ctrl.SetModeSettle(m, obj.SurveySettle)
		if err != nil {
			return reports, err
		}
		report := ModeReport{Mode: m}
		report.Readback, report.ReadbackErr = obj.ctrl.Readback()
		report.Ready, report.AUXErr = obj.ctrl.Sample()
		report.Transaction, err = obj.engine.SendCommand(ch, command, obj.SurveyWindow)
		if err != nil {
			return reports, err
		}
		if report.Mismatch() {
			glog.Warningf("%s", report)
		} else {
			glog.Infof("%s", report)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// SettleTrial is one Config mode entry of SweepSettle
type SettleTrial struct {
	Settle      time.Duration
	Ready       bool
	Transaction *at.Transaction
}

// SweepSettle enters Config mode with each settle delay in turn and sends probe
// until the module answers OK. The delay that worked is returned, zero when none did.
func (obj *Module) SweepSettle(delays []time.Duration, probe string) (trials []SettleTrial, accepted time.Duration, err error) {
	if len(delays) == 0 {
		delays = DefaultSettleSweep
	}
	if probe == "" {
		probe = discovery.DefaultProbe
	}
	if err = obj.checkIdle(); err != nil {
		return nil, 0, err
	}
	ch, err := obj.openChannel()
	if err != nil {
		return nil, 0, err
	}
	defer closeChannel(ch)
	defer obj.restoreNormal(&err)

	for _, d := range delays {
		err = obj.ctrl.SetModeSettle(hal.ModeConfig, d)
		if err != nil {
			return trials, 0, err
		}
		trial := SettleTrial{Settle: d}
		trial.Ready, _ = obj.ctrl.Sample()
		trial.Transaction, err = obj.engine.SendCommand(ch, probe, obj.SurveyWindow)
		if err != nil {
			return trials, 0, err
		}
		trials = append(trials, trial)
		glog.Infof("settle %s: AUX ready=%t, %s", d, trial.Ready, trial.Transaction)
		if trial.Transaction.Outcome == at.OutcomeSuccess {
			return trials, d, nil
		}
	}
	return trials, 0, nil
}

// Stream selects Normal mode and hands every received packet to handle until
// ctx is done. Only one stream can run at a time.
func (obj *Module) Stream(ctx context.Context, handle framing.Handler) error {
	obj.mu.Lock()
	if obj.stream != nil {
		obj.mu.Unlock()
		return ErrStreaming
	}
	err := obj.enter(hal.ModeNormal)
	if err != nil {
		obj.mu.Unlock()
		return fmt.Errorf("failed to enter normal mode: %w", err)
	}
	ch, err := obj.openChannel()
	if err != nil {
		obj.mu.Unlock()
		return err
	}
	obj.stream = ch
	obj.mu.Unlock()

	defer func() {
		obj.mu.Lock()
		obj.stream = nil
		obj.mu.Unlock()
		closeChannel(ch)
	}()
	glog.Infof("listening for packets on %s at %d baud", obj.path, obj.link.BaudRate)
	return obj.Receiver.Run(ctx, ch, handle)
}

// Streaming reports whether a stream is running
func (obj *Module) Streaming() bool {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.stream != nil
}

// SendPacket frames payload and transmits it. The running stream's channel is
// used when there is one.
func (obj *Module) SendPacket(payload []byte) error {
	frame, err := framing.Encode(payload)
	if err != nil {
		return err
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()
	currentMode := obj.ctrl.State().Mode
	if currentMode != hal.ModeNormal && currentMode != hal.ModeWakeOnRadio {
		return fmt.Errorf("can't send packet while module is in %s mode. Change mode to Normal or WakeOnRadio", currentMode)
	}
	ch := obj.stream
	if ch == nil {
		ch, err = obj.openChannel()
		if err != nil {
			return err
		}
		defer closeChannel(ch)
	}
	glog.V(2).Infof("TX: %q", frame)
	_, err = ch.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}
	return nil
}

// Close drives the module back to Normal mode and releases the control lines.
// A running stream must be stopped first.
func (obj *Module) Close() error {
	err := obj.ctrl.SetMode(hal.ModeNormal)
	if err != nil {
		glog.Errorf("failed to restore normal mode: %v", err)
	}
	if cerr := obj.lines.Close(); cerr != nil {
		return fmt.Errorf("failed to release control lines: %w", cerr)
	}
	return err
}
