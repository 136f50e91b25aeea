// Package discovery finds the baud rate and line terminator a module answers on by
// probing a list of candidate link configurations in order.
//
// The caller puts the module in Config (or Sleep) mode before calling Discover.
// Every candidate gets its own channel. A channel is always closed before the next
// one is opened.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/teeho88/LoRaNode-Gateway/pkg/at"
	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

const (
	// DefaultProbe is the command sent to every candidate
	DefaultProbe = "AT"
	// DefaultResponseWindow is the wait after the probe is written
	DefaultResponseWindow = 800 * time.Millisecond
	// DefaultFollowUpWindow is the wait after every follow-up query
	DefaultFollowUpWindow = 500 * time.Millisecond
	// DefaultPause separates two candidates
	DefaultPause = 300 * time.Millisecond
	// DefaultReadTimeout is passed to the opener for every candidate channel
	DefaultReadTimeout = time.Second
)

// DefaultBaudRates are the UART rates the module firmware supports
var DefaultBaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// LinkConfig is one point of the candidate space
type LinkConfig struct {
	BaudRate   int
	Terminator at.Terminator
}

func (c LinkConfig) String() string {
	return fmt.Sprintf("%d baud, %s", c.BaudRate, c.Terminator)
}

// Matrix returns every baud rate and terminator pair, baud rates outermost
func Matrix(baudRates []int, terminators []at.Terminator) []LinkConfig {
	candidates := make([]LinkConfig, 0, len(baudRates)*len(terminators))
	for _, baud := range baudRates {
		for _, term := range terminators {
			candidates = append(candidates, LinkConfig{BaudRate: baud, Terminator: term})
		}
	}
	return candidates
}

// FollowUp is a read-only query sent after a candidate is accepted
type FollowUp struct {
	Command     string
	Description string
}

// DefaultFollowUps read back the module settings
var DefaultFollowUps = []FollowUp{
	{"AT+ADDRESS?", "Address"},
	{"AT+PARAMETER?", "Parameters (baud, air rate, power)"},
	{"AT+CHANNEL?", "Channel"},
	{"AT+NETWORKID?", "Network ID"},
}

// Attempt is what happened to one candidate. Transaction is nil and Err is set
// when the channel could not be opened or the probe exchange failed.
type Attempt struct {
	Config      LinkConfig
	Transaction *at.Transaction
	Err         error
}

// Outcome returns the probe classification, NoResponse when there was no transaction
func (a *Attempt) Outcome() at.Outcome {
	if a.Transaction == nil {
		return at.OutcomeNoResponse
	}
	return a.Transaction.Outcome
}

// WeakSignal reports an ERROR answer. The module decoded something at this rate,
// which hints at the right baud rate but never counts as a match.
func (a *Attempt) WeakSignal() bool {
	return a.Err == nil && a.Outcome() == at.OutcomeError
}

func (a *Attempt) String() string {
	if a.Err != nil {
		return fmt.Sprintf("%s: %v", a.Config, a.Err)
	}
	return fmt.Sprintf("%s: %s", a.Config, a.Transaction)
}

// Diagnostic is the answer to one follow-up query
type Diagnostic struct {
	FollowUp    FollowUp
	Transaction *at.Transaction
	Err         error
}

func (d *Diagnostic) String() string {
	if d.Err != nil {
		return fmt.Sprintf("%s: %v", d.FollowUp.Description, d.Err)
	}
	return fmt.Sprintf("%s: %s", d.FollowUp.Description, d.Transaction.Text())
}

// Result of a discovery run. Accepted is nil when every candidate was exhausted.
type Result struct {
	Accepted    *LinkConfig
	Attempts    []Attempt
	Diagnostics []Diagnostic
}

// WeakSignals returns the candidates that answered ERROR
func (r *Result) WeakSignals() []LinkConfig {
	var out []LinkConfig
	for i := range r.Attempts {
		if r.Attempts[i].WeakSignal() {
			out = append(out, r.Attempts[i].Config)
		}
	}
	return out
}

// AttemptHandler is notified after every candidate
type AttemptHandler func(Attempt)

// Prober runs discovery over one serial device
type Prober struct {
	Opener      hal.Opener
	Path        string
	ReadTimeout time.Duration
	// Window is the probe response window
	Window time.Duration
	// FollowUpWindow is the response window of every follow-up query
	FollowUpWindow time.Duration
	// Pause separates two candidates
	Pause     time.Duration
	FollowUps []FollowUp
	// Engine supplies the poll interval and ceiling, its terminator is replaced per candidate
	Engine    *at.Engine
	OnAttempt AttemptHandler

	sleep func(time.Duration)
}

// NewProber returns a prober with the default timing and follow-ups
func NewProber(opener hal.Opener, path string) *Prober {
	return &Prober{
		Opener:         opener,
		Path:           path,
		ReadTimeout:    DefaultReadTimeout,
		Window:         DefaultResponseWindow,
		FollowUpWindow: DefaultFollowUpWindow,
		Pause:          DefaultPause,
		FollowUps:      DefaultFollowUps,
		Engine:         at.NewEngine(at.TerminatorCRLF),
		sleep:          time.Sleep,
	}
}

// Discover tries candidates in order and stops at the first one answering probe
// with OK. A candidate whose channel cannot be opened is recorded and skipped.
// The context is checked between candidates, the returned error is ctx.Err()
// and the partial result is still returned.
func (obj *Prober) Discover(ctx context.Context, candidates []LinkConfig, probe string) (*Result, error) {
	if probe == "" {
		probe = DefaultProbe
	}
	res := &Result{}
	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if i > 0 && obj.Pause > 0 {
			obj.pause()
		}

		attempt, accepted := obj.try(candidate, probe, res)
		res.Attempts = append(res.Attempts, attempt)
		if obj.OnAttempt != nil {
			obj.OnAttempt(attempt)
		}
		if accepted {
			cfg := candidate
			res.Accepted = &cfg
			glog.Infof("module answers at %s", candidate)
			return res, nil
		}
	}
	glog.Warningf("no candidate answered %q after %d attempts", probe, len(candidates))
	return res, nil
}

func (obj *Prober) try(candidate LinkConfig, probe string, res *Result) (attempt Attempt, accepted bool) {
	attempt.Config = candidate
	ch, err := obj.Opener.Open(obj.Path, candidate.BaudRate, obj.ReadTimeout)
	if err != nil {
		attempt.Err = err
		glog.Warningf("skipping %s: %v", candidate, err)
		return attempt, false
	}
	defer func() {
		if err := ch.Close(); err != nil {
			glog.Warningf("failed to close channel at %d baud: %v", candidate.BaudRate, err)
		}
	}()

	eng := obj.engine().WithTerminator(candidate.Terminator)
	tx, err := eng.SendCommand(ch, probe, obj.Window)
	if err != nil {
		attempt.Err = err
		glog.Warningf("skipping %s: %v", candidate, err)
		return attempt, false
	}
	attempt.Transaction = tx
	glog.Infof("%s", &attempt)

	switch tx.Outcome {
	case at.OutcomeSuccess:
		res.Diagnostics = obj.followUps(ch, eng)
		return attempt, true
	case at.OutcomeError:
		glog.Warningf("ERROR at %s, right baud rate but wrong mode or command format?", candidate)
	}
	return attempt, false
}

func (obj *Prober) followUps(ch hal.Channel, eng *at.Engine) []Diagnostic {
	window := obj.FollowUpWindow
	if window <= 0 {
		window = DefaultFollowUpWindow
	}
	diags := make([]Diagnostic, 0, len(obj.FollowUps))
	for _, f := range obj.FollowUps {
		tx, err := eng.SendCommand(ch, f.Command, window)
		diags = append(diags, Diagnostic{FollowUp: f, Transaction: tx, Err: err})
		if err != nil {
			glog.Warningf("follow-up %s failed: %v", f.Command, err)
			continue
		}
		glog.Infof("%s: %s", f.Description, tx.Text())
	}
	return diags
}

func (obj *Prober) pause() {
	if obj.sleep == nil {
		obj.sleep = time.Sleep
	}
	obj.sleep(obj.Pause)
}

func (obj *Prober) engine() *at.Engine {
	if obj.Engine == nil {
		obj.Engine = at.NewEngine(at.TerminatorCRLF)
	}
	return obj.Engine
}
