// Package at sends AT commands to the module while it is in configuration mode and
// classifies what comes back.
//
// Classification is a plain, case-sensitive substring match on "OK" and "ERROR".
// The firmware is not consistent about prefixes ("+OK", "OK") and line endings,
// so responses are not parsed any further.
package at

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

const (
	TokenSuccess = "OK"
	TokenError   = "ERROR"
)

const (
	// DefaultWindow is the initial wait after a command is written
	DefaultWindow = 500 * time.Millisecond
	// DefaultPollInterval is the quiet period that ends a response
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultCeiling bounds a whole transaction, measured from the write
	DefaultCeiling = 3 * time.Second
)

// Terminator is appended to every command
type Terminator int

const (
	TerminatorCRLF Terminator = iota
	TerminatorLF
	TerminatorCR
	TerminatorNone
)

var terminators = []struct {
	name  string
	bytes string
}{
	TerminatorCRLF: {"CRLF", "\r\n"},
	TerminatorLF:   {"LF", "\n"},
	TerminatorCR:   {"CR", "\r"},
	TerminatorNone: {"none", ""},
}

// Terminators lists every terminator, most common first
func Terminators() []Terminator {
	return []Terminator{TerminatorCRLF, TerminatorLF, TerminatorCR, TerminatorNone}
}

func (t Terminator) valid() bool {
	return t >= 0 && int(t) < len(terminators)
}

func (t Terminator) String() string {
	if !t.valid() {
		return fmt.Sprintf("Terminator(%d)", int(t))
	}
	return terminators[t].name
}

// Bytes returns the wire form of the terminator
func (t Terminator) Bytes() []byte {
	if !t.valid() {
		return nil
	}
	return []byte(terminators[t].bytes)
}

// ParseTerminator accepts crlf, lf, cr and none, case-insensitive
func ParseTerminator(s string) (Terminator, error) {
	for i, t := range terminators {
		if strings.EqualFold(s, t.name) {
			return Terminator(i), nil
		}
	}
	return 0, fmt.Errorf("unknown line terminator %q, use crlf, lf, cr or none", s)
}

// Outcome classifies a response
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeNoResponse
	OutcomeUnrecognized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeError:
		return "Error"
	case OutcomeNoResponse:
		return "NoResponse"
	case OutcomeUnrecognized:
		return "Unrecognized"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Classify maps a raw response to an Outcome
func Classify(response []byte) Outcome {
	if len(response) == 0 {
		return OutcomeNoResponse
	}
	text := Decode(response)
	if strings.Contains(text, TokenSuccess) {
		return OutcomeSuccess
	}
	if strings.Contains(text, TokenError) {
		return OutcomeError
	}
	return OutcomeUnrecognized
}

// Decode turns a response into text, dropping byte sequences that are not UTF-8.
// Garbage is expected when the baud rate is wrong.
func Decode(response []byte) string {
	return strings.ToValidUTF8(string(response), "")
}

// Transaction is one command and its response
type Transaction struct {
	Request  []byte
	Response []byte
	Outcome  Outcome
}

// Text returns the decoded response without surrounding whitespace
func (t *Transaction) Text() string {
	return strings.TrimSpace(Decode(t.Response))
}

// Command returns the request without its terminator
func (t *Transaction) Command() string {
	return strings.TrimRight(string(t.Request), "\r\n")
}

func (t *Transaction) String() string {
	text := t.Text()
	if text == "" {
		text = "(no response)"
	}
	return fmt.Sprintf("TX: %s RX: %s [%s]", t.Command(), text, t.Outcome)
}

// Engine runs command/response transactions. It never retries.
type Engine struct {
	Terminator   Terminator
	PollInterval time.Duration
	Ceiling      time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

// NewEngine returns an engine with the default timing
func NewEngine(terminator Terminator) *Engine {
	return &Engine{
		Terminator:   terminator,
		PollInterval: DefaultPollInterval,
		Ceiling:      DefaultCeiling,
		sleep:        time.Sleep,
		now:          time.Now,
	}
}

func (obj *Engine) pause(d time.Duration) {
	if obj.sleep == nil {
		time.Sleep(d)
		return
	}
	obj.sleep(d)
}

func (obj *Engine) clock() time.Time {
	if obj.now == nil {
		return time.Now()
	}
	return obj.now()
}

// WithTerminator returns a copy of the engine using terminator
func (obj *Engine) WithTerminator(terminator Terminator) *Engine {
	cp := *obj
	cp.Terminator = terminator
	return &cp
}

// SendCommand clears the channel buffers, writes command with the terminator,
// waits window (DefaultWindow when zero) and collects the response until the
// line has been quiet for one poll interval or the ceiling is reached.
// The returned error is only set for channel I/O failures.
func (obj *Engine) SendCommand(ch hal.Channel, command string, window time.Duration) (*Transaction, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	poll := obj.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ceiling := obj.Ceiling
	if ceiling < window {
		ceiling = window
	}

	tx := &Transaction{
		Request: append([]byte(command), obj.Terminator.Bytes()...),
		Outcome: OutcomeNoResponse,
	}

	err := ch.ResetInputBuffer()
	if err != nil {
		return tx, fmt.Errorf("failed to clear input buffer: %w", err)
	}
	err = ch.ResetOutputBuffer()
	if err != nil {
		return tx, fmt.Errorf("failed to clear output buffer: %w", err)
	}

	glog.V(2).Infof("TX: %q", tx.Request)
	_, err = ch.Write(tx.Request)
	if err != nil {
		return tx, fmt.Errorf("failed to write command %q: %w", command, err)
	}
	start := obj.clock()
	obj.pause(window)

	chunk, err := ch.ReadAvailable()
	if err != nil {
		return tx, fmt.Errorf("failed to read response: %w", err)
	}
	tx.Response = append(tx.Response, chunk...)
	for len(chunk) > 0 && obj.clock().Sub(start) < ceiling {
		obj.pause(poll)
		chunk, err = ch.ReadAvailable()
		if err != nil {
			return tx, fmt.Errorf("failed to read response: %w", err)
		}
		tx.Response = append(tx.Response, chunk...)
	}
	glog.V(2).Infof("RX: %q", tx.Response)

	tx.Outcome = Classify(tx.Response)
	return tx, nil
}
