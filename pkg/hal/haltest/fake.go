// Package haltest provides in-memory control lines and channels for host-side tests.
package haltest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

// LineWrite is one recorded SetOutput call
type LineWrite struct {
	Line  hal.LineID
	Level hal.Level
}

// Lines implements hal.ControlLines in memory
type Lines struct {
	mu     sync.Mutex
	levels map[hal.LineID]hal.Level
	writes []LineWrite
	reads  int
	closed bool

	// AUX is the level reported for the AUX line once ReadyAfter reads have been done
	AUX        hal.Level
	ReadyAfter int
	SetErr     error
	ReadErr    error
	// Stuck overrides the level read back from an output line, like a miswired pin
	Stuck map[hal.LineID]hal.Level
}

// NewLines returns lines with AUX reporting ready
func NewLines() *Lines {
	return &Lines{
		levels: map[hal.LineID]hal.Level{},
		AUX:    hal.High,
	}
}

func (l *Lines) SetOutput(line hal.LineID, level hal.Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return hal.ErrLinesClosed
	}
	if l.SetErr != nil {
		return l.SetErr
	}
	if line == hal.LineAUX {
		return fmt.Errorf("AUX is an input line")
	}
	l.levels[line] = level
	l.writes = append(l.writes, LineWrite{Line: line, Level: level})
	return nil
}

func (l *Lines) ReadInput(line hal.LineID) (hal.Level, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return hal.Low, hal.ErrLinesClosed
	}
	if l.ReadErr != nil {
		return hal.Low, l.ReadErr
	}
	if line != hal.LineAUX {
		if level, ok := l.Stuck[line]; ok {
			return level, nil
		}
		return l.levels[line], nil
	}
	l.reads++
	if l.reads <= l.ReadyAfter {
		return hal.Low, nil
	}
	return l.AUX, nil
}

func (l *Lines) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Level returns the last level driven on line
func (l *Lines) Level(line hal.LineID) hal.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.levels[line]
}

// Writes returns a copy of all SetOutput calls
func (l *Lines) Writes() []LineWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LineWrite(nil), l.writes...)
}

// AUXReads returns how many times AUX was sampled
func (l *Lines) AUXReads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

// Closed reports whether Close was called
func (l *Lines) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Responder produces the bytes a module answers to request at baudRate.
// Every returned chunk arrives on a separate poll.
type Responder func(baudRate int, request []byte) [][]byte

// Channel implements hal.Channel in memory. Queued chunks arrive one per
// ReadAvailable or BytesWaiting call.
type Channel struct {
	mu       sync.Mutex
	baud     int
	rx       []byte
	queue    [][]byte
	txLog    [][]byte
	closed   bool
	inReset  int
	outReset int
	respond  Responder
	onClose  func(*Channel)

	ReadErr  error
	WriteErr error
}

// NewChannel returns an open channel at baudRate answering with respond (may be nil)
func NewChannel(baudRate int, respond Responder) *Channel {
	return &Channel{baud: baudRate, respond: respond}
}

// BaudRate returns the rate the channel was opened with
func (c *Channel) BaudRate() int {
	return c.baud
}

// Inject queues chunks that arrive on the following polls
func (c *Channel) Inject(chunks ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chunk := range chunks {
		c.queue = append(c.queue, append([]byte(nil), chunk...))
	}
}

func (c *Channel) arrive() {
	if len(c.queue) == 0 {
		return
	}
	c.rx = append(c.rx, c.queue[0]...)
	c.queue = c.queue[1:]
}

func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errors.New("write on closed channel")
	}
	if c.WriteErr != nil {
		return 0, c.WriteErr
	}
	c.txLog = append(c.txLog, append([]byte(nil), p...))
	if c.respond != nil {
		for _, chunk := range c.respond(c.baud, p) {
			c.queue = append(c.queue, append([]byte(nil), chunk...))
		}
	}
	return len(p), nil
}

func (c *Channel) ReadAvailable() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("read on closed channel")
	}
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	c.arrive()
	data := c.rx
	c.rx = nil
	return data, nil
}

func (c *Channel) BytesWaiting() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errors.New("read on closed channel")
	}
	if c.ReadErr != nil {
		return 0, c.ReadErr
	}
	c.arrive()
	return len(c.rx), nil
}

func (c *Channel) ResetInputBuffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inReset++
	c.rx = nil
	c.queue = nil
	return nil
}

func (c *Channel) ResetOutputBuffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outReset++
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()
	if onClose != nil {
		onClose(c)
	}
	return nil
}

// Closed reports whether Close was called
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TxLog returns a copy of every written buffer
func (c *Channel) TxLog() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.txLog))
	for i, p := range c.txLog {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Resets returns how many times the input and output buffers were cleared
func (c *Channel) Resets() (input int, output int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inReset, c.outReset
}

// Opener implements hal.Opener and records every open and close in order
type Opener struct {
	mu       sync.Mutex
	events   []string
	channels []*Channel

	Respond Responder
	// OpenErr fails opens for the listed baud rates
	OpenErr map[int]error
	// WriteErr fails writes on channels opened at the listed baud rates
	WriteErr map[int]error
}

// NewOpener returns an opener whose channels answer with respond
func NewOpener(respond Responder) *Opener {
	return &Opener{Respond: respond}
}

func (o *Opener) Open(path string, baudRate int, readTimeout time.Duration) (hal.Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf("open %d", baudRate))
	if err, ok := o.OpenErr[baudRate]; ok {
		return nil, &hal.OpenError{Path: path, BaudRate: baudRate, Err: err}
	}
	ch := NewChannel(baudRate, o.Respond)
	ch.WriteErr = o.WriteErr[baudRate]
	ch.onClose = func(c *Channel) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.events = append(o.events, fmt.Sprintf("close %d", c.baud))
	}
	o.channels = append(o.channels, ch)
	return ch, nil
}

// Events returns the open/close log, e.g. ["open 9600", "close 9600"]
func (o *Opener) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

// Channels returns every channel opened so far
func (o *Opener) Channels() []*Channel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Channel(nil), o.channels...)
}

// Reply is a Responder answering every request with the same chunks
func Reply(chunks ...string) Responder {
	return func(int, []byte) [][]byte {
		out := make([][]byte, len(chunks))
		for i, c := range chunks {
			out[i] = []byte(c)
		}
		return out
	}
}
