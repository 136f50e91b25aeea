// Package framing extracts <...> delimited packets from the module's data mode byte stream.
package framing

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

const (
	OpenMarker  = '<'
	CloseMarker = '>'

	// DefaultMaxBuffered is the most bytes kept while waiting for a closing marker
	DefaultMaxBuffered = 4096
	// DefaultPollInterval is the pause between two polls of the channel
	DefaultPollInterval = 100 * time.Millisecond
)

// Extractor holds the bytes of an incomplete packet between reads
type Extractor struct {
	buf         []byte
	MaxBuffered int
}

// Feed appends chunk and returns every complete packet, markers included.
// A closing marker without an opener before it is dropped together with
// everything in front of it.
func (obj *Extractor) Feed(chunk []byte) []string {
	obj.buf = append(obj.buf, chunk...)
	var packets []string
	for {
		open := bytes.IndexByte(obj.buf, OpenMarker)
		end := bytes.IndexByte(obj.buf, CloseMarker)
		if open < 0 || end < 0 {
			break
		}
		if open < end {
			packets = append(packets, strings.ToValidUTF8(string(obj.buf[open:end+1]), ""))
		} else {
			glog.V(2).Infof("dropping malformed fragment %q", obj.buf[:end+1])
		}
		obj.buf = obj.buf[end+1:]
	}
	obj.evict()
	return packets
}

func (obj *Extractor) evict() {
	limit := obj.MaxBuffered
	if limit <= 0 {
		limit = DefaultMaxBuffered
	}
	if len(obj.buf) <= limit {
		return
	}
	if last := bytes.LastIndexByte(obj.buf, OpenMarker); last > 0 {
		obj.buf = obj.buf[last:]
	}
	if len(obj.buf) > limit {
		obj.buf = nil
	}
	// release the old backing array
	obj.buf = append([]byte(nil), obj.buf...)
}

// Buffered returns a copy of the bytes waiting for a closing marker
func (obj *Extractor) Buffered() []byte {
	return append([]byte(nil), obj.buf...)
}

// Reset drops the buffered bytes
func (obj *Extractor) Reset() {
	obj.buf = nil
}

// Handler is called for every complete packet
type Handler func(packet string)

// Receiver polls a channel without blocking and hands out packets
type Receiver struct {
	PollInterval time.Duration
	MaxBuffered  int
}

// NewReceiver returns a receiver with the default poll interval
func NewReceiver() *Receiver {
	return &Receiver{
		PollInterval: DefaultPollInterval,
		MaxBuffered:  DefaultMaxBuffered,
	}
}

// Run consumes ch until ctx is done. Bytes of an incomplete packet are dropped on return.
// Only channel read failures are returned.
func (obj *Receiver) Run(ctx context.Context, ch hal.Channel, handle Handler) error {
	interval := obj.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ext := &Extractor{MaxBuffered: obj.MaxBuffered}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := ch.BytesWaiting()
		if err != nil {
			return fmt.Errorf("failed to poll channel: %w", err)
		}
		if n > 0 {
			data, err := ch.ReadAvailable()
			if err != nil {
				return fmt.Errorf("failed to receive data: %w", err)
			}
			for _, pkt := range ext.Feed(data) {
				handle(pkt)
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Encode frames payload for sending in data mode. The frame format has no escaping,
// so payloads containing a marker are rejected.
func Encode(payload []byte) ([]byte, error) {
	if bytes.IndexByte(payload, OpenMarker) >= 0 || bytes.IndexByte(payload, CloseMarker) >= 0 {
		return nil, fmt.Errorf("payload contains a frame marker")
	}
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, OpenMarker)
	frame = append(frame, payload...)
	frame = append(frame, CloseMarker, '\n')
	return frame, nil
}
