package common

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/tarm/serial"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

// DefaultReadTimeout bounds a single driver read. The background reader needs a finite
// timeout to notice Close.
const DefaultReadTimeout = 100 * time.Millisecond

// SerialOpener opens tarm/serial ports as hal.Channel values
type SerialOpener struct {
	Size   byte
	Parity serial.Parity
}

// NewSerialOpener returns an 8N1 opener
func NewSerialOpener() *SerialOpener {
	return &SerialOpener{Size: 8, Parity: serial.ParityNone}
}

func (obj *SerialOpener) Open(path string, baudRate int, readTimeout time.Duration) (hal.Channel, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	config := &serial.Config{
		Name:        path,
		Baud:        baudRate,
		Size:        obj.Size,
		Parity:      obj.Parity,
		ReadTimeout: readTimeout,
	}
	sp, err := serial.OpenPort(config)
	if err != nil {
		return nil, &hal.OpenError{Path: path, BaudRate: baudRate, Err: err}
	}
	return newSerialChannel(sp, path), nil
}

func newSerialChannel(p port, name string) *SerialChannel {
	ch := &SerialChannel{
		port: p,
		name: name,
		done: make(chan struct{}),
	}
	go ch.pump()
	return ch
}

// port is the part of *serial.Port the channel uses
type port interface {
	io.ReadWriteCloser
	Flush() error
}

// SerialChannel buffers everything the port receives so that reads never block.
// tarm/serial has no "bytes waiting" query, a reader goroutine fills rx instead.
type SerialChannel struct {
	port      port
	name      string
	muRx      sync.Mutex // protects rx and readErr
	rx        bytes.Buffer
	readErr   error
	done      chan struct{}
	closeOnce sync.Once
}

func (obj *SerialChannel) pump() {
	buf := make([]byte, 512)
	for {
		select {
		case <-obj.done:
			return
		default:
		}
		n, err := obj.port.Read(buf)
		if n > 0 {
			obj.muRx.Lock()
			obj.rx.Write(buf[:n])
			obj.muRx.Unlock()
		}
		if err == nil || errors.Is(err, io.EOF) {
			// io.EOF is a read timeout without data
			continue
		}
		select {
		case <-obj.done:
		default:
			glog.Warningf("serial %s read failed: %v", obj.name, err)
			obj.muRx.Lock()
			obj.readErr = err
			obj.muRx.Unlock()
		}
		return
	}
}

func (obj *SerialChannel) Write(p []byte) (int, error) {
	n, err := obj.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to send data: %w", err)
	}
	return n, nil
}

func (obj *SerialChannel) ReadAvailable() ([]byte, error) {
	obj.muRx.Lock()
	defer obj.muRx.Unlock()
	if obj.rx.Len() == 0 && obj.readErr != nil {
		return nil, fmt.Errorf("failed to receive data: %w", obj.readErr)
	}
	data := make([]byte, obj.rx.Len())
	copy(data, obj.rx.Bytes())
	obj.rx.Reset()
	return data, nil
}

func (obj *SerialChannel) BytesWaiting() (int, error) {
	obj.muRx.Lock()
	defer obj.muRx.Unlock()
	if obj.rx.Len() == 0 && obj.readErr != nil {
		return 0, fmt.Errorf("failed to receive data: %w", obj.readErr)
	}
	return obj.rx.Len(), nil
}

// ResetInputBuffer discards kernel and local receive buffers
func (obj *SerialChannel) ResetInputBuffer() error {
	err := obj.port.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush serial stream: %w", err)
	}
	obj.muRx.Lock()
	obj.rx.Reset()
	obj.muRx.Unlock()
	return nil
}

// ResetOutputBuffer discards unsent bytes. tarm/serial flushes both directions at once.
func (obj *SerialChannel) ResetOutputBuffer() error {
	err := obj.port.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush serial stream: %w", err)
	}
	return nil
}

func (obj *SerialChannel) Close() (err error) {
	obj.closeOnce.Do(func() {
		close(obj.done)
		err = obj.port.Close()
		if err != nil {
			err = fmt.Errorf("failed to close serial stream: %w", err)
		}
	})
	return err
}
