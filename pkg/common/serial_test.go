package common

import (
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

// fakePort hands out queued chunks and reports io.EOF like a timed out read
type fakePort struct {
	mu      sync.Mutex
	rx      [][]byte
	tx      []byte
	flushes int
	readErr error
	closed  bool
}

func (p *fakePort) push(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, []byte(chunk))
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.rx) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, io.EOF
	}
	n := copy(b, p.rx[0])
	p.rx = p.rx[1:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tx = append(p.tx, b...)
	return len(b), nil
}

func (p *fakePort) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func waitBytes(t *testing.T, ch *SerialChannel, n int) {
	require.Eventually(t, func() bool {
		waiting, err := ch.BytesWaiting()
		return err == nil && waiting == n
	}, time.Second, time.Millisecond)
}

func TestSerialChannelBuffersReads(t *testing.T) {
	p := &fakePort{}
	ch := newSerialChannel(p, "fake")
	defer ch.Close()

	p.push("+O")
	p.push("K\r\n")
	waitBytes(t, ch, 5)

	data, err := ch.ReadAvailable()
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", string(data))
	n, err := ch.BytesWaiting()
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = ch.Write([]byte("AT\r\n"))
	require.NoError(t, err)
	p.mu.Lock()
	require.Equal(t, "AT\r\n", string(p.tx))
	p.mu.Unlock()
}

func TestSerialChannelResetInputBuffer(t *testing.T) {
	p := &fakePort{}
	ch := newSerialChannel(p, "fake")
	defer ch.Close()

	p.push("noise")
	waitBytes(t, ch, 5)
	require.NoError(t, ch.ResetInputBuffer())
	require.NoError(t, ch.ResetOutputBuffer())
	waitBytes(t, ch, 0)

	p.mu.Lock()
	require.Equal(t, 2, p.flushes)
	p.mu.Unlock()
}

func TestSerialChannelReadError(t *testing.T) {
	p := &fakePort{readErr: errors.New("device unplugged")}
	ch := newSerialChannel(p, "fake")
	defer ch.Close()

	require.Eventually(t, func() bool {
		_, err := ch.BytesWaiting()
		return err != nil
	}, time.Second, time.Millisecond)
	_, err := ch.ReadAvailable()
	require.ErrorIs(t, err, p.readErr)
}

func TestSerialChannelCloseOnce(t *testing.T) {
	p := &fakePort{}
	ch := newSerialChannel(p, "fake")
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	p.mu.Lock()
	require.True(t, p.closed)
	p.mu.Unlock()
}

func TestSerialOpenerMissingDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyMissing")
	_, err := NewSerialOpener().Open(path, 9600, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, hal.ErrChannelOpen)

	var openErr *hal.OpenError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, path, openErr.Path)
	require.Equal(t, 9600, openErr.BaudRate)
}
