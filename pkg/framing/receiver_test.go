package framing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal/haltest"
)

func TestExtractor(t *testing.T) {
	testCases := []struct {
		name     string
		polls    []string
		packets  [][]string
		buffered string
	}{
		{
			name:    "two packets in one poll",
			polls:   []string{"<AB><CD>"},
			packets: [][]string{{"<AB>", "<CD>"}},
		},
		{
			name:    "stray closing marker",
			polls:   []string{">junk<EF>"},
			packets: [][]string{{"<EF>"}},
		},
		{
			name:    "partial frame completes on next poll",
			polls:   []string{"<PART", "IAL>"},
			packets: [][]string{nil, {"<PARTIAL>"}},
		},
		{
			name:     "partial frame is retained",
			polls:    []string{"<PART"},
			packets:  [][]string{nil},
			buffered: "<PART",
		},
		{
			name:     "lone closing marker waits for an opener",
			polls:    []string{">"},
			packets:  [][]string{nil},
			buffered: ">",
		},
		{
			name:    "lone closing marker is dropped later",
			polls:   []string{">", "<X>"},
			packets: [][]string{nil, {"<X>"}},
		},
		{
			name:    "noise between packets",
			polls:   []string{"\r\n<{\"id\":\"N1\"}>\r\nxx<B>"},
			packets: [][]string{{"<{\"id\":\"N1\"}>", "<B>"}},
		},
		{
			name:    "nearest closing marker wins",
			polls:   []string{"<A<B>"},
			packets: [][]string{{"<A<B>"}},
		},
		{
			name:     "opener after the last packet",
			polls:    []string{"<A>\n<B"},
			packets:  [][]string{{"<A>"}},
			buffered: "\n<B",
		},
		{
			name:    "markers split over polls",
			polls:   []string{"<", "x", ">", "<", "y>"},
			packets: [][]string{nil, nil, {"<x>"}, nil, {"<y>"}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var ext Extractor
			for i, poll := range tc.polls {
				require.Equalf(t, tc.packets[i], ext.Feed([]byte(poll)), "poll %d", i)
			}
			require.Equal(t, tc.buffered, string(ext.Buffered()))
		})
	}
}

func TestExtractorEviction(t *testing.T) {
	t.Run("keeps the last opener", func(t *testing.T) {
		ext := Extractor{MaxBuffered: 16}
		require.Empty(t, ext.Feed([]byte(strings.Repeat("z", 20)+"<KEEP")))
		require.Equal(t, "<KEEP", string(ext.Buffered()))
		require.Equal(t, []string{"<KEEP>"}, ext.Feed([]byte(">")))
	})

	t.Run("drops everything without an opener", func(t *testing.T) {
		ext := Extractor{MaxBuffered: 16}
		require.Empty(t, ext.Feed([]byte(strings.Repeat("z", 40))))
		require.Empty(t, ext.Buffered())
	})

	t.Run("drops an oversized partial packet", func(t *testing.T) {
		ext := Extractor{MaxBuffered: 16}
		require.Empty(t, ext.Feed([]byte("<"+strings.Repeat("z", 40))))
		require.Empty(t, ext.Buffered())
	})

	t.Run("never grows past the limit", func(t *testing.T) {
		ext := Extractor{MaxBuffered: 64}
		for i := 0; i < 100; i++ {
			ext.Feed([]byte("noise>noise<abc"))
			require.LessOrEqual(t, len(ext.Buffered()), 64)
		}
	})
}

func TestExtractorInvalidUTF8(t *testing.T) {
	var ext Extractor
	require.Equal(t, []string{"<AB>"}, ext.Feed([]byte("<A\xffB>")))
}

type packetLog struct {
	mu      sync.Mutex
	packets []string
}

func (l *packetLog) add(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packets = append(l.packets, p)
}

func (l *packetLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.packets...)
}

func TestReceiverRun(t *testing.T) {
	ch := haltest.NewChannel(9600, nil)
	ch.Inject([]byte("<AB><C"), []byte("D>>junk<EF>"), []byte("<PART"))
	recv := &Receiver{PollInterval: time.Millisecond}

	var log packetLog
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- recv.Run(ctx, ch, log.add)
	}()

	require.Eventually(t, func() bool {
		return len(log.get()) == 3
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("receiver did not stop after cancel")
	}
	require.Equal(t, []string{"<AB>", "<CD>", "<EF>"}, log.get())
}

func TestReceiverStopsOnCancelDuringSleep(t *testing.T) {
	ch := haltest.NewChannel(9600, nil)
	recv := &Receiver{PollInterval: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- recv.Run(ctx, ch, func(string) {})
	}()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("receiver did not stop after cancel")
	}
}

func TestReceiverReadError(t *testing.T) {
	ch := haltest.NewChannel(9600, nil)
	ch.ReadErr = errors.New("device unplugged")
	recv := &Receiver{PollInterval: time.Millisecond}
	err := recv.Run(context.Background(), ch, func(string) {})
	require.Error(t, err)
}

func TestEncode(t *testing.T) {
	frame, err := Encode([]byte(`{"target":"N1","relay":true}`))
	require.NoError(t, err)
	require.Equal(t, "<{\"target\":\"N1\",\"relay\":true}>\n", string(frame))

	var ext Extractor
	require.Equal(t, []string{strings.TrimSuffix(string(frame), "\n")}, ext.Feed(frame))

	_, err = Encode([]byte("a>b"))
	require.Error(t, err)
}
