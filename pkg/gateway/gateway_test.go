package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	readings []*Reading
	err      error
}

func (s *fakeSink) Publish(r *Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return s.err
}

type fakeSender struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (s *fakeSender) SendPacket(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return s.err
}

func (s *fakeSender) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

func (s *fakeSender) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func boolPtr(b bool) *bool { return &b }

func TestParseReading(t *testing.T) {
	testCases := []struct {
		name    string
		packet  string
		id      string
		temp    float64
		dual    bool
		wantErr bool
	}{
		{name: "framed", packet: `<{"id":"N1","temp":25.5,"hum":60,"relay":true}>`, id: "N1", temp: 25.5},
		{name: "unframed", packet: `{"id":"N2","temp":-3}`, id: "N2", temp: -3},
		{name: "dual", packet: ` <{"id":"N3","temp":21,"temp1":20,"hum1":50,"temp2":22,"hum2":52}> `, id: "N3", temp: 21, dual: true},
		{name: "empty", packet: "<>", wantErr: true},
		{name: "garbage", packet: "<hello>", wantErr: true},
		{name: "no id", packet: `<{"temp":1}>`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := ParseReading(tc.packet)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.id, r.ID)
			require.NotNil(t, r.Temp)
			require.Equal(t, tc.temp, *r.Temp)
			require.Equal(t, tc.dual, r.DualSensor())
		})
	}
}

func TestReadingString(t *testing.T) {
	r, err := ParseReading(`<{"id":"N1","temp":25.55,"relay":true,"manual":true}>`)
	require.NoError(t, err)
	require.Equal(t, "N1 | 25.6°C -% | Relay: ON [Manual]", r.String())

	r, err = ParseReading(`<{"id":"N3","temp":21,"hum":51,"temp1":20,"hum1":50,"temp2":22,"hum2":52}>`)
	require.NoError(t, err)
	require.Equal(t, "N3 | S1: 20.0°C 50.0% | S2: 22.0°C 52.0% | Avg: 21.0°C 51.0% | Relay: OFF [Auto]", r.String())
}

func TestCommandEncode(t *testing.T) {
	_, err := Command{Relay: boolPtr(true)}.Encode()
	require.Error(t, err)

	payload, err := Command{Target: "N1", Relay: boolPtr(false)}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"target":"N1","relay":false}`, string(payload))

	payload, err = Command{Target: "N2", Auto: boolPtr(true)}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"target":"N2","auto":true}`, string(payload))

	require.Equal(t, "N1: Relay ON, Mode AUTO", Command{Target: "N1", Relay: boolPtr(true), Auto: boolPtr(true)}.String())
}

func TestHandlePacketFansOut(t *testing.T) {
	ok := &fakeSink{}
	failing := &fakeSink{err: errors.New("broker down")}
	g := New(nil, ok)
	g.AddSink(failing)
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return stamp }

	g.HandlePacket(`<{"id":"N2","temp":20}>`)
	g.HandlePacket(`<not json>`)
	g.HandlePacket(`<{"id":"N1","temp":21,"ack":true}>`)
	g.HandlePacket(`<{"id":"N2","temp":22}>`)

	require.Len(t, ok.readings, 3)
	require.Len(t, failing.readings, 3)
	require.Equal(t, stamp, ok.readings[0].Timestamp)
	require.True(t, ok.readings[1].Ack)

	nodes := g.Nodes()
	require.Len(t, nodes, 2)
	require.Equal(t, "N1", nodes[0].ID)
	require.Equal(t, "N2", nodes[1].ID)
	require.Equal(t, 22.0, *nodes[1].Temp)
	require.NotEmpty(t, g.Session)
}

func TestSendCommand(t *testing.T) {
	g := New(nil)
	require.Error(t, g.SendCommand(Command{Target: "N1", Relay: boolPtr(true)}))

	sender := &fakeSender{}
	g.Sender = sender
	require.Error(t, g.SendCommand(Command{Relay: boolPtr(true)}))
	require.Empty(t, sender.payloads)

	require.NoError(t, g.SendCommand(Command{Target: "N1", Relay: boolPtr(true)}))
	require.Len(t, sender.payloads, 1)
	var cmd Command
	require.NoError(t, json.Unmarshal(sender.payloads[0], &cmd))
	require.Equal(t, "N1", cmd.Target)
	require.True(t, *cmd.Relay)

	sender.err = errors.New("busy")
	err := g.SendCommand(Command{Target: "N1", Auto: boolPtr(true)})
	require.ErrorIs(t, err, sender.err)
}
