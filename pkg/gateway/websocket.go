package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"
)

// Event types exchanged with WebSocket clients
const (
	EventInitialData  = "initialData"
	EventSensorData   = "sensorData"
	EventCommandAck   = "commandAck"
	EventControlRelay = "controlRelay"
	EventCommandSent  = "commandSent"
	EventCommandError = "commandError"
)

var errNoCommandHandler = errors.New("commands are not accepted")

// Event is one WebSocket message
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event of type typ
func NewEvent(typ string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Data: raw}, nil
}

type commandResult struct {
	Success bool     `json:"success"`
	Command *Command `json:"command,omitempty"`
	Message string   `json:"message,omitempty"`
}

type commandAck struct {
	NodeID string `json:"nodeId"`
	Relay  bool   `json:"relay"`
}

// Hub is a Sink broadcasting readings to every connected WebSocket client.
// Clients send controlRelay events to command a node.
type Hub struct {
	// Nodes returns the readings sent to a client when it connects
	Nodes func() []*Reading
	// History returns the recent readings sent to a client when it connects
	History func() []*Reading
	// OnCommand handles controlRelay events
	OnCommand CommandHandler

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

// Handler returns the http.Handler accepting WebSocket clients
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(ws *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ws] = struct{}{}
	return len(h.clients)
}

func (h *Hub) remove(ws *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, ws)
	return len(h.clients)
}

func readingsOf(fn func() []*Reading) []*Reading {
	var readings []*Reading
	if fn != nil {
		readings = fn()
	}
	if readings == nil {
		readings = []*Reading{}
	}
	return readings
}

func (h *Hub) serve(ws *websocket.Conn) {
	defer ws.Close()

	initial := map[string][]*Reading{"nodes": readingsOf(h.Nodes), "history": readingsOf(h.History)}
	if ev, err := NewEvent(EventInitialData, initial); err == nil {
		if err := websocket.JSON.Send(ws, ev); err != nil {
			glog.Warningf("failed to send initial data: %v", err)
			return
		}
	}
	glog.Infof("WebSocket client connected (total: %d)", h.add(ws))

	for {
		var ev Event
		if err := websocket.JSON.Receive(ws, &ev); err != nil {
			glog.Infof("WebSocket client disconnected (total: %d)", h.remove(ws))
			return
		}
		if ev.Type != EventControlRelay {
			glog.V(1).Infof("ignoring WebSocket event %q", ev.Type)
			continue
		}
		h.reply(ws, h.handleCommand(ev.Data))
	}
}

func (h *Hub) handleCommand(data json.RawMessage) Event {
	var cmd Command
	res := commandResult{}
	err := json.Unmarshal(data, &cmd)
	if err == nil {
		res.Command = &cmd
		if h.OnCommand == nil {
			err = errNoCommandHandler
		} else {
			err = h.OnCommand(cmd)
		}
	}
	typ := EventCommandSent
	if err != nil {
		typ = EventCommandError
		res.Message = err.Error()
	} else {
		res.Success = true
	}
	ev, _ := NewEvent(typ, res)
	return ev
}

func (h *Hub) reply(ws *websocket.Conn, ev Event) {
	if err := websocket.JSON.Send(ws, ev); err != nil {
		glog.Warningf("failed to reply to WebSocket client: %v", err)
	}
}

// Broadcast sends ev to every client, clients failing the write are dropped
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for ws := range h.clients {
		clients = append(clients, ws)
	}
	h.mu.Unlock()

	for _, ws := range clients {
		if err := websocket.JSON.Send(ws, ev); err != nil {
			glog.Warningf("dropping WebSocket client: %v", err)
			h.remove(ws)
			ws.Close()
		}
	}
}

// Publish implements Sink
func (h *Hub) Publish(r *Reading) error {
	ev, err := NewEvent(EventSensorData, r)
	if err != nil {
		return err
	}
	h.Broadcast(ev)
	if r.Ack {
		ack, err := NewEvent(EventCommandAck, commandAck{NodeID: r.ID, Relay: r.Relay})
		if err != nil {
			return err
		}
		h.Broadcast(ack)
	}
	return nil
}
