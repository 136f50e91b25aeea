package gateway

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/mazen160/go-random"
)

// Sink receives every decoded reading
type Sink interface {
	Publish(r *Reading) error
}

// PacketSender transmits a payload to the nodes, framing is up to the sender
type PacketSender interface {
	SendPacket(payload []byte) error
}

// Gateway keeps the latest reading per node, a bounded history and daily
// statistics, and forwards readings to its sinks
type Gateway struct {
	// Session identifies this gateway run in logs and events
	Session string
	Sender  PacketSender
	// MaxHistory bounds the history, DefaultMaxHistory when zero
	MaxHistory int

	mu      sync.RWMutex
	sinks   []Sink
	latest  map[string]*Reading
	history []*Reading
	stats   map[string]map[string]*DailyStats

	now func() time.Time
}

// New creates a Gateway sending commands through sender
func New(sender PacketSender, sinks ...Sink) *Gateway {
	session, err := random.String(8)
	if err != nil {
		glog.Warningf("failed to generate session id: %v", err)
		session = fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return &Gateway{
		Session:    session,
		Sender:     sender,
		MaxHistory: DefaultMaxHistory,
		sinks:      sinks,
		latest:     make(map[string]*Reading),
		stats:      make(map[string]map[string]*DailyStats),
		now:        time.Now,
	}
}

// AddSink adds a sink for the following readings
func (g *Gateway) AddSink(s Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinks = append(g.sinks, s)
}

// HandlePacket decodes a framed packet and fans it out. Undecodable packets are
// logged and dropped, radio noise produces them routinely.
func (g *Gateway) HandlePacket(packet string) {
	r, err := ParseReading(packet)
	if err != nil {
		glog.Warningf("[%s] dropping packet: %v", g.Session, err)
		return
	}
	r.Timestamp = g.now()

	g.mu.Lock()
	g.latest[r.ID] = r
	g.record(r)
	sinks := append([]Sink(nil), g.sinks...)
	g.mu.Unlock()

	glog.Infof("[%s] %s", g.Session, r)
	if r.Ack {
		glog.Infof("[%s] ACK from %s", g.Session, r.ID)
	}
	for _, s := range sinks {
		if err := s.Publish(r); err != nil {
			glog.Warningf("[%s] failed to publish reading of %s: %v", g.Session, r.ID, err)
		}
	}
}

// Nodes returns the latest reading of every node, sorted by id
func (g *Gateway) Nodes() []*Reading {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]*Reading, 0, len(g.latest))
	for _, r := range g.latest {
		nodes = append(nodes, r)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// SendCommand encodes cmd and hands it to the sender
func (g *Gateway) SendCommand(cmd Command) error {
	if g.Sender == nil {
		return fmt.Errorf("no packet sender, serial port not available")
	}
	payload, err := cmd.Encode()
	if err != nil {
		return err
	}
	if err := g.Sender.SendPacket(payload); err != nil {
		return fmt.Errorf("failed to send command to %s: %w", cmd.Target, err)
	}
	glog.Infof("[%s] command -> %s", g.Session, cmd)
	return nil
}
