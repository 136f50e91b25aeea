// Package gateway decodes sensor packets received from the LoRa nodes and fans
// them out to MQTT and WebSocket clients. It keeps a bounded history and daily
// statistics served over a REST API. Relay commands travel the other way.
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teeho88/LoRaNode-Gateway/pkg/framing"
)

// Reading is one sensor node report. Nodes with two sensors fill Temp1/Hum1 and
// Temp2/Hum2 and report the average in Temp/Hum.
type Reading struct {
	ID     string   `json:"id"`
	Temp   *float64 `json:"temp,omitempty"`
	Hum    *float64 `json:"hum,omitempty"`
	Temp1  *float64 `json:"temp1,omitempty"`
	Hum1   *float64 `json:"hum1,omitempty"`
	Temp2  *float64 `json:"temp2,omitempty"`
	Hum2   *float64 `json:"hum2,omitempty"`
	Relay  bool     `json:"relay"`
	Manual bool     `json:"manual"`
	Ack    bool     `json:"ack,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ParseReading decodes a framed packet, e.g. <{"id":"N1","temp":25.5}>
func ParseReading(packet string) (*Reading, error) {
	body := strings.TrimSpace(packet)
	body = strings.TrimPrefix(body, string(framing.OpenMarker))
	body = strings.TrimSuffix(body, string(framing.CloseMarker))
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("empty packet")
	}
	var r Reading
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("failed to decode packet %q: %w", body, err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("packet %q has no node id", body)
	}
	return &r, nil
}

// DualSensor reports whether both sensors of the node are present
func (r *Reading) DualSensor() bool {
	return r.Temp1 != nil && r.Temp2 != nil
}

func formatValue(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

func (r *Reading) String() string {
	relay := "OFF"
	if r.Relay {
		relay = "ON"
	}
	ctl := "Auto"
	if r.Manual {
		ctl = "Manual"
	}
	if r.DualSensor() {
		return fmt.Sprintf("%s | S1: %s°C %s%% | S2: %s°C %s%% | Avg: %s°C %s%% | Relay: %s [%s]",
			r.ID, formatValue(r.Temp1), formatValue(r.Hum1), formatValue(r.Temp2), formatValue(r.Hum2),
			formatValue(r.Temp), formatValue(r.Hum), relay, ctl)
	}
	return fmt.Sprintf("%s | %s°C %s%% | Relay: %s [%s]",
		r.ID, formatValue(r.Temp), formatValue(r.Hum), relay, ctl)
}

// Command is sent to a node, Relay switches its relay and Auto returns it to automatic control
type Command struct {
	Target string `json:"target"`
	Relay  *bool  `json:"relay,omitempty"`
	Auto   *bool  `json:"auto,omitempty"`
}

// Encode returns the packet payload, without frame markers
func (c Command) Encode() ([]byte, error) {
	if c.Target == "" {
		return nil, fmt.Errorf("target node id is required")
	}
	return json.Marshal(c)
}

func (c Command) String() string {
	var parts []string
	if c.Relay != nil {
		if *c.Relay {
			parts = append(parts, "Relay ON")
		} else {
			parts = append(parts, "Relay OFF")
		}
	}
	if c.Auto != nil && *c.Auto {
		parts = append(parts, "Mode AUTO")
	}
	return fmt.Sprintf("%s: %s", c.Target, strings.Join(parts, ", "))
}
