package as32

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

type settingIndex int

const (
	ADDRESS settingIndex = iota
	NETWORK_ID
	PARAMETER
	CHANNEL
)

type settingsCollection [4]hal.Setting

func newSettingsCollection() settingsCollection {
	return settingsCollection{
		&Address{},
		&NetworkID{},
		&Parameter{baudRate: BAUD_9600, airRate: ADR_2400, power: POWER_20_DBM},
		&Channel{channel: 23},
	}
}

// Copy returns a deep copy, staged changes must not touch the module's view
func (obj settingsCollection) Copy() settingsCollection {
	cp := newSettingsCollection()
	for i, s := range obj {
		// values written by GetValue are always accepted by SetValue
		_ = cp[i].SetValue(s.GetValue())
	}
	return cp
}

// equalTo compares values setting by setting
func (obj settingsCollection) equalTo(other settingsCollection) bool {
	for i := range obj {
		if obj[i].GetValue() != other[i].GetValue() {
			return false
		}
	}
	return true
}

func (obj settingsCollection) String() string {
	var b strings.Builder
	for i, s := range obj {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", s.GetName(), s.GetValue())
	}
	return b.String()
}

// SetCommand returns the AT command writing s, e.g. AT+CHANNEL=23
func SetCommand(s hal.Setting) string {
	return fmt.Sprintf("AT+%s=%s", s.GetName(), s.GetValue())
}

// QueryCommand returns the AT command reading s back, e.g. AT+CHANNEL?
func QueryCommand(s hal.Setting) string {
	return fmt.Sprintf("AT+%s?", s.GetName())
}

// ParseQueryResponse finds "+NAME=value" in a query response and stores value in s
func ParseQueryResponse(s hal.Setting, response string) error {
	prefix := "+" + s.GetName() + "="
	start := strings.Index(response, prefix)
	if start < 0 {
		return fmt.Errorf("no %s in response %q", s.GetName(), response)
	}
	value := response[start+len(prefix):]
	if end := strings.IndexAny(value, "\r\n"); end >= 0 {
		value = value[:end]
	}
	return s.SetValue(strings.TrimSpace(value))
}

// ADDRESS setting

// Address is the 16 bit module address
type Address struct {
	address uint16
}

func (obj *Address) GetName() string {
	return "ADDRESS"
}

func (obj *Address) GetValue() string {
	return fmt.Sprintf("%04X", obj.address)
}

func (obj *Address) SetValue(value string) error {
	v, err := strconv.ParseUint(value, 16, 16)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", value, err)
	}
	obj.address = uint16(v)
	return nil
}

// NETWORKID setting

// NetworkID groups modules, only modules with the same id hear each other
type NetworkID struct {
	id uint8
}

func (obj *NetworkID) GetName() string {
	return "NETWORKID"
}

func (obj *NetworkID) GetValue() string {
	return fmt.Sprintf("%02X", obj.id)
}

func (obj *NetworkID) SetValue(value string) error {
	v, err := strconv.ParseUint(value, 16, 8)
	if err != nil {
		return fmt.Errorf("invalid network id %q: %w", value, err)
	}
	obj.id = uint8(v)
	return nil
}

// PARAMETER setting: <baud>,<air rate>,<power>

type baudRate uint8

// Only the code used by the deployed nodes is named, other codes are written as given.
const (
	BAUD_9600 baudRate = 9
)

const maxBaudCode = 9

type airDataRate uint8

const (
	ADR_2400 airDataRate = 5
)

const maxAirRateCode = 7

type transmittingPower uint8

const (
	POWER_20_DBM transmittingPower = iota // 100 mW
	POWER_17_DBM
	POWER_14_DBM
	POWER_10_DBM
)

// Parameter holds the UART baud code, the air data rate code and the transmit power
type Parameter struct {
	baudRate baudRate
	airRate  airDataRate
	power    transmittingPower
}

func (obj *Parameter) GetName() string {
	return "PARAMETER"
}

func (obj *Parameter) GetValue() string {
	return fmt.Sprintf("%d,%d,%d", obj.baudRate, obj.airRate, obj.power)
}

func (obj *Parameter) SetValue(value string) error {
	fields := strings.Split(value, ",")
	if len(fields) != 3 {
		return fmt.Errorf("invalid parameter %q, expected <baud>,<air rate>,<power>", value)
	}
	var codes [3]uint64
	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
		if err != nil {
			return fmt.Errorf("invalid parameter %q: %w", value, err)
		}
		codes[i] = v
	}
	return obj.set(baudRate(codes[0]), airDataRate(codes[1]), transmittingPower(codes[2]))
}

func (obj *Parameter) set(br baudRate, adr airDataRate, power transmittingPower) error {
	if br > maxBaudCode {
		return fmt.Errorf("baud rate code %d out of range 0-%d", br, maxBaudCode)
	}
	if adr > maxAirRateCode {
		return fmt.Errorf("air data rate code %d out of range 0-%d", adr, maxAirRateCode)
	}
	if power > POWER_10_DBM {
		return fmt.Errorf("transmitting power code %d out of range 0-%d", power, POWER_10_DBM)
	}
	obj.baudRate = br
	obj.airRate = adr
	obj.power = power
	return nil
}

// CHANNEL setting

// MaxChannel is the highest channel, actual frequency = 410 MHz + CH * 1 MHz
const MaxChannel = 31

// Channel selects the radio frequency
type Channel struct {
	channel uint8 // 0-31 channels
}

func (obj *Channel) GetName() string {
	return "CHANNEL"
}

func (obj *Channel) GetValue() string {
	return strconv.Itoa(int(obj.channel))
}

func (obj *Channel) SetValue(value string) error {
	v, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		return fmt.Errorf("invalid channel %q: %w", value, err)
	}
	if v > MaxChannel {
		return fmt.Errorf("channel %d out of range 0-%d", v, MaxChannel)
	}
	obj.channel = uint8(v)
	return nil
}
