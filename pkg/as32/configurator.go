package as32

import (
	"fmt"
	"strings"

	"github.com/teeho88/LoRaNode-Gateway/pkg/at"
	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

// ConfigBuilder object that is used to build an AS32 config.
// Only the settings that were set are written, in the order they were set.
type ConfigBuilder struct {
	module         *Module
	stagedSettings settingsCollection
	order          []settingIndex
	err            error
}

// NewConfigBuilder constructs ConfigBuilder
func NewConfigBuilder(module *Module) *ConfigBuilder {
	return &ConfigBuilder{
		module:         module,
		stagedSettings: module.Settings(), // copy current values
	}
}

// DefaultConfigBuilder stages the settings every gateway node uses:
// address 0001, network 00, 9600 baud, 2.4k air rate, 20 dBm, channel 23 (433 MHz)
func DefaultConfigBuilder(module *Module) *ConfigBuilder {
	return NewConfigBuilder(module).
		Address(0x0001).
		NetworkID(0x00).
		Parameter(BAUD_9600, ADR_2400, POWER_20_DBM).
		Channel(23)
}

func (obj *ConfigBuilder) stage(index settingIndex) {
	for _, i := range obj.order {
		if i == index {
			return
		}
	}
	obj.order = append(obj.order, index)
}

// Address set module address
func (obj *ConfigBuilder) Address(address uint16) *ConfigBuilder {
	obj.stagedSettings[ADDRESS].(*Address).address = address
	obj.stage(ADDRESS)
	return obj
}

// NetworkID set module network id
func (obj *ConfigBuilder) NetworkID(id uint8) *ConfigBuilder {
	obj.stagedSettings[NETWORK_ID].(*NetworkID).id = id
	obj.stage(NETWORK_ID)
	return obj
}

// Parameter set serial baud rate, air data rate and transmitting power codes
func (obj *ConfigBuilder) Parameter(br baudRate, adr airDataRate, power transmittingPower) *ConfigBuilder {
	err := obj.stagedSettings[PARAMETER].(*Parameter).set(br, adr, power)
	if err != nil {
		obj.err = err
		return obj
	}
	obj.stage(PARAMETER)
	return obj
}

// Channel sets module channel, range 0-31
func (obj *ConfigBuilder) Channel(channel uint8) *ConfigBuilder {
	if channel > MaxChannel {
		obj.err = fmt.Errorf("channel %d out of range 0-%d", channel, MaxChannel)
		return obj
	}
	obj.stagedSettings[CHANNEL].(*Channel).channel = channel
	obj.stage(CHANNEL)
	return obj
}

// Set parses value into the setting called name, e.g. Set("PARAMETER", "9,5,0")
func (obj *ConfigBuilder) Set(name string, value string) *ConfigBuilder {
	for i, s := range obj.stagedSettings {
		if !strings.EqualFold(s.GetName(), name) {
			continue
		}
		if err := s.SetValue(value); err != nil {
			obj.err = err
			return obj
		}
		obj.stage(settingIndex(i))
		return obj
	}
	obj.err = fmt.Errorf("unknown setting %q", name)
	return obj
}

// Commands returns the AT commands a write would send, SAVE and RESET excluded
func (obj *ConfigBuilder) Commands() []string {
	cmds := make([]string, 0, len(obj.order))
	for _, i := range obj.order {
		cmds = append(cmds, SetCommand(obj.stagedSettings[i]))
	}
	return cmds
}

func (obj *ConfigBuilder) staged() ([]hal.Setting, error) {
	if obj.err != nil {
		return nil, obj.err
	}
	if len(obj.order) == 0 {
		return nil, fmt.Errorf("no settings staged, ignoring")
	}
	settings := make([]hal.Setting, 0, len(obj.order))
	for _, i := range obj.order {
		settings = append(settings, obj.stagedSettings[i])
	}
	return settings, nil
}

// WritePermanentConfig writes new config to the module, saves it and resets the module
func (obj *ConfigBuilder) WritePermanentConfig() ([]*at.Transaction, error) {
	settings, err := obj.staged()
	if err != nil {
		return nil, err
	}
	return obj.module.ApplySettings(settings, true)
}

// WriteTemporaryConfig writes new config to the module but, on module reset config is lost
func (obj *ConfigBuilder) WriteTemporaryConfig() ([]*at.Transaction, error) {
	settings, err := obj.staged()
	if err != nil {
		return nil, err
	}
	return obj.module.ApplySettings(settings, false)
}
