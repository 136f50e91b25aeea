// Package config holds the settings shared by the gateway daemon and as32ctl.
// Defaults come from AS32_* environment variables and can be overridden by flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang/glog"

	"github.com/teeho88/LoRaNode-Gateway/pkg/as32"
	"github.com/teeho88/LoRaNode-Gateway/pkg/at"
	"github.com/teeho88/LoRaNode-Gateway/pkg/common"
)

// Config describes the wiring of one AS32 module and the gateway endpoints
type Config struct {
	SerialPort string
	GPIOChip   string
	M0Pin      int
	M1Pin      int
	AUXPin     int
	BaudRate   int
	// Terminator is crlf, lf, cr or none
	Terminator string

	// MQTTURL is e.g. mqtt://host:1883/lora/, empty disables MQTT
	MQTTURL string
	// WSAddr is the listen address of the HTTP server carrying /ws and the REST API, empty disables it
	WSAddr string
	// MaxHistory bounds the readings kept in memory
	MaxHistory int
}

var defaultConfig = Config{
	SerialPort: "/dev/ttyAMA0",
	GPIOChip:   "gpiochip0",
	M0Pin:      23,
	M1Pin:      24,
	AUXPin:     18,
	BaudRate:   as32.DefaultBaudRate,
	Terminator: "crlf",
	WSAddr:     ":3000",
	MaxHistory: 500,
}

func init() {
	loadEnv(&defaultConfig, os.Getenv)
}

func loadEnv(c *Config, getenv func(string) string) {
	if val := getenv("AS32_SERIAL_PORT"); val != "" {
		c.SerialPort = val
	}
	if val := getenv("AS32_GPIO_CHIP"); val != "" {
		c.GPIOChip = val
	}
	envInt(getenv, "AS32_M0", &c.M0Pin)
	envInt(getenv, "AS32_M1", &c.M1Pin)
	envInt(getenv, "AS32_AUX", &c.AUXPin)
	envInt(getenv, "AS32_BAUD", &c.BaudRate)
	if val := getenv("AS32_TERMINATOR"); val != "" {
		c.Terminator = val
	}
	if val := getenv("AS32_MQTT_URL"); val != "" {
		c.MQTTURL = val
	}
	if val := getenv("AS32_WS_ADDR"); val != "" {
		c.WSAddr = val
	}
	envInt(getenv, "AS32_MAX_HISTORY", &c.MaxHistory)
}

func envInt(getenv func(string) string, name string, dst *int) {
	val := getenv(name)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		glog.Warningf("ignoring %s=%q: %v", name, val, err)
		return
	}
	*dst = n
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.SerialPort, "port", defaultConfig.SerialPort, "Serial device of the module.")
	flag.StringVar(&defaultConfig.GPIOChip, "gpio-chip", defaultConfig.GPIOChip, "GPIO chip of the control lines.")
	flag.IntVar(&defaultConfig.M0Pin, "m0", defaultConfig.M0Pin, "M0 line offset.")
	flag.IntVar(&defaultConfig.M1Pin, "m1", defaultConfig.M1Pin, "M1 line offset.")
	flag.IntVar(&defaultConfig.AUXPin, "aux", defaultConfig.AUXPin, "AUX line offset.")
	flag.IntVar(&defaultConfig.BaudRate, "baud", defaultConfig.BaudRate, "Serial baud rate.")
	flag.StringVar(&defaultConfig.Terminator, "terminator", defaultConfig.Terminator, "AT command terminator: crlf, lf, cr or none.")
	flag.StringVar(&defaultConfig.MQTTURL, "mqtt", defaultConfig.MQTTURL, "MQTT broker URL, e.g. mqtt://localhost:1883/lora/.")
	flag.StringVar(&defaultConfig.WSAddr, "ws", defaultConfig.WSAddr, "HTTP listen address of the WebSocket server and REST API.")
	flag.IntVar(&defaultConfig.MaxHistory, "history", defaultConfig.MaxHistory, "Readings kept in memory for the history API.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Options returns the serial options of the module
func (c *Config) Options() (as32.Options, error) {
	term, err := at.ParseTerminator(c.Terminator)
	if err != nil {
		return as32.Options{}, err
	}
	if c.BaudRate <= 0 {
		return as32.Options{}, fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	return as32.Options{
		Path:       c.SerialPort,
		BaudRate:   c.BaudRate,
		Terminator: term,
	}, nil
}

// NewModule claims the control lines and creates the module. Closing the
// module releases the lines.
func (c *Config) NewModule() (*as32.Module, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	hw, err := common.NewHWHandler(c.M0Pin, c.M1Pin, c.AUXPin, c.SerialPort, c.GPIOChip)
	if err != nil {
		return nil, fmt.Errorf("failed to set up hardware: %w", err)
	}
	module, err := as32.NewModule(hw.Lines, hw.Opener, opts)
	if err != nil {
		hw.Close()
		return nil, err
	}
	return module, nil
}
