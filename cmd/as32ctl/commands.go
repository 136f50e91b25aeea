package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/teeho88/LoRaNode-Gateway/pkg/as32"
	"github.com/teeho88/LoRaNode-Gateway/pkg/at"
	"github.com/teeho88/LoRaNode-Gateway/pkg/common"
	"github.com/teeho88/LoRaNode-Gateway/pkg/discovery"
	"github.com/teeho88/LoRaNode-Gateway/pkg/gateway"
	"github.com/teeho88/LoRaNode-Gateway/pkg/hal"
)

var commands = []*ishell.Cmd{
	&CheckCmd,
	&PortsCmd,
	&NormalCmd,
	&ModesCmd,
	&ConfigureCmd,
	&DiscoverCmd,
	&FormatsCmd,
	&DelaysCmd,
	&InfoCmd,
	&ATCmd,
	&ConsoleCmd,
	&StreamCmd,
	&SendCmd,
	&RelayCmd,
}

// interruptContext is cancelled by Ctrl+C, or after d when d is positive
func interruptContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if d <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, func() {
		cancel()
		stop()
	}
}

func parseBaudRates(args []string) ([]int, error) {
	bauds := make([]int, 0, len(args))
	for _, a := range args {
		b, err := strconv.Atoi(a)
		if err != nil || b <= 0 {
			return nil, fmt.Errorf("invalid baud rate %q", a)
		}
		bauds = append(bauds, b)
	}
	return bauds, nil
}

// builderFromArgs stages NAME=VALUE arguments, or the gateway defaults when there are none
func builderFromArgs(m *as32.Module, args []string) (*as32.ConfigBuilder, error) {
	if len(args) == 0 {
		return as32.DefaultConfigBuilder(m), nil
	}
	cb := as32.NewConfigBuilder(m)
	for _, a := range args {
		name, value, found := strings.Cut(a, "=")
		if !found {
			return nil, fmt.Errorf("expected NAME=VALUE, got %q", a)
		}
		cb.Set(name, value)
	}
	return cb, nil
}

func printTransactions(c *ishell.Context, txs []*at.Transaction) {
	for _, tx := range txs {
		c.Println(tx)
	}
}

func printResult(c *ishell.Context, m *as32.Module, res *discovery.Result) {
	if res.Accepted == nil {
		c.Printf("no candidate answered OK after %d attempts\n", len(res.Attempts))
		for _, weak := range res.WeakSignals() {
			c.Printf("  module answered ERROR at %s, baud rate is probably right\n", weak)
		}
		return
	}
	c.Printf("module answers at %s\n", res.Accepted)
	for i := range res.Diagnostics {
		c.Printf("  %s\n", &res.Diagnostics[i])
	}
	c.Println(m.GetModuleConfiguration())
}

// discover runs the prober with progress lines printed to the shell
func discover(c *ishell.Context, m *as32.Module, target hal.ChipMode, candidates []discovery.LinkConfig) {
	m.Prober.OnAttempt = func(a discovery.Attempt) {
		c.Printf("  %s\n", &a)
	}
	defer func() { m.Prober.OnAttempt = nil }()

	ctx, cancel := interruptContext(0)
	defer cancel()
	c.Printf("probing %d candidates in %s mode, Ctrl+C to stop\n", len(candidates), target)
	res, err := m.Discover(ctx, target, candidates, discovery.DefaultProbe)
	if res != nil {
		printResult(c, m, res)
	}
	if err != nil {
		c.Err(err)
	}
}

var (
	// CheckCmd inspects the host UART setup.
	CheckCmd = ishell.Cmd{
		Name: "check",
		Help: "check serial device, user groups and /boot/config.txt",
		Func: func(c *ishell.Context) {
			for _, r := range checkHost(ShellFrom(c).Config.SerialPort) {
				c.Println(r)
			}
		},
	}

	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name: "ports",
		Help: "list serial ports",
		Func: func(c *ishell.Context) {
			ports, err := common.ListPorts()
			if err != nil {
				c.Err(err)
				return
			}
			for _, p := range ports {
				c.Println(p)
			}
		},
	}

	// NormalCmd selects Normal mode.
	NormalCmd = ishell.Cmd{
		Name: "normal",
		Help: "set Normal mode (M0=LOW, M1=LOW)",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			if err := m.SetNormal(); err != nil {
				c.Err(err)
				return
			}
			ready := m.Controller().WaitReady(m.ReadyTimeout)
			c.Printf("Normal mode, AUX ready=%t\n", ready)
		}),
	}

	// ModesCmd visits every mode.
	ModesCmd = ishell.Cmd{
		Name: "modes",
		Help: "[COMMAND] send COMMAND (default AT) in every mode",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			command := discovery.DefaultProbe
			if len(c.Args) > 0 {
				command = strings.Join(c.Args, " ")
			}
			reports, err := m.SurveyModes(command)
			for _, r := range reports {
				c.Println(r)
			}
			if err != nil {
				c.Err(err)
			}
		}),
	}

	// ConfigureCmd writes settings.
	ConfigureCmd = ishell.Cmd{
		Name:     "configure",
		Aliases:  []string{"config"},
		Help:     "[temp] [NAME=VALUE ...] write settings, gateway defaults when none given",
		LongHelp: "Settings: ADDRESS=0001 NETWORKID=00 PARAMETER=9,5,0 CHANNEL=23.\nWith temp the settings are not saved and are lost on reset.",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			args := c.Args
			permanent := true
			if len(args) > 0 && args[0] == "temp" {
				permanent = false
				args = args[1:]
			}
			cb, err := builderFromArgs(m, args)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("writing %s\n", strings.Join(cb.Commands(), " "))
			var txs []*at.Transaction
			if permanent {
				txs, err = cb.WritePermanentConfig()
			} else {
				txs, err = cb.WriteTemporaryConfig()
			}
			printTransactions(c, txs)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(m.GetModuleConfiguration())
		}),
	}

	// DiscoverCmd scans baud rates.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"scan"},
		Help:    "[sleep] [BAUD ...] find the baud rate the module answers at",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			args := c.Args
			target := hal.ModeConfig
			if len(args) > 0 && args[0] == "sleep" {
				target = hal.ModeSleep
				args = args[1:]
			}
			bauds := discovery.DefaultBaudRates
			if len(args) > 0 {
				var err error
				if bauds, err = parseBaudRates(args); err != nil {
					c.Err(err)
					return
				}
			}
			discover(c, m, target, discovery.Matrix(bauds, []at.Terminator{m.Link().Terminator}))
		}),
	}

	// FormatsCmd tries every terminator.
	FormatsCmd = ishell.Cmd{
		Name: "formats",
		Help: "[BAUD] try every command terminator at BAUD (default current)",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			bauds := []int{m.Link().BaudRate}
			if len(c.Args) > 0 {
				var err error
				if bauds, err = parseBaudRates(c.Args[:1]); err != nil {
					c.Err(err)
					return
				}
			}
			discover(c, m, hal.ModeConfig, discovery.Matrix(bauds, at.Terminators()))
		}),
	}

	// DelaysCmd sweeps the Config mode settle delay.
	DelaysCmd = ishell.Cmd{
		Name: "delays",
		Help: "[SECONDS ...] find the settle delay after which the module answers in Config mode",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			var delays []time.Duration
			for _, a := range c.Args {
				secs, err := strconv.ParseFloat(a, 64)
				if err != nil || secs <= 0 {
					c.Err(fmt.Errorf("invalid delay %q", a))
					return
				}
				delays = append(delays, time.Duration(secs*float64(time.Second)))
			}
			trials, accepted, err := m.SweepSettle(delays, "")
			for _, t := range trials {
				c.Printf("%s: AUX ready=%t, %s\n", t.Settle, t.Ready, t.Transaction)
			}
			if err != nil {
				c.Err(err)
				return
			}
			if accepted == 0 {
				c.Println("module did not answer OK with any delay")
				return
			}
			c.Printf("module answers after %s\n", accepted)
		}),
	}

	// InfoCmd queries the settings.
	InfoCmd = ishell.Cmd{
		Name: "info",
		Help: "read address, parameters, channel and network id",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			diags, err := m.Info()
			for i := range diags {
				c.Println(&diags[i])
			}
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(m.GetModuleConfiguration())
		}),
	}

	// ATCmd sends one command in Config mode.
	ATCmd = ishell.Cmd{
		Name: "at",
		Help: "COMMAND send one AT command in Config mode, e.g. at AT+CHANNEL?",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("command expected"))
				return
			}
			if ready, err := m.EnterConfig(); err != nil {
				c.Err(err)
				return
			} else if !ready {
				c.Println("AUX did not signal ready, sending anyway")
			}
			defer func() {
				if err := m.SetNormal(); err != nil {
					c.Err(err)
				}
			}()
			tx, err := m.Command(strings.Join(c.Args, " "), 0)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(tx)
		}),
	}

	// ConsoleCmd is the manual AT entry mode.
	ConsoleCmd = ishell.Cmd{
		Name: "console",
		Help: "type AT commands in Config mode, empty line or exit to leave",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			if _, err := m.EnterConfig(); err != nil {
				c.Err(err)
				return
			}
			defer func() {
				if err := m.SetNormal(); err != nil {
					c.Err(err)
				}
			}()
			c.Println("Examples: AT, AT+ADDRESS?, AT+PARAMETER?")
			c.ShowPrompt(false)
			defer c.ShowPrompt(true)
			for {
				c.Print("AT> ")
				line := strings.TrimSpace(c.ReadLine())
				if line == "" || line == "exit" || line == "quit" {
					return
				}
				tx, err := m.Command(line, 0)
				if err != nil {
					c.Err(err)
					continue
				}
				if tx.Outcome == at.OutcomeNoResponse {
					c.Println("(no response)")
					continue
				}
				c.Println(tx.Text())
			}
		}),
	}

	// StreamCmd prints received packets.
	StreamCmd = ishell.Cmd{
		Name:    "stream",
		Aliases: []string{"listen"},
		Help:    "[SECONDS] print packets received in Normal mode, Ctrl+C to stop",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			var d time.Duration
			if len(c.Args) > 0 {
				secs, err := strconv.Atoi(c.Args[0])
				if err != nil {
					c.Err(fmt.Errorf("invalid duration %q", c.Args[0]))
					return
				}
				d = time.Duration(secs) * time.Second
			}
			ctx, cancel := interruptContext(d)
			defer cancel()
			err := m.Stream(ctx, func(packet string) {
				if r, err := gateway.ParseReading(packet); err == nil {
					c.Println(r)
					return
				}
				c.Println(packet)
			})
			if err != nil {
				c.Err(err)
			}
		}),
	}

	// SendCmd transmits raw text.
	SendCmd = ishell.Cmd{
		Name: "send",
		Help: "TEXT transmit TEXT as one framed packet",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("text expected"))
				return
			}
			if err := m.SendPacket([]byte(strings.Join(c.Args, " "))); err != nil {
				c.Err(err)
			}
		}),
	}

	// RelayCmd commands a node relay.
	RelayCmd = ishell.Cmd{
		Name: "relay",
		Help: "NODE on|off|auto switch the relay of NODE or return it to automatic control",
		Func: NeedsModule(func(c *ishell.Context, m *as32.Module) {
			if len(c.Args) != 2 {
				c.Err(fmt.Errorf("NODE on|off|auto expected"))
				return
			}
			cmd := gateway.Command{Target: c.Args[0]}
			on, off, auto := true, false, true
			switch c.Args[1] {
			case "on":
				cmd.Relay = &on
			case "off":
				cmd.Relay = &off
			case "auto":
				cmd.Auto = &auto
			default:
				c.Err(fmt.Errorf("unknown relay state %q", c.Args[1]))
				return
			}
			if err := gateway.New(m).SendCommand(cmd); err != nil {
				c.Err(err)
				return
			}
			c.Printf("sent %s\n", cmd)
		}),
	}
)
