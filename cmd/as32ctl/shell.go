package main

import (
	"flag"
	"fmt"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/teeho88/LoRaNode-Gateway/pkg/as32"
	"github.com/teeho88/LoRaNode-Gateway/pkg/config"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool

	Shell  *ishell.Shell
	Config *config.Config
	Module *as32.Module
}

const shellKey = "$shell"

var evalOnly bool

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
}

// New creates a new shell.
func New(conf *config.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		Shell:       ishell.New(),
		Config:      conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(fmt.Sprintf("[%s] > ", conf.SerialPort))
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// module claims the hardware on first use
func (s *Shell) module() (*as32.Module, error) {
	if s.Module != nil {
		return s.Module, nil
	}
	m, err := s.Config.NewModule()
	if err != nil {
		return nil, err
	}
	s.Module = m
	return m, nil
}

// NeedsModule wraps command func requiring the module.
func NeedsModule(fn func(c *ishell.Context, m *as32.Module)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		m, err := ShellFrom(c).module()
		if err != nil {
			c.Err(err)
			return
		}
		fn(c, m)
	}
}

// Close restores Normal mode and releases the hardware.
func (s *Shell) Close() {
	if s.Module == nil {
		return
	}
	if err := s.Module.Close(); err != nil {
		glog.Errorf("failed to close module: %v", err)
	}
	s.Module = nil
}

// Run runs the shell.
func (s *Shell) Run(args ...string) error {
	defer s.Close()
	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if s.Interactive {
		s.Shell.Println("AS32 control shell, type help for commands")
		s.Shell.Run()
		return nil
	}
	return fmt.Errorf("command expected")
}
