package main

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/teeho88/LoRaNode-Gateway/pkg/common"
)

const bootConfigPath = "/boot/config.txt"

type checkStatus int

const (
	checkOK checkStatus = iota
	checkWarn
	checkFail
)

func (s checkStatus) String() string {
	switch s {
	case checkOK:
		return "ok"
	case checkWarn:
		return "warn"
	default:
		return "FAIL"
	}
}

// checkResult is one line of the host report, Hint tells how to fix it
type checkResult struct {
	Status  checkStatus
	Message string
	Hint    string
}

func (r checkResult) String() string {
	if r.Hint == "" || r.Status == checkOK {
		return fmt.Sprintf("[%-4s] %s", r.Status, r.Message)
	}
	return fmt.Sprintf("[%-4s] %s\n       %s", r.Status, r.Message, r.Hint)
}

func checkDevice(path string, stat func(string) (os.FileInfo, error)) checkResult {
	if _, err := stat(path); err != nil {
		return checkResult{
			Status:  checkFail,
			Message: fmt.Sprintf("%s not found", path),
			Hint:    "Run: sudo raspi-config, Interface Options, Serial Port",
		}
	}
	return checkResult{Status: checkOK, Message: fmt.Sprintf("%s exists", path)}
}

func checkPorts(path string, ports []string, err error) checkResult {
	if err != nil {
		return checkResult{Status: checkWarn, Message: err.Error()}
	}
	for _, p := range ports {
		if p == path {
			return checkResult{Status: checkOK, Message: fmt.Sprintf("serial ports: %s", strings.Join(ports, ", "))}
		}
	}
	if len(ports) == 0 {
		return checkResult{Status: checkWarn, Message: "no serial ports enumerated"}
	}
	return checkResult{
		Status:  checkWarn,
		Message: fmt.Sprintf("%s not among enumerated ports: %s", path, strings.Join(ports, ", ")),
	}
}

func checkGroups(groups []string, err error) checkResult {
	if err != nil {
		return checkResult{Status: checkWarn, Message: fmt.Sprintf("failed to read user groups: %v", err)}
	}
	for _, g := range groups {
		if g == "dialout" {
			return checkResult{Status: checkOK, Message: "user is in 'dialout' group"}
		}
	}
	return checkResult{
		Status:  checkFail,
		Message: "user NOT in 'dialout' group",
		Hint:    "Run: sudo usermod -a -G dialout $USER, then logout and login again",
	}
}

func checkBootConfig(content string, err error) []checkResult {
	if err != nil {
		return []checkResult{{Status: checkWarn, Message: fmt.Sprintf("cannot read %s", bootConfigPath)}}
	}
	var results []checkResult
	if hasConfigLine(content, "enable_uart=1") {
		results = append(results, checkResult{Status: checkOK, Message: "UART enabled"})
	} else {
		results = append(results, checkResult{
			Status:  checkWarn,
			Message: "UART may not be enabled",
			Hint:    fmt.Sprintf("Add 'enable_uart=1' to %s", bootConfigPath),
		})
	}
	if hasConfigLine(content, "dtoverlay=disable-bt") {
		results = append(results, checkResult{Status: checkOK, Message: "Bluetooth disabled, UART available"})
	} else {
		results = append(results, checkResult{
			Status:  checkWarn,
			Message: "Bluetooth may be using the UART",
			Hint:    fmt.Sprintf("Add 'dtoverlay=disable-bt' to %s", bootConfigPath),
		})
	}
	return results
}

// hasConfigLine ignores commented out lines
func hasConfigLine(content string, want string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}
		if line == want {
			return true
		}
	}
	return false
}

func userGroups() ([]string, error) {
	u, err := user.Current()
	if err != nil {
		return nil, err
	}
	ids, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		g, err := user.LookupGroupId(id)
		if err != nil {
			continue
		}
		names = append(names, g.Name)
	}
	return names, nil
}

// checkHost inspects the serial device and the Raspberry Pi UART setup
func checkHost(path string) []checkResult {
	results := []checkResult{checkDevice(path, os.Stat)}
	ports, err := common.ListPorts()
	results = append(results, checkPorts(path, ports, err))
	results = append(results, checkGroups(userGroups()))
	content, err := os.ReadFile(bootConfigPath)
	results = append(results, checkBootConfig(string(content), err)...)
	return results
}
