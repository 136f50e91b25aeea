package common

import (
	"fmt"

	bugst "go.bug.st/serial"
)

// ListPorts enumerates the serial devices present on the host
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
