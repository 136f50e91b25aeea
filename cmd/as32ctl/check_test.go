package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckDevice(t *testing.T) {
	missing := func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
	r := checkDevice("/dev/ttyAMA0", missing)
	require.Equal(t, checkFail, r.Status)
	require.Contains(t, r.String(), "raspi-config")

	r = checkDevice(os.TempDir(), os.Stat)
	require.Equal(t, checkOK, r.Status)
}

func TestCheckPorts(t *testing.T) {
	require.Equal(t, checkOK, checkPorts("/dev/ttyS0", []string{"/dev/ttyAMA0", "/dev/ttyS0"}, nil).Status)
	require.Equal(t, checkWarn, checkPorts("/dev/ttyS0", []string{"/dev/ttyAMA0"}, nil).Status)
	require.Equal(t, checkWarn, checkPorts("/dev/ttyS0", nil, nil).Status)
	require.Equal(t, checkWarn, checkPorts("/dev/ttyS0", nil, errors.New("no permission")).Status)
}

func TestCheckGroups(t *testing.T) {
	require.Equal(t, checkOK, checkGroups([]string{"pi", "dialout"}, nil).Status)
	require.Equal(t, checkFail, checkGroups([]string{"pi"}, nil).Status)
	require.Equal(t, checkWarn, checkGroups(nil, errors.New("unknown user")).Status)
}

func TestCheckBootConfig(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		err     error
		want    []checkStatus
	}{
		{name: "configured", content: "[all]\nenable_uart=1\ndtoverlay=disable-bt\n", want: []checkStatus{checkOK, checkOK}},
		{name: "commented", content: "#enable_uart=1\n  dtoverlay=disable-bt\n", want: []checkStatus{checkWarn, checkOK}},
		{name: "empty", content: "", want: []checkStatus{checkWarn, checkWarn}},
		{name: "unreadable", err: os.ErrPermission, want: []checkStatus{checkWarn}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			results := checkBootConfig(tc.content, tc.err)
			got := make([]checkStatus, 0, len(results))
			for _, r := range results {
				got = append(got, r.Status)
			}
			require.Equal(t, tc.want, got)
		})
	}
}
