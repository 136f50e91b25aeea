// Command as32ctl configures and diagnoses an AS32 LoRa module wired to the
// host UART and GPIO lines.
//
//	as32ctl                 interactive shell
//	as32ctl -e discover     run one command and exit
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/teeho88/LoRaNode-Gateway/pkg/config"
)

func init() {
	config.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()
	if err := New(config.NewConfig()).Run(flag.Args()...); err != nil {
		glog.Error(err)
		glog.Flush()
		os.Exit(1)
	}
}
