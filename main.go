// Command LoRaNode-Gateway listens to sensor nodes through an AS32 module in
// Normal mode and forwards their readings to MQTT and WebSocket clients. The
// REST API serves the latest readings, a bounded history and daily statistics.
// Relay commands from any of them are sent back over the air.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/teeho88/LoRaNode-Gateway/pkg/config"
	"github.com/teeho88/LoRaNode-Gateway/pkg/gateway"
)

// initialHistory is the number of recent readings a WebSocket client gets on connect
const initialHistory = 50

func init() {
	config.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()
	if err := run(config.NewConfig()); err != nil {
		glog.Error(err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(conf *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// claim control lines and put the module in Normal mode
	module, err := conf.NewModule()
	if err != nil {
		return err
	}
	defer func() {
		if err := module.Close(); err != nil {
			glog.Errorf("failed to close module: %v", err)
		}
	}()

	gw := gateway.New(module)
	gw.MaxHistory = conf.MaxHistory
	glog.Infof("gateway session %s on %s", gw.Session, conf.SerialPort)

	if conf.MQTTURL != "" {
		pub, err := gateway.NewMQTTPublisher(conf.MQTTURL)
		if err != nil {
			return err
		}
		if err := pub.Connect(); err != nil {
			return err
		}
		defer pub.Close()
		if err := pub.SubscribeCommands(gw.SendCommand); err != nil {
			return err
		}
		gw.AddSink(pub)
	}

	if conf.WSAddr != "" {
		hub := gateway.NewHub()
		hub.Nodes = gw.Nodes
		hub.History = func() []*gateway.Reading {
			return gw.History(gateway.HistoryQuery{Limit: initialHistory})
		}
		hub.OnCommand = gw.SendCommand
		gw.AddSink(hub)

		api := gateway.NewAPI(gw)
		api.Clients = hub.Clients
		api.SerialPort = conf.SerialPort
		api.BaudRate = module.Link().BaudRate

		mux := http.NewServeMux()
		mux.Handle("/ws", hub.Handler())
		api.Register(mux)
		srv := &http.Server{Addr: conf.WSAddr, Handler: mux}
		go func() {
			glog.Infof("HTTP server listening on %s, WebSocket at /ws, REST API at /api", conf.WSAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				glog.Errorf("HTTP server failed: %v", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				glog.Warningf("HTTP server shutdown: %v", err)
			}
		}()
	}

	// read packets until interrupted
	return module.Stream(ctx, gw.HandlePacket)
}
