// MTU API owns the meter pins, runs reads on request and broadcasts the
// results to websocket clients such as read_collector.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/config"
	"github.com/NotCoffee418/water_meter_mtu/pkg/gpio"
	"github.com/NotCoffee418/water_meter_mtu/pkg/logging"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtu"
	"github.com/NotCoffee418/water_meter_mtu/pkg/pathing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/readfeed"
	"github.com/NotCoffee418/water_meter_mtu/pkg/rt"
	"github.com/NotCoffee418/water_meter_mtu/pkg/statusmirror"
	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	"github.com/NotCoffee418/water_meter_mtu/pkg/uarttap"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := pathing.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	// Load config
	if err := config.LoadMtuAPIConfig(); err != nil {
		log.Fatalf("Failed to load MTU API config: %v", err)
	}
	cfg := config.ActiveMtuAPIConfig
	if err := logging.Setup(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	mtuCfg, err := cfg.MtuConfig()
	if err != nil {
		log.Fatalf("Invalid MTU config: %v", err)
	}

	if err := rt.Prepare(); err != nil {
		log.Warnf("Real-time setup incomplete, clock jitter may increase: %v", err)
	}

	// Pins are owned by the session for the process lifetime
	if err := gpio.Open(); err != nil {
		log.Fatalf("Failed to open GPIO: %v", err)
	}
	defer gpio.Close()

	clock, err := gpio.OpenOutput(cfg.ClockPin, gpio.Low)
	if err != nil {
		log.Fatalf("Failed to open clock pin: %v", err)
	}
	defer clock.Close()
	data, err := gpio.OpenInput(cfg.DataPin)
	if err != nil {
		log.Fatalf("Failed to open data pin: %v", err)
	}
	defer data.Close()

	session, err := mtu.New(clock, data, mtu.NewTickerTimer(), mtuCfg)
	if err != nil {
		log.Fatalf("Failed to create MTU session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := readfeed.NewHub()

	// Optional Modbus mirror of the counters
	var mirror *statusmirror.Mirror
	if statusmirror.IsConfigured(cfg.Mirror) {
		mirror, err = statusmirror.New(cfg.Mirror)
		if err != nil {
			log.Fatalf("Failed to create status mirror: %v", err)
		}
		go mirror.Run(ctx)
		log.Infof("Mirroring MTU counters to %s:%d", cfg.Mirror.ModbusHost, cfg.Mirror.ModbusPort)
	}

	session.OnRead(func(res mtu.ReadResult) {
		hub.Broadcast(readfeed.EventFromResult(res))
		if mirror != nil {
			mirror.Publish(res)
		}
	})

	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		session.Serve(ctx)
	}()

	// Optional UART reference tap on the same data line
	var tap *uarttap.Tap
	if cfg.TapEnabled {
		tap = uarttap.NewTap(cfg.TapDevice, uint(mtuCfg.BaudRate), mtuCfg.Framing)
		tap.StartReading(
			func(c *uarttap.Capture) {
				hub.Broadcast(&types.ReadEvent{
					Timestamp:  c.At.UTC().Format(time.RFC3339),
					Source:     types.SourceUartTap,
					Outcome:    mtu.OutcomeCompleted.String(),
					Message:    c.Message,
					Checksum:   c.Checksum,
					Successful: mtuCfg.ExpectedMessage == "" || c.Message == mtuCfg.ExpectedMessage,
					Framing:    mtuCfg.Framing.String(),
					BaudRate:   mtuCfg.BaudRate,
				})
			},
			func(err error) {
				if err != nil {
					log.Errorf("UART tap stopped: %v", err)
				}
			},
		)
		defer tap.StopReading()
	}

	a := &api{
		session:         session,
		hub:             hub,
		tap:             tap,
		defaultDuration: cfg.DefaultDurationSecs,
	}

	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	srv := &http.Server{Addr: listener, Handler: a.routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Starting Water Meter MTU API on %s (%d baud, %s)", listener, mtuCfg.BaudRate, mtuCfg.Framing)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("HTTP server failed: %v", err)
		stop()
	}

	// Wait for the session to power the meter off
	<-serveDone
	log.Info("MTU API stopped")
}
