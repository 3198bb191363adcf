// Meter simulator for bench testing the MTU without a real register. It
// answers the MTU clock on its own pair of GPIO pins.
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
	"github.com/NotCoffee418/water_meter_mtu/pkg/meter"
	"github.com/NotCoffee418/water_meter_mtu/pkg/pathing"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := pathing.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	// Load config
	if err := config.LoadMeterSimConfig(); err != nil {
		log.Fatalf("Failed to load meter simulator config: %v", err)
	}
	cfg := config.ActiveMeterSimConfig
	if err := logging.Setup(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	meterCfg, err := cfg.MeterConfig()
	if err != nil {
		log.Fatalf("Invalid meter config: %v", err)
	}

	handler, err := meter.NewHandler(meterCfg)
	if err != nil {
		log.Fatalf("Failed to create meter handler: %v", err)
	}

	if err := gpio.Open(); err != nil {
		log.Fatalf("Failed to open GPIO: %v", err)
	}
	defer gpio.Close()

	clock, err := gpio.OpenInput(cfg.ClockPin)
	if err != nil {
		log.Fatalf("Failed to open clock pin: %v", err)
	}
	defer clock.Close()
	data, err := gpio.OpenOutput(cfg.DataPin, gpio.High)
	if err != nil {
		log.Fatalf("Failed to open data pin: %v", err)
	}
	defer data.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := handler.Run(ctx, clock, data); err != nil {
			log.Errorf("Meter responder failed: %v", err)
			stop()
		}
	}()

	a := &api{handler: handler}
	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	srv := &http.Server{Addr: listener, Handler: a.routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Starting meter simulator on %s as %s", listener, meterCfg.Type.Description())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("HTTP server failed: %v", err)
		stop()
	}

	<-runDone
	log.Info("Meter simulator stopped")
}
