// Line tap prints the messages seen by a USB-UART adapter on the meter data
// line. It needs no MTU API and is meant for wiring checks.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/logging"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtu"
	"github.com/NotCoffee418/water_meter_mtu/pkg/uarttap"
	log "github.com/sirupsen/logrus"
)

func main() {
	device := flag.String("device", "/dev/ttyUSB0", "serial device attached to the data line")
	baud := flag.Uint("baud", mtu.DefaultBaudRate, "line baud rate")
	framingName := flag.String("framing", framing.SevenE1.String(), "character framing, 7E1 or 7E2")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := logging.Setup(*logLevel); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	v, err := framing.ParseVariant(*framingName)
	if err != nil {
		log.Fatalf("Invalid framing: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	failed := make(chan error, 1)

	tap := uarttap.NewTap(*device, *baud, v)
	tap.StartReading(
		func(c *uarttap.Capture) {
			fmt.Printf("%s %s %q\n", c.At.Format("15:04:05.000"), c.Checksum, c.Message)
		},
		func(err error) { failed <- err },
	)

	log.Infof("Listening on %s at %d baud (%s)", *device, *baud, v)
	select {
	case <-sigs:
		tap.StopReading()
	case err := <-failed:
		log.Fatalf("Tap stopped: %v", err)
	}
}
