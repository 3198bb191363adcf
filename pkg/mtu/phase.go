package mtu

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/gpio"
	log "github.com/sirupsen/logrus"
)

// clockGenerator is the timer-context half of the clock. tick only touches
// atomics and a buffered channel.
type clockGenerator struct {
	cycles  atomic.Uint64
	dropped atomic.Uint64
	phases  chan uint8
}

func newClockGenerator() *clockGenerator {
	return &clockGenerator{phases: make(chan uint8, phaseQueueSize)}
}

func (g *clockGenerator) tick() {
	cycle := g.cycles.Add(1) - 1
	select {
	case g.phases <- uint8(cycle % 4):
	default:
		g.dropped.Add(1)
	}
}

// reset must only be called while the timer is disabled.
func (g *clockGenerator) reset() {
	g.cycles.Store(0)
	g.dropped.Store(0)
	for {
		select {
		case <-g.phases:
		default:
			return
		}
	}
}

// phaseTask is the task-context half: it owns the pins for the duration of an
// operation and turns phases into edges and samples.
type phaseTask struct {
	clock gpio.OutputPin
	data  gpio.InputPin
	bits  chan<- uint8

	handled     uint64
	sampled     uint64
	bitOverruns uint64
	lastBit     uint8
}

// handle performs the GPIO work for one quarter period.
//
//	0: clock high, bit period starts
//	1: nothing, keeps the four phases evenly spaced
//	2: clock low
//	3: sample data halfway through the low half
func (t *phaseTask) handle(phase uint8) error {
	t.handled++
	switch phase {
	case 0:
		return gpio.SetHigh(t.clock)
	case 1:
	case 2:
		return gpio.SetLow(t.clock)
	case 3:
		level, err := t.data.Level()
		if err != nil {
			return err
		}
		t.lastBit = level.Bit()
		t.sampled++
		select {
		case t.bits <- t.lastBit:
		default:
			t.bitOverruns++
		}
	}
	return nil
}

// run services phases until ctx ends or complete is closed. A GPIO failure
// aborts with the error.
func (t *phaseTask) run(ctx context.Context, gen *clockGenerator, complete <-chan struct{}, logger *log.Entry) error {
	status := time.NewTicker(time.Second)
	defer status.Stop()

	start := time.Now()
	var lastCycles uint64

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-complete:
			return nil
		case phase := <-gen.phases:
			if err := t.handle(phase); err != nil {
				return fmt.Errorf("phase %d: %w", phase, err)
			}
		case <-status.C:
			cycles := gen.cycles.Load()
			logger.Debugf("%.0fs - timer: %d cycles (%d/s), task: %d handled, %d bits, last bit %d, dropped phases %d, dropped bits %d",
				time.Since(start).Seconds(), cycles, cycles-lastCycles, t.handled, t.sampled,
				t.lastBit, gen.dropped.Load(), t.bitOverruns)
			lastCycles = cycles
		}
	}
}
