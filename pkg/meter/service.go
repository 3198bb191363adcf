// Package meter simulates a clocked water meter register. It replies to an
// externally driven clock by shifting its framed message out on the data line.
package meter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/gpio"
	log "github.com/sirupsen/logrus"
)

var ErrRunning = errors.New("meter responder already running")

type Handler struct {
	mu  sync.Mutex
	cfg Config

	enabled         atomic.Bool
	pulseCount      atomic.Uint64
	bitsTransmitted atomic.Uint64
	messagesSent    atomic.Uint64
	transmitting    atomic.Bool
	running         atomic.Bool

	// Written by the clock ISR.
	edges atomic.Uint64
	wake  chan struct{}

	// Owned by the responder task.
	processed uint64
	bits      framing.BitBuffer
	bitIndex  int

	logger *log.Entry
}

func NewHandler(cfg Config) (*Handler, error) {
	if err := framing.ValidateMessage(cfg.Message, cfg.Type.Variant()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	h := &Handler{
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		logger: log.WithField("component", "meter"),
	}
	h.enabled.Store(cfg.Enabled)
	return h, nil
}

func (h *Handler) Enable() {
	h.enabled.Store(true)
	h.logger.Info("meter enabled")
}

func (h *Handler) Disable() {
	h.enabled.Store(false)
	h.logger.Info("meter disabled")
}

func (h *Handler) IsEnabled() bool {
	return h.enabled.Load()
}

// SetType changes the framing used from the next transmission on. The current
// message must still fit the response buffer.
func (h *Handler) SetType(t MeterType) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := framing.ValidateMessage(h.cfg.Message, t.Variant()); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	h.cfg.Type = t
	h.logger.Infof("meter type set to %s", t)
	return nil
}

// SetMessage replaces the reply from the next transmission on.
func (h *Handler) SetMessage(msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := framing.ValidateMessage(msg, h.cfg.Type.Variant()); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	h.cfg.Message = msg
	h.logger.Infof("response message updated (%d characters)", len(msg))
	return nil
}

func (h *Handler) GetConfig() Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg := h.cfg
	cfg.Enabled = h.enabled.Load()
	return cfg
}

func (h *Handler) GetStats() Stats {
	return Stats{
		PulseCount:      h.pulseCount.Load(),
		BitsTransmitted: h.bitsTransmitted.Load(),
		MessagesSent:    h.messagesSent.Load(),
		Transmitting:    h.transmitting.Load(),
	}
}

func (h *Handler) ResetStats() {
	h.pulseCount.Store(0)
	h.bitsTransmitted.Store(0)
	h.messagesSent.Store(0)
	h.logger.Info("meter statistics reset")
}

func (h *Handler) State() State {
	switch {
	case h.transmitting.Load():
		return StateTransmitting
	case h.enabled.Load() && h.pulseCount.Load() > 0:
		return StateAwaitingThreshold
	default:
		return StateIdle
	}
}

// BuildResponseFrames frames the configured message into dst.
func (h *Handler) BuildResponseFrames(dst *framing.BitBuffer) error {
	h.mu.Lock()
	msg, v := h.cfg.Message, h.cfg.Type.Variant()
	h.mu.Unlock()

	if err := framing.BuildMessage(msg, v, dst); err != nil {
		return err
	}
	h.logger.Debugf("built %d response bits for %d characters (%s)", dst.Len(), len(msg), v)
	return nil
}

// isr runs in the pin's edge context.
func (h *Handler) isr() {
	h.edges.Add(1)
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run answers rising edges on clock until ctx ends. The data line idles high.
func (h *Handler) Run(ctx context.Context, clock gpio.EdgePin, data gpio.OutputPin) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer h.running.Store(false)

	if err := gpio.SetHigh(data); err != nil {
		return fmt.Errorf("idle data line: %w", err)
	}
	h.processed = h.edges.Load()
	if err := clock.WatchRising(h.isr); err != nil {
		return fmt.Errorf("watch clock: %w", err)
	}
	defer func() {
		if err := clock.StopWatching(); err != nil {
			h.logger.Errorf("stop watching clock: %v", err)
		}
	}()

	h.logger.Info("ready, waiting for clock pulses")
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("responder stopped")
			return nil
		case <-h.wake:
			for h.processed < h.edges.Load() {
				h.processed++
				h.step(data)
			}
		case <-status.C:
			st := h.GetStats()
			h.logger.Debugf("pulses %d, bits sent %d, messages %d, state %s",
				st.PulseCount, st.BitsTransmitted, st.MessagesSent, h.State())
		}
	}
}

// step handles one clock pulse.
func (h *Handler) step(data gpio.OutputPin) {
	pulses := h.pulseCount.Add(1)
	if !h.enabled.Load() {
		return
	}

	if !h.transmitting.Load() {
		if pulses < WakeThreshold {
			return
		}
		if h.bits.IsEmpty() {
			h.logger.Info("wake-up threshold reached, building response frames")
			if err := h.BuildResponseFrames(&h.bits); err != nil {
				h.logger.Errorf("build response: %v", err)
				return
			}
		}
		if h.bits.IsEmpty() {
			return
		}
		h.bitIndex = 0
		h.transmitting.Store(true)
		h.logger.Infof("started transmission, %d bits to send", h.bits.Len())
	}

	bit := h.bits.At(h.bitIndex)
	if err := data.SetLevel(gpio.LevelOf(bit)); err != nil {
		h.logger.Errorf("drive data line: %v", err)
	}
	h.bitsTransmitted.Add(1)
	h.bitIndex++

	if h.bitIndex < h.bits.Len() {
		return
	}

	h.transmitting.Store(false)
	sent := h.messagesSent.Add(1)
	h.pulseCount.Store(0)
	h.bitIndex = 0
	if err := gpio.SetHigh(data); err != nil {
		h.logger.Errorf("idle data line: %v", err)
	}
	h.logger.Infof("transmission complete, %d bits sent, %d messages total", h.bits.Len(), sent)
	h.bits.Reset()
}
