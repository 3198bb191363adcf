package mtu

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	log "github.com/sirupsen/logrus"
)

// Decoder turns the sampled bit stream into a terminated message. It first
// waits for an idle run, then frames characters until the terminator.
type Decoder struct {
	variant       framing.Variant
	idleTimeout   time.Duration
	frameTimeout  time.Duration
	syncThreshold int

	frameErrors atomic.Uint64
	timer       *time.Timer
	msg         framing.MessageBuffer
	frame       [11]uint8

	// OnSynced is called once the idle run has been seen (or skipped).
	OnSynced func()
	// OnComplete is called exactly once per Run, with the terminated message.
	OnComplete func(msg string)

	logger *log.Entry
}

func NewDecoder(v framing.Variant, frameBitTimeout time.Duration) *Decoder {
	return &Decoder{
		variant:       v,
		idleTimeout:   IdleBitTimeout,
		frameTimeout:  frameBitTimeout,
		syncThreshold: IdleSyncThreshold,
		logger:        log.WithField("component", "mtu-decoder"),
	}
}

// FrameErrors counts discarded frames: stalls, framing errors and overflows.
func (d *Decoder) FrameErrors() uint64 {
	return d.frameErrors.Load()
}

// Run consumes bits until a message completes or ctx ends. ok is false when
// no terminated message was decoded.
func (d *Decoder) Run(ctx context.Context, bits <-chan uint8) (msg string, ok bool) {
	d.timer = time.NewTimer(time.Hour)
	d.timer.Stop()
	defer d.timer.Stop()
	d.msg.Reset()

	d.syncIdle(ctx, bits)
	if d.OnSynced != nil {
		d.OnSynced()
	}

	bpf := d.variant.BitsPerFrame()
	for ctx.Err() == nil {
		bit, err := d.recv(ctx, bits, d.idleTimeout)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			return "", false
		}
		if bit == 1 {
			continue
		}

		// Start bit found
		d.frame[0] = 0
		n := 1
		for n < bpf {
			bit, err = d.recv(ctx, bits, d.frameTimeout)
			if err != nil {
				break
			}
			d.frame[n] = bit
			n++
		}
		if n < bpf {
			if !errors.Is(err, ErrTimeout) {
				return "", false
			}
			d.frameErrors.Add(1)
			d.logger.Warnf("incomplete frame (%d/%d bits), resuming start bit search", n, bpf)
			continue
		}

		c, err := framing.DecodeFrame(d.frame[:bpf], d.variant)
		if err != nil {
			d.frameErrors.Add(1)
			d.logger.Debugf("frame %v rejected: %v", d.frame[:bpf], err)
			continue
		}

		if err := d.msg.Push(c); err != nil {
			d.frameErrors.Add(1)
			d.logger.Warnf("no terminator within %d characters, discarding partial message", framing.MaxMessageLen)
			d.msg.Reset()
			continue
		}

		if c == framing.Terminator {
			msg = d.msg.String()
			d.msg.Reset()
			if d.OnComplete != nil {
				d.OnComplete(msg)
			}
			return msg, true
		}
	}
	return "", false
}

// syncIdle waits for syncThreshold consecutive high bits. On cancellation it
// gives up and lets the frame loop take over.
func (d *Decoder) syncIdle(ctx context.Context, bits <-chan uint8) {
	count := 0
	for count < d.syncThreshold {
		bit, err := d.recv(ctx, bits, d.idleTimeout)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			d.logger.Warnf("resynchronization failed: %d/%d idle bits before stop: %v", count, d.syncThreshold, err)
			return
		}
		if bit == 1 {
			count++
		} else {
			count = 0
		}
	}
	d.logger.Debugf("idle line synchronized after %d high bits", count)
}

func (d *Decoder) recv(ctx context.Context, bits <-chan uint8, timeout time.Duration) (uint8, error) {
	d.timer.Reset(timeout)
	defer d.timer.Stop()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case bit, open := <-bits:
		if !open {
			return 0, ErrClosed
		}
		return bit, nil
	case <-d.timer.C:
		return 0, ErrTimeout
	}
}
