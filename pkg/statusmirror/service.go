// Package statusmirror copies the MTU read counters into a block of Modbus
// holding registers so a PLC or data logger can poll them.
package statusmirror

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/config"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtu"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtuutils"
	"github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"
	log "github.com/sirupsen/logrus"
)

var (
	ErrMirrorNotConfigured = errors.New("status mirror not configured")
	ErrMirrorWriteFailed   = errors.New("status mirror write failed")
)

// Register block layout, one uint16 per register, big-endian:
//
//	0-1  successful reads (uint32)
//	2-3  corrupted reads (uint32)
//	4-7  clock cycles of the last read (uint64)
//	8    success rate in permille
//	9    last outcome (0 completed, 1 timed out, 2 stopped)
//	10   frame errors of the last read, saturated
const RegisterCount = 11

const (
	minWriteInterval = 10 * time.Second
	maxRetries       = 3
	retryDelay       = 2 * time.Second
)

type registerWriter interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type Mirror struct {
	cfg config.MirrorConfig

	mu      sync.Mutex
	pending *mtu.ReadResult
	wake    chan struct{}

	lastWrite time.Time

	// Replaced in tests
	dial     func() (registerWriter, io.Closer, error)
	ping     func(host string) (bool, time.Duration, error)
	interval time.Duration
	backoff  time.Duration
}

// IsConfigured checks if the mirror configuration is set.
// This feature is optional, empty values as config are acceptable.
func IsConfigured(cfg config.MirrorConfig) bool {
	return cfg.Enabled && cfg.ModbusHost != "" && cfg.ModbusPort != 0
}

func New(cfg config.MirrorConfig) (*Mirror, error) {
	if !IsConfigured(cfg) {
		return nil, ErrMirrorNotConfigured
	}
	m := &Mirror{
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		ping:     ping,
		interval: minWriteInterval,
		backoff:  retryDelay,
	}
	m.dial = m.dialTCP
	return m, nil
}

// Encode lays out the register block for a finished read.
func Encode(res mtu.ReadResult) []byte {
	buf := make([]byte, RegisterCount*2)
	binary.BigEndian.PutUint32(buf[0:], res.Stats.SuccessfulReads)
	binary.BigEndian.PutUint32(buf[4:], res.Stats.CorruptedReads)
	binary.BigEndian.PutUint64(buf[8:], res.ClockCycles)
	binary.BigEndian.PutUint16(buf[16:], mtuutils.RateToPermille(res.Stats.SuccessRate()))
	binary.BigEndian.PutUint16(buf[18:], uint16(res.Outcome))

	frameErrors := res.FrameErrors
	if frameErrors > math.MaxUint16 {
		frameErrors = math.MaxUint16
	}
	binary.BigEndian.PutUint16(buf[20:], uint16(frameErrors))
	return buf
}

// Publish queues res for the next write. Only the newest result is kept.
func (m *Mirror) Publish(res mtu.ReadResult) {
	m.mu.Lock()
	m.pending = &res
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run writes published results until ctx ends, at most once per interval to
// avoid spamming the device.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}

		if wait := m.interval - time.Since(m.lastWrite); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		m.mu.Lock()
		res := m.pending
		m.pending = nil
		m.mu.Unlock()
		if res == nil {
			continue
		}

		if err := m.write(ctx, Encode(*res)); err != nil {
			log.Errorf("status mirror: %v", err)
		}
		m.lastWrite = time.Now()
	}
}

func (m *Mirror) write(ctx context.Context, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.backoff):
			}
		}

		// Ping check before attempting modbus connection
		if ok, _, err := m.ping(m.cfg.ModbusHost); !ok || err != nil {
			lastErr = fmt.Errorf("ping failed on attempt %d: %w", attempt+1, err)
			continue
		}

		client, closer, err := m.dial()
		if err != nil {
			lastErr = fmt.Errorf("connection failed on attempt %d: %w", attempt+1, err)
			continue
		}

		_, err = client.WriteMultipleRegisters(m.cfg.RegisterAddress, RegisterCount, payload)
		closer.Close()
		if err != nil {
			lastErr = fmt.Errorf("write registers failed on attempt %d: %w", attempt+1, err)
			continue
		}

		log.Debugf("status mirror: wrote %d registers at %d", RegisterCount, m.cfg.RegisterAddress)
		return nil
	}
	return errors.Join(ErrMirrorWriteFailed, lastErr)
}

func (m *Mirror) dialTCP() (registerWriter, io.Closer, error) {
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", m.cfg.ModbusHost, m.cfg.ModbusPort))
	handler.Timeout = 10 * time.Second
	handler.SlaveId = m.cfg.SlaveID

	if err := handler.Connect(); err != nil {
		handler.Close()
		return nil, nil, err
	}
	return modbus.NewClient(handler), handler, nil
}

func ping(host string) (bool, time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.Run(); err != nil {
		return false, 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt, nil
	}
	return false, 0, fmt.Errorf("no response")
}
