package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/rpi" // Raspberry Pi pin map

	log "github.com/sirupsen/logrus"
)

var (
	initOnce sync.Once
	initErr  error
)

// Open initialises the embd GPIO driver. Safe to call more than once.
func Open() error {
	initOnce.Do(func() {
		if err := embd.InitGPIO(); err != nil {
			initErr = errors.Join(ErrGpio, fmt.Errorf("init gpio: %w", err))
		}
	})
	return initErr
}

// Close releases the embd GPIO driver.
func Close() {
	if err := embd.CloseGPIO(); err != nil {
		log.Warnf("gpio: close driver: %v", err)
	}
}

// EmbdPin wraps an embd digital pin.
type EmbdPin struct {
	pin embd.DigitalPin
	num int
}

func openPin(num int, dir embd.Direction) (*EmbdPin, error) {
	if err := Open(); err != nil {
		return nil, err
	}
	pin, err := embd.NewDigitalPin(num)
	if err != nil {
		return nil, errors.Join(ErrGpio, fmt.Errorf("open pin %d: %w", num, err))
	}
	if err := pin.SetDirection(dir); err != nil {
		pin.Close()
		return nil, errors.Join(ErrGpio, fmt.Errorf("set direction on pin %d: %w", num, err))
	}
	return &EmbdPin{pin: pin, num: num}, nil
}

// OpenOutput opens num as an output driven to initial.
func OpenOutput(num int, initial Level) (*EmbdPin, error) {
	p, err := openPin(num, embd.Out)
	if err != nil {
		return nil, err
	}
	if err := p.SetLevel(initial); err != nil {
		p.Close()
		return nil, err
	}
	log.Infof("gpio: pin %d configured as output (%s)", num, initial)
	return p, nil
}

// OpenInput opens num as an input.
func OpenInput(num int) (*EmbdPin, error) {
	p, err := openPin(num, embd.In)
	if err != nil {
		return nil, err
	}
	log.Infof("gpio: pin %d configured as input", num)
	return p, nil
}

func (p *EmbdPin) Num() int { return p.num }

func (p *EmbdPin) SetLevel(l Level) error {
	v := embd.Low
	if l == High {
		v = embd.High
	}
	if err := p.pin.Write(v); err != nil {
		return errors.Join(ErrGpio, fmt.Errorf("write pin %d: %w", p.num, err))
	}
	return nil
}

func (p *EmbdPin) Level() (Level, error) {
	v, err := p.pin.Read()
	if err != nil {
		return Low, errors.Join(ErrGpio, fmt.Errorf("read pin %d: %w", p.num, err))
	}
	if v == embd.High {
		return High, nil
	}
	return Low, nil
}

// WatchRising registers isr for rising edges. embd delivers edges from its
// own epoll goroutine, which plays the interrupt role here.
func (p *EmbdPin) WatchRising(isr func()) error {
	err := p.pin.Watch(embd.EdgeRising, func(embd.DigitalPin) { isr() })
	if err != nil {
		return errors.Join(ErrGpio, fmt.Errorf("watch pin %d: %w", p.num, err))
	}
	return nil
}

func (p *EmbdPin) StopWatching() error {
	if err := p.pin.StopWatching(); err != nil {
		return errors.Join(ErrGpio, fmt.Errorf("stop watching pin %d: %w", p.num, err))
	}
	return nil
}

func (p *EmbdPin) Close() error {
	return p.pin.Close()
}
