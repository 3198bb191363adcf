// Package gpio abstracts the digital lines used to bit-bang the meter link.
// Production pins are backed by embd; FakePin serves loopback and tests.
package gpio

import "errors"

var ErrGpio = errors.New("gpio error")

// Level is a digital line level.
type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) Bit() uint8 { return uint8(l) }

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// LevelOf maps a 0/1 bit to a line level.
func LevelOf(bit uint8) Level {
	if bit&1 == 1 {
		return High
	}
	return Low
}

// OutputPin drives a line.
type OutputPin interface {
	SetLevel(Level) error
}

// InputPin samples a line.
type InputPin interface {
	Level() (Level, error)
}

// EdgePin is an input that can call back on rising edges. The callback runs in
// the pin's notification context and must not block.
type EdgePin interface {
	InputPin
	WatchRising(isr func()) error
	StopWatching() error
}

func SetHigh(p OutputPin) error { return p.SetLevel(High) }

func SetLow(p OutputPin) error { return p.SetLevel(Low) }
