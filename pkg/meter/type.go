package meter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
)

// WakeThreshold is the pulse on which the meter starts replying.
const WakeThreshold = 10

// DefaultMessage is the reply of a freshly configured register.
const DefaultMessage = "V;RB00000200;IB61564400;A1000;Z3214;XT0746;MT0683;RR00000000;GX000000;GN000000\r"

var ErrConfig = errors.New("invalid meter configuration")

// MeterType is the register family being simulated.
type MeterType uint8

const (
	Sensus MeterType = iota
	Neptune
)

// Variant maps the register family to its line framing.
func (t MeterType) Variant() framing.Variant {
	if t == Neptune {
		return framing.SevenE2
	}
	return framing.SevenE1
}

func (t MeterType) String() string {
	switch t {
	case Sensus:
		return "Sensus"
	case Neptune:
		return "Neptune"
	}
	return fmt.Sprintf("MeterType(%d)", uint8(t))
}

// Description is shown by the status endpoint.
func (t MeterType) Description() string {
	if t == Neptune {
		return "Neptune (7E2: 7 data bits, even parity, 2 stop bits)"
	}
	return "Sensus (7E1: 7 data bits, even parity, 1 stop bit)"
}

func ParseMeterType(s string) (MeterType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sensus":
		return Sensus, nil
	case "neptune":
		return Neptune, nil
	}
	return 0, fmt.Errorf("%w: unknown meter type %q", ErrConfig, s)
}

type Config struct {
	Type    MeterType
	Message string
	Enabled bool
}

func DefaultConfig() Config {
	return Config{
		Type:    Sensus,
		Message: DefaultMessage,
		Enabled: true,
	}
}

// State of the responder.
type State uint8

const (
	StateIdle State = iota
	StateAwaitingThreshold
	StateTransmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingThreshold:
		return "AwaitingThreshold"
	case StateTransmitting:
		return "Transmitting"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Stats is a snapshot of the responder counters.
type Stats struct {
	PulseCount      uint64
	BitsTransmitted uint64
	MessagesSent    uint64
	Transmitting    bool
}
