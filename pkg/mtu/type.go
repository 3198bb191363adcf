package mtu

import (
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtuutils"
)

const (
	DefaultBaudRate        = 1200
	DefaultPowerUpDelay    = 10 * time.Millisecond
	DefaultFrameBitTimeout = 2 * time.Second
	DefaultDurationSecs    = 30
	MaxDurationSecs        = 24 * 60 * 60

	// DefaultExpectedMessage is the factory reply of the supported registers.
	DefaultExpectedMessage = "V;RB00000200;IB61564400;A1000;Z3214;XT0746;MT0683;RR00000000;GX000000;GN000000\r"

	// Consecutive high bits required before the first start bit search.
	IdleSyncThreshold = 10

	// Per-bit wait while synchronising or hunting for a start bit.
	IdleBitTimeout = 100 * time.Millisecond

	// Time the decoder gets to hand over its result after the operation ends.
	decoderGracePeriod = 250 * time.Millisecond

	phaseQueueSize   = 64
	bitQueueSize     = 1024
	commandQueueSize = 8
)

var (
	ErrConfig  = errors.New("invalid mtu configuration")
	ErrChannel = errors.New("mtu command channel unavailable")
	ErrTimeout = errors.New("timed out waiting for bit")

	ErrAlreadySubscribed = errors.New("timer already has a subscriber")
	ErrNotSubscribed     = errors.New("timer has no subscriber")
	ErrClosed            = errors.New("mtu session closed")
	ErrBusy              = errors.New("mtu read already in progress")
)

// Config is the runtime MTU configuration. Counters live in Stats.
type Config struct {
	BaudRate        uint32
	PowerUpDelay    time.Duration
	FrameBitTimeout time.Duration
	Framing         framing.Variant

	// ExpectedMessage, when set, is the only reply counted as a successful read.
	ExpectedMessage string
}

func DefaultConfig() Config {
	return Config{
		BaudRate:        DefaultBaudRate,
		PowerUpDelay:    DefaultPowerUpDelay,
		FrameBitTimeout: DefaultFrameBitTimeout,
		Framing:         framing.SevenE1,
		ExpectedMessage: DefaultExpectedMessage,
	}
}

func (c Config) Validate() error {
	if c.BaudRate == 0 {
		return fmt.Errorf("%w: baud rate must be > 0", ErrConfig)
	}
	if c.FrameBitTimeout <= 0 {
		return fmt.Errorf("%w: frame bit timeout must be > 0", ErrConfig)
	}
	if c.PowerUpDelay < 0 {
		return fmt.Errorf("%w: power-up delay must not be negative", ErrConfig)
	}
	if len(c.ExpectedMessage) > framing.MaxMessageLen {
		return fmt.Errorf("%w: %w", ErrConfig, framing.ErrMessageTooLong)
	}
	return nil
}

// BitDuration is one full clock period at the configured baud rate.
func (c Config) BitDuration() time.Duration {
	return time.Second / time.Duration(c.BaudRate)
}

// TimerHz is the phase timer rate: four phases per bit.
func (c Config) TimerHz() uint32 {
	return c.BaudRate * 4
}

// State of the MTU operation lifecycle.
type State uint32

const (
	StateIdle State = iota
	StatePoweringUp
	StateSynchronizing
	StateFraming
	StateCompleted
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePoweringUp:
		return "PoweringUp"
	case StateSynchronizing:
		return "Synchronizing"
	case StateFraming:
		return "Framing"
	case StateCompleted:
		return "Completed"
	case StateTimedOut:
		return "TimedOut"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// Outcome of one bounded operation.
type Outcome uint8

const (
	OutcomeCompleted Outcome = iota
	OutcomeTimedOut
	// Aborted by a Stop command before a message arrived. Not counted.
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeStopped:
		return "stopped"
	}
	return "unknown"
}

// ReadResult describes one finished operation.
type ReadResult struct {
	At          time.Time
	Outcome     Outcome
	Message     string // empty unless Outcome is OutcomeCompleted
	Successful  bool
	Framing     framing.Variant
	BaudRate    uint32
	ClockCycles uint64
	FrameErrors uint64
	Duration    time.Duration
	Stats       Stats
}

// Stats is a point-in-time copy of the shared counters.
type Stats struct {
	SuccessfulReads uint32
	CorruptedReads  uint32
	ClockCycles     uint64
}

// SuccessRate is the share of successful reads in percent, or 0 without reads.
func (s Stats) SuccessRate() float64 {
	return mtuutils.SuccessRate(s.SuccessfulReads, s.CorruptedReads)
}

// Command is accepted by Session.Send.
type Command interface{ isCommand() }

// Start runs one bounded read. Zero DurationSecs means DefaultDurationSecs,
// values above MaxDurationSecs are clamped.
type Start struct{ DurationSecs uint64 }

func (c Start) Duration() time.Duration {
	secs := c.DurationSecs
	if secs == 0 {
		secs = DefaultDurationSecs
	}
	secs = min(secs, MaxDurationSecs)
	return time.Duration(secs) * time.Second
}

// Stop powers the meter off and aborts any running read.
type Stop struct{}

func (Start) isCommand() {}
func (Stop) isCommand()  {}
