package framing

import (
	"errors"
	"fmt"
	"strings"
)

// Variant is the bit-level character framing used on the meter line.
type Variant uint8

const (
	// SevenE1 is 7 data bits, even parity, 1 stop bit (Sensus).
	SevenE1 Variant = iota
	// SevenE2 is 7 data bits, even parity, 2 stop bits (Neptune).
	SevenE2
)

const (
	// DataBits is the number of data bits per character.
	DataBits = 7

	// MaxMessageLen is the longest message, terminator included.
	MaxMessageLen = 256

	// MaxResponseBits bounds one fully framed response.
	MaxResponseBits = 2048

	// Terminator ends every meter message.
	Terminator byte = '\r'

	// maxFrameBits is the longest frame of any variant.
	maxFrameBits = 11
)

var (
	ErrFraming         = errors.New("framing error")
	ErrInvalidBitCount = fmt.Errorf("%w: invalid bit count", ErrFraming)
	ErrInvalidStartBit = fmt.Errorf("%w: invalid start bit", ErrFraming)
	ErrInvalidStopBit  = fmt.Errorf("%w: invalid stop bit", ErrFraming)
	ErrParityMismatch  = fmt.Errorf("%w: parity mismatch", ErrFraming)

	ErrBufferFull     = errors.New("bit buffer full")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxMessageLen)
	ErrUnknownVariant = errors.New("unknown framing variant")
)

// BitsPerFrame returns the fixed frame length of the variant.
func (v Variant) BitsPerFrame() int {
	switch v {
	case SevenE2:
		return 11 // 1 start + 7 data + 1 parity + 2 stop
	default:
		return 10 // 1 start + 7 data + 1 parity + 1 stop
	}
}

// StopBits returns the number of stop bits of the variant.
func (v Variant) StopBits() int {
	if v == SevenE2 {
		return 2
	}
	return 1
}

// parityIndex is the frame position of the parity bit.
func (v Variant) parityIndex() int {
	return 1 + DataBits
}

func (v Variant) String() string {
	switch v {
	case SevenE1:
		return "7E1"
	case SevenE2:
		return "7E2"
	default:
		return fmt.Sprintf("Variant(%d)", uint8(v))
	}
}

// ParseVariant accepts "7E1"/"7E2" in any case.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "7E1", "SEVENE1":
		return SevenE1, nil
	case "7E2", "SEVENE2":
		return SevenE2, nil
	}
	return SevenE1, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}
