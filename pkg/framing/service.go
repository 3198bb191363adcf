// Package framing encodes and decodes the 7-bit even-parity character frames
// used on clocked water meter lines.
package framing

import "math/bits"

// Parity returns the even parity bit for the low 7 bits of b.
func Parity(b byte) uint8 {
	return uint8(bits.OnesCount8(b&0x7F) % 2)
}

// AppendFrame appends the frame for b to dst and returns the extended slice.
// Bit order: start, data LSB first, parity, stop bit(s).
func AppendFrame(dst []uint8, b byte, v Variant) []uint8 {
	data := b & 0x7F

	// Start bit
	dst = append(dst, 0)

	for i := 0; i < DataBits; i++ {
		dst = append(dst, (data>>i)&1)
	}

	dst = append(dst, Parity(data))

	for i := 0; i < v.StopBits(); i++ {
		dst = append(dst, 1)
	}
	return dst
}

// BuildFrame returns a freshly allocated frame for b.
func BuildFrame(b byte, v Variant) []uint8 {
	return AppendFrame(make([]uint8, 0, v.BitsPerFrame()), b, v)
}

// DecodeFrame validates a received frame and extracts its character.
func DecodeFrame(frame []uint8, v Variant) (byte, error) {
	if len(frame) != v.BitsPerFrame() {
		return 0, ErrInvalidBitCount
	}
	if frame[0] != 0 {
		return 0, ErrInvalidStartBit
	}

	var data byte
	for i := 0; i < DataBits; i++ {
		if frame[1+i]&1 == 1 {
			data |= 1 << i
		}
	}

	if frame[v.parityIndex()] != Parity(data) {
		return 0, ErrParityMismatch
	}

	for i := v.parityIndex() + 1; i < len(frame); i++ {
		if frame[i] != 1 {
			return 0, ErrInvalidStopBit
		}
	}
	return data, nil
}

// BuildMessage frames every character of msg into buf, replacing its contents.
// buf is left empty when an error is returned.
func BuildMessage(msg string, v Variant, buf *BitBuffer) error {
	buf.Reset()
	if len(msg) > MaxMessageLen {
		return ErrMessageTooLong
	}

	var frame [maxFrameBits]uint8
	for i := 0; i < len(msg); i++ {
		for _, bit := range AppendFrame(frame[:0], msg[i], v) {
			if err := buf.Push(bit); err != nil {
				buf.Reset()
				return err
			}
		}
	}
	return nil
}

// FramedLen returns how many bits msg occupies once framed.
func FramedLen(msg string, v Variant) int {
	return len(msg) * v.BitsPerFrame()
}

// ValidateMessage checks that msg fits both the character and bit limits.
func ValidateMessage(msg string, v Variant) error {
	if len(msg) > MaxMessageLen {
		return ErrMessageTooLong
	}
	if FramedLen(msg, v) > MaxResponseBits {
		return ErrBufferFull
	}
	return nil
}
