package framing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitsPerFrame(t *testing.T) {
	assert.Equal(t, 10, SevenE1.BitsPerFrame())
	assert.Equal(t, 11, SevenE2.BitsPerFrame())
	assert.Len(t, BuildFrame('A', SevenE1), 10)
	assert.Len(t, BuildFrame('A', SevenE2), 11)
}

func TestBuildFrame_O(t *testing.T) {
	assert.Equal(t, []uint8{0, 1, 1, 1, 1, 0, 0, 1, 1, 1}, BuildFrame('O', SevenE1))
	assert.Equal(t, []uint8{0, 1, 1, 1, 1, 0, 0, 1, 1, 1, 1}, BuildFrame('O', SevenE2))
}

func TestBuildFrame_MasksHighBit(t *testing.T) {
	assert.Equal(t, BuildFrame('O', SevenE1), BuildFrame('O'|0x80, SevenE1))
}

func TestRoundTrip_AllCharacters(t *testing.T) {
	for _, v := range []Variant{SevenE1, SevenE2} {
		for b := 0; b < 128; b++ {
			got, err := DecodeFrame(BuildFrame(byte(b), v), v)
			require.NoError(t, err, "variant=%s byte=%d", v, b)
			require.Equal(t, byte(b), got, "variant=%s", v)
		}
	}
}

func TestDecodeFrame_InvalidBitCount(t *testing.T) {
	frame := BuildFrame('A', SevenE1)
	_, err := DecodeFrame(frame, SevenE2)
	assert.ErrorIs(t, err, ErrInvalidBitCount)

	_, err = DecodeFrame(frame[:9], SevenE1)
	assert.ErrorIs(t, err, ErrInvalidBitCount)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestDecodeFrame_SingleFlipNeverDecodesWrongCharacter(t *testing.T) {
	for _, v := range []Variant{SevenE1, SevenE2} {
		for b := 0; b < 128; b++ {
			frame := BuildFrame(byte(b), v)

			// start bit
			bad := append([]uint8(nil), frame...)
			bad[0] ^= 1
			_, err := DecodeFrame(bad, v)
			assert.ErrorIs(t, err, ErrInvalidStartBit)

			// parity bit
			bad = append([]uint8(nil), frame...)
			bad[8] ^= 1
			_, err = DecodeFrame(bad, v)
			assert.ErrorIs(t, err, ErrParityMismatch)

			// any data bit breaks parity
			for i := 1; i <= DataBits; i++ {
				bad = append([]uint8(nil), frame...)
				bad[i] ^= 1
				_, err = DecodeFrame(bad, v)
				assert.ErrorIs(t, err, ErrParityMismatch)
			}

			// stop bits
			for i := 9; i < len(frame); i++ {
				bad = append([]uint8(nil), frame...)
				bad[i] ^= 1
				_, err = DecodeFrame(bad, v)
				assert.ErrorIs(t, err, ErrInvalidStopBit)
			}
		}
	}
}

func TestBuildMessage_OK(t *testing.T) {
	var buf BitBuffer
	require.NoError(t, BuildMessage("OK\r", SevenE1, &buf))
	require.Equal(t, 30, buf.Len())
	assert.Equal(t, []uint8{0, 1, 1, 1, 1, 0, 0, 1, 1, 1}, buf.Bits()[:10])

	var msg MessageBuffer
	bits := buf.Bits()
	for i := 0; i < len(bits); i += 10 {
		c, err := DecodeFrame(bits[i:i+10], SevenE1)
		require.NoError(t, err)
		require.NoError(t, msg.Push(c))
	}
	assert.Equal(t, "OK\r", msg.String())
}

func TestBuildMessage_Limits(t *testing.T) {
	var buf BitBuffer

	long := make([]byte, MaxMessageLen+1)
	for i := range long {
		long[i] = 'A'
	}
	assert.ErrorIs(t, BuildMessage(string(long), SevenE1, &buf), ErrMessageTooLong)
	assert.True(t, buf.IsEmpty())

	// 205 chars * 10 bits overflows 2048 bits.
	assert.ErrorIs(t, BuildMessage(string(long[:205]), SevenE1, &buf), ErrBufferFull)
	assert.True(t, buf.IsEmpty())

	require.NoError(t, BuildMessage(string(long[:204]), SevenE1, &buf))
	assert.Equal(t, 2040, buf.Len())
}

func TestValidateMessage(t *testing.T) {
	msg := string(make([]byte, 190))
	assert.NoError(t, ValidateMessage(msg, SevenE1))
	assert.True(t, errors.Is(ValidateMessage(msg, SevenE2), ErrBufferFull))
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant("7e2")
	require.NoError(t, err)
	assert.Equal(t, SevenE2, v)

	_, err = ParseVariant("8N1")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestMessageBuffer_Overflow(t *testing.T) {
	var m MessageBuffer
	for i := 0; i < MaxMessageLen; i++ {
		require.NoError(t, m.Push('x'))
	}
	assert.ErrorIs(t, m.Push('x'), ErrMessageTooLong)
	m.Reset()
	assert.Equal(t, 0, m.Len())
}
