package uarttap

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMessage(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("OK\rV;RB00000200\r"))

	msg, err := readMessage(r)
	require.NoError(t, err)
	assert.Equal(t, "OK\r", msg)

	msg, err = readMessage(r)
	require.NoError(t, err)
	assert.Equal(t, "V;RB00000200\r", msg)

	_, err = readMessage(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessage_StripsParityBit(t *testing.T) {
	// 'O' with its parity bit set in bit 7
	r := bufio.NewReader(strings.NewReader(string([]byte{'O' | 0x80, 'K', '\r' | 0x80})))
	msg, err := readMessage(r)
	require.NoError(t, err)
	assert.Equal(t, "OK\r", msg)
}

func TestReadMessage_Overflow(t *testing.T) {
	long := strings.Repeat("x", framing.MaxMessageLen+10) + "\r"
	r := bufio.NewReader(strings.NewReader(long + "OK\r"))

	_, err := readMessage(r)
	assert.ErrorIs(t, err, framing.ErrMessageTooLong)

	// The reader resynchronises on the next message.
	msg, err := readMessage(r)
	require.NoError(t, err)
	assert.Equal(t, "OK\r", msg)
}

func TestReadMessage_MaxLength(t *testing.T) {
	exact := strings.Repeat("x", framing.MaxMessageLen-1) + "\r"
	msg, err := readMessage(bufio.NewReader(strings.NewReader(exact)))
	require.NoError(t, err)
	assert.Len(t, msg, framing.MaxMessageLen)
}

func TestGetLatestCapture_Empty(t *testing.T) {
	tap := NewTap("/dev/null", 1200, framing.SevenE1)
	assert.Nil(t, tap.GetLatestCapture())
}
