package meter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/gpio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, msg string) *Handler {
	t.Helper()
	h, err := NewHandler(Config{Type: Sensus, Message: msg, Enabled: true})
	require.NoError(t, err)
	return h
}

func TestStep_StartsOnTenthPulse(t *testing.T) {
	h := newTestHandler(t, "OK\r")
	data := gpio.NewFakePin(gpio.High)

	for i := 1; i < WakeThreshold; i++ {
		h.step(data)
		require.False(t, h.GetStats().Transmitting, "pulse %d", i)
		require.Equal(t, gpio.High, data.Current())
	}
	assert.Equal(t, StateAwaitingThreshold, h.State())

	h.step(data)
	st := h.GetStats()
	assert.True(t, st.Transmitting)
	assert.Equal(t, uint64(1), st.BitsTransmitted)
	assert.Equal(t, gpio.Low, data.Current(), "start bit on the wake pulse")
	assert.Equal(t, StateTransmitting, h.State())
}

func TestStep_DisabledAtThreshold(t *testing.T) {
	h := newTestHandler(t, "OK\r")
	data := gpio.NewFakePin(gpio.High)

	for i := 1; i < WakeThreshold; i++ {
		h.step(data)
	}
	h.Disable()
	h.step(data)

	st := h.GetStats()
	assert.False(t, st.Transmitting)
	assert.Equal(t, uint64(WakeThreshold), st.PulseCount)
	assert.Zero(t, st.BitsTransmitted)
	assert.Equal(t, gpio.High, data.Current())
	assert.Equal(t, StateIdle, h.State())

	// Pulses keep counting while disabled, so enabling resumes on the next one.
	h.Enable()
	h.step(data)
	assert.True(t, h.GetStats().Transmitting)
}

func shiftOut(h *Handler, data *gpio.FakePin, pulses int) []uint8 {
	var out []uint8
	for i := 0; i < pulses; i++ {
		before := h.GetStats().BitsTransmitted
		h.step(data)
		if h.GetStats().BitsTransmitted > before {
			out = append(out, data.Current().Bit())
		}
	}
	return out
}

func TestStep_FullTransmission(t *testing.T) {
	h := newTestHandler(t, "OK\r")
	data := gpio.NewFakePin(gpio.High)

	var want framing.BitBuffer
	require.NoError(t, framing.BuildMessage("OK\r", framing.SevenE1, &want))
	require.Equal(t, 30, want.Len())

	got := shiftOut(h, data, WakeThreshold-1+want.Len())
	assert.Equal(t, want.Bits(), got)

	st := h.GetStats()
	assert.False(t, st.Transmitting)
	assert.Equal(t, uint64(1), st.MessagesSent)
	assert.Equal(t, uint64(30), st.BitsTransmitted)
	assert.Zero(t, st.PulseCount)
	assert.Equal(t, gpio.High, data.Current())
}

func TestStep_MessageChangeTakesEffectNextCycle(t *testing.T) {
	h := newTestHandler(t, "OK\r")
	data := gpio.NewFakePin(gpio.High)

	// Halfway through the first message.
	shiftOut(h, data, WakeThreshold+4)
	require.NoError(t, h.SetMessage("A\r"))
	require.NoError(t, h.SetType(Neptune))

	// The running transmission still sends the old frames.
	rest := shiftOut(h, data, 25)
	assert.Len(t, rest, 25)
	assert.Equal(t, uint64(1), h.GetStats().MessagesSent)

	var want framing.BitBuffer
	require.NoError(t, framing.BuildMessage("A\r", framing.SevenE2, &want))
	got := shiftOut(h, data, WakeThreshold-1+want.Len())
	assert.Equal(t, want.Bits(), got)
	assert.Equal(t, uint64(2), h.GetStats().MessagesSent)
}

func TestSetMessage_Rejected(t *testing.T) {
	h := newTestHandler(t, "OK\r")

	err := h.SetMessage(strings.Repeat("x", framing.MaxMessageLen+1))
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorIs(t, err, framing.ErrMessageTooLong)

	// 200 characters fit as 7E1 (2000 bits) but not as 7E2 (2200 bits).
	require.NoError(t, h.SetMessage(strings.Repeat("x", 200)))
	err = h.SetType(Neptune)
	assert.ErrorIs(t, err, framing.ErrBufferFull)
	assert.Equal(t, Sensus, h.GetConfig().Type)
	assert.Equal(t, strings.Repeat("x", 200), h.GetConfig().Message)
}

func TestParseMeterType(t *testing.T) {
	mt, err := ParseMeterType("Neptune")
	require.NoError(t, err)
	assert.Equal(t, Neptune, mt)
	assert.Equal(t, framing.SevenE2, mt.Variant())

	mt, err = ParseMeterType(" sensus ")
	require.NoError(t, err)
	assert.Equal(t, framing.SevenE1, mt.Variant())

	_, err = ParseMeterType("itron")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestResetStats(t *testing.T) {
	h := newTestHandler(t, "OK\r")
	data := gpio.NewFakePin(gpio.High)
	shiftOut(h, data, 5)
	h.ResetStats()
	assert.Equal(t, Stats{}, h.GetStats())
}

func TestRun_RespondsToClockEdges(t *testing.T) {
	h := newTestHandler(t, "OK\r")
	clock := gpio.NewFakePin(gpio.Low)
	data := gpio.NewFakePin(gpio.Low)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, clock, data) }()

	require.Eventually(t, clock.Watching, time.Second, time.Millisecond)
	assert.Equal(t, gpio.High, data.Current())

	for i := 0; i < WakeThreshold+29; i++ {
		require.NoError(t, clock.SetLevel(gpio.High))
		require.NoError(t, clock.SetLevel(gpio.Low))
	}

	assert.Eventually(t, func() bool {
		return h.GetStats().MessagesSent == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(30), h.GetStats().BitsTransmitted)

	cancel()
	assert.NoError(t, <-done)
}
