package readfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtu"
	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	// CRC-16/ARC check value
	assert.Equal(t, "BB3D", Checksum("123456789"))
	assert.Len(t, Checksum(mtu.DefaultExpectedMessage), 4)
}

func TestEventFromResult(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := EventFromResult(mtu.ReadResult{
		At:          at,
		Outcome:     mtu.OutcomeCompleted,
		Message:     "OK\r",
		Successful:  true,
		Framing:     framing.SevenE2,
		BaudRate:    1200,
		ClockCycles: 400,
		Duration:    1500 * time.Millisecond,
		Stats:       mtu.Stats{SuccessfulReads: 3, CorruptedReads: 1},
	})

	assert.Equal(t, "2026-03-01T12:00:00Z", ev.Timestamp)
	assert.Equal(t, types.SourceMtu, ev.Source)
	assert.Equal(t, "completed", ev.Outcome)
	assert.Equal(t, "7E2", ev.Framing)
	assert.Equal(t, int64(1500), ev.DurationMs)
	assert.Equal(t, Checksum("OK\r"), ev.Checksum)
	assert.InDelta(t, 75.0, ev.SuccessRate, 0.001)

	timedOut := EventFromResult(mtu.ReadResult{At: at, Outcome: mtu.OutcomeTimedOut})
	assert.Empty(t, timedOut.Checksum)

	parsed := types.ReadEventFromJsonBytes(ev.ToJsonBytes())
	require.NotNil(t, parsed)
	assert.Equal(t, ev, parsed)
	assert.Nil(t, types.ReadEventFromJsonBytes([]byte(`{"hello":"world"}`)))
}

func TestHub_ListenerReceivesBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	// A read published before the client connects is replayed on connect.
	first := &types.ReadEvent{Timestamp: "2026-03-01T12:00:00Z", Source: types.SourceMtu, Message: "A\r"}
	hub.Broadcast(first)

	received := make(chan *types.ReadEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartListener(ctx, strings.TrimPrefix(srv.URL, "http://"), false, func(ev *types.ReadEvent) {
			received <- ev
		})
	}()

	select {
	case ev := <-received:
		assert.Equal(t, "A\r", ev.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("latest read not replayed")
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(&types.ReadEvent{Timestamp: "2026-03-01T12:01:00Z", Source: types.SourceUartTap, Message: "B\r"})
	select {
	case ev := <-received:
		assert.Equal(t, "B\r", ev.Message)
		assert.Equal(t, types.SourceUartTap, ev.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast not received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
