package readdb

import (
	"testing"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestRecordFromEvent(t *testing.T) {
	ev := &types.ReadEvent{
		Timestamp:   "2026-03-01T12:30:00Z",
		Source:      types.SourceMtu,
		Outcome:     "completed",
		Message:     "OK\r",
		Checksum:    "ABCD",
		Successful:  true,
		Framing:     "7E1",
		BaudRate:    1200,
		ClockCycles: 512,
		FrameErrors: 2,
		DurationMs:  800,
	}

	r := RecordFromEvent(ev)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC).Unix(), r.Timestamp)
	assert.Equal(t, types.SourceMtu, r.Source)
	assert.Equal(t, "OK\r", r.Message)
	assert.True(t, r.Successful)
	assert.Equal(t, uint64(2), r.FrameErrors)
}

func TestRecordFromEvent_BadTimestamp(t *testing.T) {
	before := time.Now().UTC().Unix()
	r := RecordFromEvent(&types.ReadEvent{Timestamp: "yesterday", Source: types.SourceUartTap})
	assert.GreaterOrEqual(t, r.Timestamp, before)
}
