package readfeed

import (
	"fmt"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/mtu"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtuutils"
	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	"github.com/sigurn/crc16"
)

// CRC16/ARC, as used for DSMR telegrams
var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// Checksum fingerprints a message so stored reads can be compared cheaply.
func Checksum(msg string) string {
	return fmt.Sprintf("%04X", crc16.Checksum([]byte(msg), crcTable))
}

// EventFromResult converts a finished MTU read into its feed form.
func EventFromResult(res mtu.ReadResult) *types.ReadEvent {
	ev := &types.ReadEvent{
		Timestamp:       res.At.UTC().Format(time.RFC3339),
		Source:          types.SourceMtu,
		Outcome:         res.Outcome.String(),
		Message:         res.Message,
		Successful:      res.Successful,
		Framing:         res.Framing.String(),
		BaudRate:        res.BaudRate,
		ClockCycles:     res.ClockCycles,
		FrameErrors:     res.FrameErrors,
		DurationMs:      mtuutils.DurationToMs(res.Duration),
		SuccessfulReads: res.Stats.SuccessfulReads,
		CorruptedReads:  res.Stats.CorruptedReads,
		SuccessRate:     res.Stats.SuccessRate(),
	}
	if res.Message != "" {
		ev.Checksum = Checksum(res.Message)
	}
	return ev
}
