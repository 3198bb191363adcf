package types

import "encoding/json"

type ReadSource string

const (
	// Bit-banged read by the MTU session
	SourceMtu ReadSource = "mtu"
	// Same line captured by the USB-UART tap
	SourceUartTap ReadSource = "uart_tap"
)

// ReadEvent is one finished read as published on the live feed.
type ReadEvent struct {
	Timestamp string     `json:"timestamp"`
	Source    ReadSource `json:"source"`
	Outcome   string     `json:"outcome"`

	// Message
	Message    string `json:"message"`
	Checksum   string `json:"checksum"`
	Successful bool   `json:"successful"`

	// Link
	Framing     string `json:"framing"`
	BaudRate    uint32 `json:"baud_rate"`
	ClockCycles uint64 `json:"clock_cycles"`
	FrameErrors uint64 `json:"frame_errors"`
	DurationMs  int64  `json:"duration_ms"`

	// Session counters after this read
	SuccessfulReads uint32  `json:"successful_reads"`
	CorruptedReads  uint32  `json:"corrupted_reads"`
	SuccessRate     float64 `json:"success_rate"`
}

func (e *ReadEvent) ToJsonBytes() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return b
}

// ReadEventFromJsonBytes returns nil when b is not a read event.
func ReadEventFromJsonBytes(b []byte) *ReadEvent {
	var e ReadEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return nil
	}
	if e.Timestamp == "" || e.Source == "" {
		return nil
	}
	return &e
}
