package uarttap

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
)

// Tap reads the meter data line through a USB-UART adapter. The UART does the
// framing in hardware, so its captures are a reference for the bit-banged
// decoder.
type Tap struct {
	port       string
	baudrate   uint
	variant    framing.Variant
	serialPort io.ReadWriteCloser
	portMu     sync.Mutex
	stopSignal atomic.Bool

	latestCapture *Capture
	captureMutex  sync.RWMutex
}

// Capture is one terminated message seen on the line.
type Capture struct {
	At       time.Time
	Message  string
	Checksum string
}
