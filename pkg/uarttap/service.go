package uarttap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/readfeed"
	"github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("serial port not connected")

// NewTap initializes a tap client.
func NewTap(port string, baudrate uint, variant framing.Variant) *Tap {
	return &Tap{
		port:     port,
		baudrate: baudrate,
		variant:  variant,
	}
}

// StartReading listens for messages in a goroutine. handleCapture also runs
// in its own goroutine. handleError is called once when the reader gives up.
func (p *Tap) StartReading(
	handleCapture func(c *Capture),
	handleError func(error),
) {
	p.stopSignal.Store(false)

	go func() {
		// Tolerance before we report error.
		consecutiveErrors := 0
		maxErrors := 10
		var lastError error

		if err := p.connect(); err != nil {
			handleError(err)
			return
		}

		reader := bufio.NewReader(p.currentPort())
		for consecutiveErrors < maxErrors {
			if p.stopSignal.Load() {
				log.Info("Stop signal received, disconnecting tap")
				p.disconnect()
				return
			}

			msg, err := readMessage(reader)
			if err != nil {
				if p.stopSignal.Load() {
					return
				}
				consecutiveErrors++
				lastError = err
				log.Warnf("Error reading tap message (%d/%d): %v", consecutiveErrors, maxErrors, err)
				if errors.Is(err, io.EOF) {
					time.Sleep(time.Second)
				}
				continue
			}

			capture := &Capture{
				At:       time.Now(),
				Message:  msg,
				Checksum: readfeed.Checksum(msg),
			}
			p.captureMutex.Lock()
			p.latestCapture = capture
			p.captureMutex.Unlock()

			go handleCapture(capture)
			consecutiveErrors = 0
		}

		log.Errorf("Too many consecutive errors (%d), stopping tap: %v", maxErrors, lastError)
		handleError(lastError)
		p.disconnect()
	}()
}

func (p *Tap) StopReading() {
	p.stopSignal.Store(true)
	p.disconnect()
}

func (p *Tap) GetLatestCapture() *Capture {
	p.captureMutex.RLock()
	defer p.captureMutex.RUnlock()
	return p.latestCapture
}

// Open the serial port with the meter's character framing.
func (p *Tap) connect() error {
	options := serial.OpenOptions{
		PortName:        p.port,
		BaudRate:        p.baudrate,
		DataBits:        framing.DataBits,
		StopBits:        uint(p.variant.StopBits()),
		ParityMode:      serial.PARITY_EVEN,
		MinimumReadSize: 1,
	}

	port, err := serial.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	p.portMu.Lock()
	p.serialPort = port
	p.portMu.Unlock()
	log.Infof("Tap connected on %s (%d baud, %s)", p.port, p.baudrate, p.variant)
	return nil
}

func (p *Tap) currentPort() io.Reader {
	p.portMu.Lock()
	defer p.portMu.Unlock()
	if p.serialPort == nil {
		return errReader{}
	}
	return p.serialPort
}

func (p *Tap) disconnect() {
	p.portMu.Lock()
	defer p.portMu.Unlock()
	if p.serialPort != nil {
		p.serialPort.Close()
		p.serialPort = nil
		log.Info("Tap disconnected")
	}
}

// readMessage returns the next carriage-return terminated message, terminator
// included. Overlong messages are discarded up to their terminator.
func readMessage(r *bufio.Reader) (string, error) {
	var msg framing.MessageBuffer
	overflow := false

	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}

		// Some adapters hand the parity bit through in bit 7
		b &= 0x7F

		if overflow {
			if b == framing.Terminator {
				return "", framing.ErrMessageTooLong
			}
			continue
		}

		if err := msg.Push(b); err != nil {
			overflow = true
			if b == framing.Terminator {
				return "", framing.ErrMessageTooLong
			}
			continue
		}
		if b == framing.Terminator {
			return msg.String(), nil
		}
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, ErrNotConnected }
