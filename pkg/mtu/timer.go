package mtu

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Timer is a periodic interrupt source. The subscriber is installed once and
// survives any number of enable/disable cycles.
type Timer interface {
	Subscribe(isr func()) error
	SetRate(hz uint32) error
	Enable(on bool) error
}

// TickerTimer drives its subscriber from a ticker goroutine pinned to an OS
// thread. Missed ticks are dropped by the ticker, never queued.
type TickerTimer struct {
	mu   sync.Mutex
	isr  func()
	hz   uint32
	stop chan struct{}
	done chan struct{}
}

func NewTickerTimer() *TickerTimer {
	return &TickerTimer{}
}

func (t *TickerTimer) Subscribe(isr func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isr != nil {
		return ErrAlreadySubscribed
	}
	t.isr = isr
	return nil
}

func (t *TickerTimer) SetRate(hz uint32) error {
	if hz == 0 {
		return fmt.Errorf("%w: timer rate must be > 0", ErrConfig)
	}
	t.mu.Lock()
	t.hz = hz
	t.mu.Unlock()
	return nil
}

func (t *TickerTimer) Enable(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !on {
		if t.stop != nil {
			close(t.stop)
			<-t.done
			t.stop, t.done = nil, nil
		}
		return nil
	}

	if t.stop != nil {
		return nil
	}
	if t.isr == nil {
		return ErrNotSubscribed
	}
	if t.hz == 0 {
		return fmt.Errorf("%w: timer rate not set", ErrConfig)
	}

	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.isr, time.Second/time.Duration(t.hz), t.stop, t.done)
	return nil
}

func (t *TickerTimer) run(isr func(), period time.Duration, stop, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			isr()
		}
	}
}
