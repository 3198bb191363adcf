package gpio

import (
	"sync"
	"sync/atomic"
)

// FakePin is an in-memory line. Several roles may share one FakePin to wire a
// loopback: one side drives it as an OutputPin, the other samples or watches
// it. A rising edge fires only on a LOW to HIGH transition.
type FakePin struct {
	mu       sync.Mutex
	level    Level
	isr      func()
	failNext error

	writes atomic.Uint64
	reads  atomic.Uint64
}

func NewFakePin(initial Level) *FakePin {
	return &FakePin{level: initial}
}

func (f *FakePin) SetLevel(l Level) error {
	f.mu.Lock()
	if err := f.takeFailure(); err != nil {
		f.mu.Unlock()
		return err
	}
	rising := f.level == Low && l == High
	f.level = l
	isr := f.isr
	f.mu.Unlock()

	f.writes.Add(1)
	if rising && isr != nil {
		isr()
	}
	return nil
}

func (f *FakePin) Level() (Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return Low, err
	}
	f.reads.Add(1)
	return f.level, nil
}

func (f *FakePin) WatchRising(isr func()) error {
	f.mu.Lock()
	f.isr = isr
	f.mu.Unlock()
	return nil
}

func (f *FakePin) StopWatching() error {
	f.mu.Lock()
	f.isr = nil
	f.mu.Unlock()
	return nil
}

// Watching reports whether a rising-edge callback is installed.
func (f *FakePin) Watching() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isr != nil
}

// Current returns the level without counting a read.
func (f *FakePin) Current() Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// FailNext makes the next read or write return err wrapped in ErrGpio.
func (f *FakePin) FailNext(err error) {
	f.mu.Lock()
	f.failNext = err
	f.mu.Unlock()
}

func (f *FakePin) Writes() uint64 { return f.writes.Load() }

func (f *FakePin) Reads() uint64 { return f.reads.Load() }

func (f *FakePin) takeFailure() error {
	if f.failNext == nil {
		return nil
	}
	err := f.failNext
	f.failNext = nil
	return &fakeError{cause: err}
}

type fakeError struct{ cause error }

func (e *fakeError) Error() string { return "fake pin: " + e.cause.Error() }

func (e *fakeError) Unwrap() []error { return []error{ErrGpio, e.cause} }
