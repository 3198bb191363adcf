// Package mtu reads a clocked water meter by driving its clock line and
// sampling its data line.
//
// A Session owns both pins and the phase timer for the life of the process.
// Timer ticks are split into four quarter-period phases; the phase task turns
// them into clock edges and data samples and the decoder frames the samples
// into a carriage-return terminated message.
package mtu

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/gpio"
	log "github.com/sirupsen/logrus"
)

var errStopRequested = errors.New("stop requested")

type queuedCommand struct {
	cmd   Command
	epoch uint64
}

type Session struct {
	clock gpio.OutputPin
	data  gpio.InputPin
	timer Timer
	gen   *clockGenerator

	cfgMu sync.Mutex
	cfg   Config

	stats       statsStore
	frameErrors atomic.Uint64
	running     atomic.Bool
	state       atomic.Uint32
	closed      atomic.Bool

	cmds         chan queuedCommand
	startPending atomic.Bool

	// stopEpoch counts Stop requests. A Start queued before a Stop carries
	// an older epoch and is dropped.
	cancelMu  sync.Mutex
	cancelOp  context.CancelCauseFunc
	stopEpoch atomic.Uint64

	onRead func(ReadResult)
	logger *log.Entry
}

// New builds a session and installs the timer subscription. The subscription
// is kept for the session's lifetime.
func New(clock gpio.OutputPin, data gpio.InputPin, timer Timer, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		clock:  clock,
		data:   data,
		timer:  timer,
		gen:    newClockGenerator(),
		cfg:    cfg,
		cmds:   make(chan queuedCommand, commandQueueSize),
		logger: log.WithField("component", "mtu"),
	}

	if err := timer.Subscribe(s.gen.tick); err != nil {
		return nil, fmt.Errorf("subscribe timer: %w", err)
	}
	return s, nil
}

// OnRead registers a callback for finished reads. It runs on its own
// goroutine. Must be set before Serve.
func (s *Session) OnRead(fn func(ReadResult)) {
	s.onRead = fn
}

// Serve services the command queue until ctx ends. It locks its goroutine to
// an OS thread: this thread is the only one touching the pins.
func (s *Session) Serve(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.logger.Info("command loop started")
	for {
		select {
		case <-ctx.Done():
			s.closed.Store(true)
			s.powerOff()
			s.logger.Info("command loop stopped")
			return ctx.Err()

		case q := <-s.cmds:
			switch c := q.cmd.(type) {
			case Start:
				if q.epoch != s.stopEpoch.Load() {
					s.startPending.Store(false)
					s.logger.Info("start dropped, stop was requested after it")
					continue
				}
				_, err := s.runOnce(ctx, c.Duration(), q.epoch)
				s.startPending.Store(false)
				if err != nil {
					s.logger.Errorf("operation failed: %v", err)
				}
			case Stop:
				s.powerOff()
				s.setState(StateIdle)
				s.logger.Info("stopped, clock powered off")
			}
		}
	}
}

// Send queues a command without blocking. Only one Start may be queued or
// running at a time, others get ErrBusy. Stop aborts the running read and
// drops any Start queued before it.
func (s *Session) Send(cmd Command) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", ErrChannel, ErrClosed)
	}
	_, isStart := cmd.(Start)
	switch cmd.(type) {
	case Start:
		if s.running.Load() || !s.startPending.CompareAndSwap(false, true) {
			return fmt.Errorf("%w: stop the current read first", ErrBusy)
		}
	case Stop:
		s.cancelMu.Lock()
		s.stopEpoch.Add(1)
		if s.cancelOp != nil {
			s.cancelOp(errStopRequested)
		}
		s.cancelMu.Unlock()
	}

	select {
	case s.cmds <- queuedCommand{cmd: cmd, epoch: s.stopEpoch.Load()}:
		return nil
	default:
		if isStart {
			s.startPending.Store(false)
		}
		return fmt.Errorf("%w: queue full", ErrChannel)
	}
}

// RunOnce performs one bounded read: power-up hold, clocked sampling and
// decoding until a message completes or duration elapses.
//
// A read that times out is not an error: it is counted as corrupted and
// returned with OutcomeTimedOut. Only GPIO and timer failures return errors.
func (s *Session) RunOnce(ctx context.Context, duration time.Duration) (ReadResult, error) {
	return s.runOnce(ctx, duration, s.stopEpoch.Load())
}

// runOnce skips the read when a Stop arrived after epoch was taken.
func (s *Session) runOnce(ctx context.Context, duration time.Duration, epoch uint64) (ReadResult, error) {
	// The cancel func is installed together with the running flag so a Stop
	// that observes IsRunning always reaches this read.
	s.cancelMu.Lock()
	if s.stopEpoch.Load() != epoch {
		s.cancelMu.Unlock()
		return ReadResult{Outcome: OutcomeStopped}, nil
	}
	if !s.running.CompareAndSwap(false, true) {
		s.cancelMu.Unlock()
		return ReadResult{}, ErrBusy
	}
	opCtx, cancel := context.WithCancelCause(ctx)
	s.cancelOp = cancel
	s.cancelMu.Unlock()

	defer func() {
		s.cancelMu.Lock()
		s.cancelOp = nil
		s.running.Store(false)
		s.cancelMu.Unlock()
		cancel(nil)
	}()

	cfg := s.Config()
	logger := s.logger.WithFields(log.Fields{
		"baud":     cfg.BaudRate,
		"framing":  cfg.Framing,
		"duration": duration,
	})

	started := time.Now()
	logger.Infof("starting meter read")

	// Power up: hold the clock high so the register wakes up.
	s.setState(StatePoweringUp)
	if err := gpio.SetHigh(s.clock); err != nil {
		return s.abort(err)
	}
	logger.Debugf("power-up hold %v", cfg.PowerUpDelay)
	select {
	case <-opCtx.Done():
	case <-time.After(cfg.PowerUpDelay):
	}

	readCtx, cancelRead := context.WithTimeout(opCtx, duration)
	defer cancelRead()

	s.gen.reset()
	bits := make(chan uint8, bitQueueSize)
	complete := make(chan struct{})
	results := make(chan string, 1)
	decoderDone := make(chan struct{})

	dec := NewDecoder(cfg.Framing, cfg.FrameBitTimeout)
	dec.OnSynced = func() {
		s.state.CompareAndSwap(uint32(StateSynchronizing), uint32(StateFraming))
	}
	dec.OnComplete = func(msg string) {
		results <- msg
		close(complete)
	}

	s.setState(StateSynchronizing)
	go func() {
		defer close(decoderDone)
		dec.Run(readCtx, bits)
	}()

	if err := s.timer.SetRate(cfg.TimerHz()); err != nil {
		cancelRead()
		return s.abort(err)
	}
	if err := s.timer.Enable(true); err != nil {
		cancelRead()
		return s.abort(err)
	}

	task := &phaseTask{clock: s.clock, data: s.data, bits: bits}
	runErr := task.run(readCtx, s.gen, complete, logger)

	if err := s.timer.Enable(false); err != nil {
		logger.Errorf("disable timer: %v", err)
	}
	cancelRead()

	msg, completed := s.collect(results, decoderDone, logger)
	s.frameErrors.Add(dec.FrameErrors())
	s.powerOff()

	if runErr != nil {
		logger.Errorf("read aborted: %v", runErr)
		s.setState(StateIdle)
		return ReadResult{}, runErr
	}

	res := ReadResult{
		At:          started,
		Framing:     cfg.Framing,
		BaudRate:    cfg.BaudRate,
		ClockCycles: s.gen.cycles.Load(),
		FrameErrors: dec.FrameErrors(),
		Duration:    time.Since(started),
	}

	switch {
	case completed:
		res.Outcome = OutcomeCompleted
		res.Message = msg
		res.Successful = cfg.ExpectedMessage == "" || msg == cfg.ExpectedMessage
		s.setState(StateCompleted)
	case errors.Is(context.Cause(opCtx), errStopRequested) || ctx.Err() != nil:
		res.Outcome = OutcomeStopped
	default:
		res.Outcome = OutcomeTimedOut
		s.setState(StateTimedOut)
	}

	if res.Outcome != OutcomeStopped {
		ok, bad := s.stats.record(msg, completed, res.Successful)
		switch {
		case res.Successful:
			logger.Infof("message SUCCESS %q - stats: %d/%d", msg, ok, ok+bad)
		case completed:
			logger.Errorf("message CORRUPTED - expected %q, received %q - stats: %d/%d", cfg.ExpectedMessage, msg, ok, ok+bad)
		default:
			logger.Errorf("message CORRUPTED - no message received - stats: %d/%d", ok, ok+bad)
		}
	} else {
		logger.Info("read stopped before a message arrived")
	}

	res.Stats = s.GetStats()
	logger.Infof("read finished after %v: %s, %d clock cycles, %d frame errors",
		res.Duration.Round(time.Millisecond), res.Outcome, res.ClockCycles, res.FrameErrors)
	s.setState(StateIdle)

	if s.onRead != nil {
		go s.onRead(res)
	}
	return res, nil
}

// collect waits briefly for the decoder's result. A decoder that does not
// finish within the grace period is left behind.
func (s *Session) collect(results <-chan string, done <-chan struct{}, logger *log.Entry) (string, bool) {
	grace := time.NewTimer(decoderGracePeriod)
	defer grace.Stop()

	select {
	case msg := <-results:
		return msg, true
	case <-done:
		select {
		case msg := <-results:
			return msg, true
		default:
			return "", false
		}
	case <-grace.C:
		logger.Warnf("decoder still busy after %v, detaching", decoderGracePeriod)
		return "", false
	}
}

func (s *Session) abort(err error) (ReadResult, error) {
	s.powerOff()
	s.setState(StateIdle)
	return ReadResult{}, err
}

// powerOff drives the clock low. Failures are logged only.
func (s *Session) powerOff() {
	if err := gpio.SetLow(s.clock); err != nil {
		s.logger.Errorf("power off clock: %v", err)
	}
}

func (s *Session) setState(st State) {
	s.state.Store(uint32(st))
}

// ---- query surface ----

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) IsRunning() bool {
	return s.running.Load()
}

func (s *Session) Config() Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

func (s *Session) GetBaudRate() uint32 {
	return s.Config().BaudRate
}

// SetBaudRate changes the rate used by the next read. Callers must check
// IsRunning first: the session does not refuse a change while running, and a
// read already in progress keeps the rate it started with.
func (s *Session) SetBaudRate(rate uint32) error {
	if rate == 0 {
		return fmt.Errorf("%w: baud rate must be > 0", ErrConfig)
	}
	s.cfgMu.Lock()
	s.cfg.BaudRate = rate
	s.cfgMu.Unlock()
	s.logger.Infof("baud rate set to %d", rate)
	return nil
}

// SetFraming selects the frame layout for the next read.
func (s *Session) SetFraming(v framing.Variant) {
	s.cfgMu.Lock()
	s.cfg.Framing = v
	s.cfgMu.Unlock()
	s.logger.Infof("framing set to %s", v)
}

func (s *Session) SetExpectedMessage(msg string) error {
	cfg := s.Config()
	cfg.ExpectedMessage = msg
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfgMu.Lock()
	s.cfg.ExpectedMessage = msg
	s.cfgMu.Unlock()
	s.logger.Infof("expected message set to %q", msg)
	return nil
}

func (s *Session) GetStats() Stats {
	ok, bad := s.stats.counts()
	return Stats{
		SuccessfulReads: ok,
		CorruptedReads:  bad,
		ClockCycles:     s.gen.cycles.Load(),
	}
}

func (s *Session) GetLastMessage() (string, bool) {
	return s.stats.last()
}

func (s *Session) FrameErrors() uint64 {
	return s.frameErrors.Load()
}

func (s *Session) ResetStats() {
	s.stats.reset()
	s.frameErrors.Store(0)
	s.logger.Info("statistics reset")
}
