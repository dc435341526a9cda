// Package scheduler periodically pushes the latest reading to a publish channel.
//
// One goroutine owns the ticker, so ticks never overlap: a tick that overruns the
// period delays the next one instead of running beside it. Errors inside a tick are
// logged and counted; they never stop the schedule.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"iot-environment-server/internal/modules/environment/publish"
	"iot-environment-server/internal/modules/environment/types"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultTopic    = "/topic/environment"
)

var ErrAlreadyStarted = errors.New("scheduler already started")

// LatestSource is the query the scheduler runs on every tick.
type LatestSource interface {
	Latest(ctx context.Context) (types.Reading, bool, error)
}

type State int32

const (
	Idle State = iota
	Ticking
)

func (s State) String() string {
	if s == Ticking {
		return "ticking"
	}
	return "idle"
}

type Config struct {
	Interval time.Duration
	Topic    string
	// TickTimeout bounds the query and publish of a single tick. Zero means Interval.
	TickTimeout time.Duration
}

// Stats counts what the scheduler has done since it was created.
type Stats struct {
	Ticks     uint64
	Published uint64
	Skipped   uint64
	Failed    uint64
}

// TickerFunc returns a channel of fire times and a stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Scheduler struct {
	source  LatestSource
	channel publish.Channel
	cfg     Config
	logger  *slog.Logger
	ticker  TickerFunc

	state     atomic.Int32
	ticks     atomic.Uint64
	published atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(source LatestSource, channel publish.Channel, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = cfg.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:  source,
		channel: channel,
		cfg:     cfg,
		logger:  logger.With("component", "broadcast-scheduler", "topic", cfg.Topic),
		ticker:  realTicker,
	}
}

// WithTicker replaces the time source. Must be called before Start.
func (s *Scheduler) WithTicker(f TickerFunc) *Scheduler {
	s.ticker = f
	return s
}

// Start begins ticking in the background. Cancelling ctx has the same effect as Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	fires, stopTicker := s.ticker(s.cfg.Interval)
	go s.loop(loopCtx, fires, stopTicker)

	s.logger.Info("broadcast scheduler started", "interval", s.cfg.Interval)
	return nil
}

// Stop prevents further ticks and waits for a tick in progress to finish.
// It is safe to call more than once, and before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:     s.ticks.Load(),
		Published: s.published.Load(),
		Skipped:   s.skipped.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *Scheduler) loop(ctx context.Context, fires <-chan time.Time, stopTicker func()) {
	defer close(s.done)
	defer stopTicker()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("broadcast scheduler stopped", "ticks", s.ticks.Load())
			return
		case <-fires:
			// both cases may be ready at once; a stop request wins
			if ctx.Err() != nil {
				continue
			}
			// a running tick outlives Stop; only its own timeout can cut it short
			tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TickTimeout)
			s.tick(tickCtx)
			cancel()
		}
	}
}

// tick runs one broadcast step: read the latest reading and publish it if there is one.
// Only loop calls it. Failures are logged and counted, never returned.
func (s *Scheduler) tick(ctx context.Context) {
	s.state.Store(int32(Ticking))
	defer s.state.Store(int32(Idle))
	s.ticks.Add(1)

	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			s.logger.Error("broadcast tick panicked", "panic", r)
		}
	}()

	reading, ok, err := s.source.Latest(ctx)
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("broadcast tick: latest query failed", "error", err)
		return
	}
	if !ok {
		s.skipped.Add(1)
		s.logger.Debug("broadcast tick: no reading yet")
		return
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("broadcast tick: encode reading failed", "id", reading.ID, "error", err)
		return
	}

	if err := s.channel.Publish(ctx, s.cfg.Topic, payload); err != nil {
		s.failed.Add(1)
		s.logger.Warn("broadcast tick: publish failed", "id", reading.ID, "error", err)
		return
	}
	s.published.Add(1)
	s.logger.Debug("broadcast tick: published", "id", reading.ID, "timestamp", reading.Timestamp)
}
