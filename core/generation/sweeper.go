package generation

import (
	"context"
	"fmt"
	"time"

	"CalmFM/logger"
	"CalmFM/metrics"

	"github.com/robfig/cron/v3"
)

// StaleFailer fails generations stuck for longer than maxAge unless running
// reports them as live.
type StaleFailer interface {
	FailStaleGenerations(ctx context.Context, maxAge time.Duration, running func(trackID string) bool) (int, error)
}

// RunTracker knows which generations this instance is still working on.
type RunTracker interface {
	Running(trackID string) bool
}

// Sweeper periodically fails tracks left generating, e.g. by a crashed instance.
// Runs still owned by the local orchestrator are never swept. runs may be nil.
type Sweeper struct {
	lib    StaleFailer
	runs   RunTracker
	maxAge time.Duration
	cron   *cron.Cron
}

// NewSweeper schedules a sweep every interval.
func NewSweeper(lib StaleFailer, runs RunTracker, interval, maxAge time.Duration) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	s := &Sweeper{
		lib:    lib,
		runs:   runs,
		maxAge: maxAge,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{}))),
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep interval %s: %w", interval, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var running func(string) bool
	if s.runs != nil {
		running = s.runs.Running
	}
	n, err := s.lib.FailStaleGenerations(ctx, s.maxAge, running)
	if err != nil {
		logger.Error("stale generation sweep failed", logger.ErrorField(err))
		return
	}
	if n > 0 {
		metrics.RecordStaleFailed(n)
		logger.Info("stale generation sweep", logger.Int("failed", n))
	}
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, logger.Any("kv", keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, logger.ErrorField(err), logger.Any("kv", keysAndValues))
}
