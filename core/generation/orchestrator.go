// Package generation drives a track from pending to a terminal status by
// calling the synthesis provider, or a demo fallback when no provider
// credential is configured.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CalmFM/core/library"
	"CalmFM/logger"
	"CalmFM/metrics"
	"CalmFM/model"
)

const (
	ModeProvider = "provider"
	ModeDemo     = "demo"
)

// Lifecycle is the part of the library the orchestrator drives.
type Lifecycle interface {
	BeginGeneration(ctx context.Context, userID int64, trackID string) error
	CompleteGeneration(ctx context.Context, userID int64, trackID string, outcome library.Outcome) error
}

// KeySource yields the current provider credential. Empty means demo mode.
type KeySource interface {
	APIKey() string
}

// ReportSink stores the record of a finished run.
type ReportSink interface {
	PutReport(ctx context.Context, report *model.GenerationReport) error
}

// Request identifies the track to generate and its owner.
type Request struct {
	UserID  int64
	TrackID string
	Prompt  string
	Genre   model.Genre
}

// Config holds the orchestrator collaborators. Reports may be nil.
type Config struct {
	Lifecycle Lifecycle
	Provider  Provider
	Keys      KeySource
	Reports   ReportSink
	DemoDelay time.Duration
}

// Orchestrator runs generations. Dispatched runs belong to the orchestrator,
// not to the request that started them.
type Orchestrator struct {
	cfg    Config
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{cfg: cfg, base: base, cancel: cancel, active: make(map[string]struct{})}
}

// Dispatch starts req in the background and returns immediately.
func (o *Orchestrator) Dispatch(req Request) {
	o.mu.Lock()
	o.active[req.TrackID] = struct{}{}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.active, req.TrackID)
			o.mu.Unlock()
		}()
		if err := o.Run(o.base, req); err != nil {
			logger.Error("music generation failed",
				logger.UserID(req.UserID),
				logger.TrackID(req.TrackID),
				logger.ErrorField(err))
		}
	}()
}

// Running reports whether a dispatched run for trackID has not finished yet,
// including one still waiting for the provider rate limit.
func (o *Orchestrator) Running(trackID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[trackID]
	return ok
}

// Shutdown waits for dispatched runs. When ctx expires first, the remaining
// runs are cancelled, which fails their tracks, and awaited.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// Run performs one generation synchronously. Whatever goes wrong, the track
// ends failed and the error is returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) error {
	report := &model.GenerationReport{
		TrackID:   req.TrackID,
		UserID:    req.UserID,
		Genre:     req.Genre,
		StartedAt: time.Now(),
	}

	outcome, err := o.generate(ctx, req, report)
	if err == nil {
		err = o.cfg.Lifecycle.CompleteGeneration(ctx, req.UserID, req.TrackID, outcome)
		if err != nil {
			err = fmt.Errorf("complete generation: %w", err)
		}
	}

	// The track was deleted while the run was in flight: nothing is left to
	// fail and a report would outlive it.
	if errors.Is(err, library.ErrNotFound) {
		logger.Info("track gone before generation finished",
			logger.UserID(req.UserID),
			logger.TrackID(req.TrackID))
		return err
	}

	if err != nil {
		// The run may have been cancelled; recording the failure must not be.
		failCtx := context.WithoutCancel(ctx)
		if ferr := o.cfg.Lifecycle.CompleteGeneration(failCtx, req.UserID, req.TrackID, library.FailedOutcome()); ferr != nil {
			logger.Warn("failed to mark track failed",
				logger.TrackID(req.TrackID),
				logger.ErrorField(ferr))
		}
		report.Status = model.TrackStatusFailed
		report.Error = err.Error()
	} else {
		report.Status = model.TrackStatusReady
		report.AudioURL = outcome.AudioURL
		if outcome.ImageURL != nil {
			report.ImageURL = *outcome.ImageURL
		}
		if outcome.ProviderJobID != nil {
			report.ProviderJobID = *outcome.ProviderJobID
		}
		report.Duration = outcome.Duration
	}
	report.FinishedAt = time.Now()

	metrics.RecordGeneration(report.Mode, string(report.Status), report.FinishedAt.Sub(report.StartedAt))
	o.saveReport(ctx, report)

	if err == nil {
		logger.Info("music generation finished",
			logger.UserID(req.UserID),
			logger.TrackID(req.TrackID),
			logger.String("mode", report.Mode))
	}
	return err
}

func (o *Orchestrator) generate(ctx context.Context, req Request, report *model.GenerationReport) (library.Outcome, error) {
	report.Mode = ModeDemo
	if err := o.cfg.Lifecycle.BeginGeneration(ctx, req.UserID, req.TrackID); err != nil {
		return library.Outcome{}, fmt.Errorf("begin generation: %w", err)
	}

	prompt := EnrichPrompt(req.Prompt, req.Genre)
	report.EnrichedPrompt = prompt

	var apiKey string
	if o.cfg.Keys != nil {
		apiKey = o.cfg.Keys.APIKey()
	}
	if apiKey == "" || o.cfg.Provider == nil {
		return o.demo(ctx, req.Genre)
	}

	report.Mode = ModeProvider
	result, err := o.cfg.Provider.Generate(ctx, apiKey, prompt)
	if err != nil {
		return library.Outcome{}, err
	}
	return outcomeFromResult(result), nil
}

// demo waits DemoDelay and returns the sample asset for genre.
func (o *Orchestrator) demo(ctx context.Context, genre model.Genre) (library.Outcome, error) {
	if o.cfg.DemoDelay > 0 {
		timer := time.NewTimer(o.cfg.DemoDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return library.Outcome{}, ctx.Err()
		}
	}

	outcome := library.ReadyOutcome(DemoAudioURL(genre))
	duration := DemoDuration
	outcome.Duration = &duration
	return outcome, nil
}

// outcomeFromResult keeps only the fields the provider actually filled in.
func outcomeFromResult(r *Result) library.Outcome {
	outcome := library.ReadyOutcome(r.AudioURL)
	if r.ImageURL != "" {
		image := r.ImageURL
		outcome.ImageURL = &image
	}
	if r.JobID != "" {
		job := r.JobID
		outcome.ProviderJobID = &job
	}
	if r.Duration > 0 {
		duration := r.Duration
		outcome.Duration = &duration
	}
	return outcome
}

func (o *Orchestrator) saveReport(ctx context.Context, report *model.GenerationReport) {
	if o.cfg.Reports == nil {
		return
	}
	if err := o.cfg.Reports.PutReport(context.WithoutCancel(ctx), report); err != nil {
		logger.Warn("failed to store generation report",
			logger.TrackID(report.TrackID),
			logger.ErrorField(err))
	}
}
