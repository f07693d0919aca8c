package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"CalmFM/logger"
	"CalmFM/model"
)

// CreateTrackInput is a generation request as submitted by the user.
type CreateTrackInput struct {
	Title  string      `json:"title"`
	Prompt string      `json:"prompt"`
	Genre  model.Genre `json:"genre"`
}

// Validate rejects empty text fields and genres outside the enumeration.
func (in CreateTrackInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if !in.Genre.Valid() {
		return fmt.Errorf("%w: unknown genre %q", ErrValidation, in.Genre)
	}
	return nil
}

// Outcome is the terminal result of a generation run. Nil optional fields are
// left untouched on the track.
type Outcome struct {
	Failed        bool
	AudioURL      string
	ImageURL      *string
	ProviderJobID *string
	Duration      *float64
}

// ReadyOutcome is a successful generation producing audioURL.
func ReadyOutcome(audioURL string) Outcome {
	return Outcome{AudioURL: audioURL}
}

// FailedOutcome is a failed generation. It carries no assets.
func FailedOutcome() Outcome {
	return Outcome{Failed: true}
}

func (o Outcome) patch() (model.TrackPatch, error) {
	if o.Failed {
		return model.TrackPatch{Status: model.TrackStatusFailed}, nil
	}
	if o.AudioURL == "" {
		return model.TrackPatch{}, fmt.Errorf("%w: ready outcome without audio url", ErrValidation)
	}
	audio := o.AudioURL
	return model.TrackPatch{
		Status:        model.TrackStatusReady,
		AudioURL:      &audio,
		ImageURL:      o.ImageURL,
		ProviderJobID: o.ProviderJobID,
		Duration:      o.Duration,
	}, nil
}

// CreateTrack persists a pending track owned by userID.
func (s *Service) CreateTrack(ctx context.Context, userID int64, in CreateTrackInput) (*model.Track, error) {
	if userID <= 0 {
		return nil, ErrUnauthenticated
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Prompt = strings.TrimSpace(in.Prompt)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	track := model.NewTrack(userID, in.Title, in.Prompt, in.Genre, s.now())
	if err := s.repos.Tracks.Create(ctx, track); err != nil {
		return nil, err
	}

	event := model.NewChangeEvent(model.EventTrackCreated, track.ID)
	event.Status = track.Status
	s.notify(ctx, userID, event)

	logger.Info("track created", logger.UserID(userID), logger.TrackID(track.ID), logger.String("genre", string(track.Genre)))
	return track, nil
}

// BeginGeneration moves a pending track to generating. Repeating it on a
// generating track is a no-op.
func (s *Service) BeginGeneration(ctx context.Context, userID int64, trackID string) error {
	if userID <= 0 {
		return ErrUnauthenticated
	}
	err := s.transition(ctx, userID, trackID,
		[]model.TrackStatus{model.TrackStatusPending},
		model.TrackPatch{Status: model.TrackStatusGenerating})
	if err == nil {
		return nil
	}

	track, lookupErr := s.ownedTrack(ctx, userID, trackID)
	if lookupErr == nil && track.Status == model.TrackStatusGenerating {
		return nil
	}
	return err
}

// CompleteGeneration writes the outcome of a generating track.
func (s *Service) CompleteGeneration(ctx context.Context, userID int64, trackID string, outcome Outcome) error {
	if userID <= 0 {
		return ErrUnauthenticated
	}
	patch, err := outcome.patch()
	if err != nil {
		return err
	}
	return s.transition(ctx, userID, trackID, []model.TrackStatus{model.TrackStatusGenerating}, patch)
}

// transition applies patch when the track is owned by userID and currently
// in one of from. The check and the write are one conditional update.
func (s *Service) transition(ctx context.Context, userID int64, trackID string, from []model.TrackStatus, patch model.TrackPatch) error {
	ok, err := s.repos.Tracks.ApplyPatch(ctx, userID, trackID, from, patch)
	if err != nil {
		return err
	}
	if !ok {
		track, err := s.ownedTrack(ctx, userID, trackID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, track.Status, patch.Status)
	}

	event := model.NewChangeEvent(model.EventTrackUpdated, trackID)
	event.Status = patch.Status
	s.notify(ctx, userID, event)
	return nil
}

// DeleteTrack removes the track together with every favorite and play event
// referencing it.
func (s *Service) DeleteTrack(ctx context.Context, userID int64, trackID string) error {
	if userID <= 0 {
		return ErrUnauthenticated
	}
	deleted, err := s.repos.Tracks.DeleteCascade(ctx, userID, trackID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}

	if s.recent != nil {
		if err := s.recent.Invalidate(ctx, userID); err != nil {
			s.warnCache("invalidate", userID, err)
		}
	}
	s.notify(ctx, userID, model.NewChangeEvent(model.EventTrackDeleted, trackID))

	logger.Info("track deleted", logger.UserID(userID), logger.TrackID(trackID))
	return nil
}

// GetTrack returns the track, or nil when it is absent, foreign, or there is
// no caller identity.
func (s *Service) GetTrack(ctx context.Context, userID int64, trackID string) (*model.Track, error) {
	if userID <= 0 {
		return nil, nil
	}
	track, err := s.ownedTrack(ctx, userID, trackID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return track, err
}

// ListTracks returns every track of the user regardless of status, newest
// first. An empty genre matches all genres.
func (s *Service) ListTracks(ctx context.Context, userID int64, genre model.Genre) ([]*model.Track, error) {
	if userID <= 0 {
		return []*model.Track{}, nil
	}
	if genre != "" && !genre.Valid() {
		return nil, fmt.Errorf("%w: unknown genre %q", ErrValidation, genre)
	}
	return s.repos.Tracks.ListByUser(ctx, userID, genre)
}

// ListReady returns the user's playable tracks, newest first.
func (s *Service) ListReady(ctx context.Context, userID int64) ([]*model.Track, error) {
	if userID <= 0 {
		return []*model.Track{}, nil
	}
	return s.repos.Tracks.ListByUserAndStatus(ctx, userID, model.TrackStatusReady)
}

// FailStaleGenerations fails every track that has been generating for longer
// than maxAge, for all users, except those running reports as still in
// progress. It returns how many tracks were failed.
func (s *Service) FailStaleGenerations(ctx context.Context, maxAge time.Duration, running func(trackID string) bool) (int, error) {
	stale, err := s.repos.Tracks.ListByStatusBefore(ctx, model.TrackStatusGenerating, s.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, track := range stale {
		if running != nil && running(track.ID) {
			continue
		}
		err := s.transition(ctx, track.UserID, track.ID,
			[]model.TrackStatus{model.TrackStatusGenerating},
			model.TrackPatch{Status: model.TrackStatusFailed})
		if err != nil {
			// Completed concurrently; nothing to do.
			logger.Debug("stale track not failed", logger.TrackID(track.ID), logger.ErrorField(err))
			continue
		}
		logger.Warn("failed stale generation", logger.UserID(track.UserID), logger.TrackID(track.ID))
		failed++
	}
	return failed, nil
}
