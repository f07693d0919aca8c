// Package library owns the track lifecycle and the per-user favorites and
// play history built on top of it. Every operation takes the caller's user id
// explicitly; zero means no identity was resolved.
package library

import (
	"context"
	"errors"
	"sync"
	"time"

	"CalmFM/logger"
	"CalmFM/model"
	"CalmFM/repository"
)

var (
	ErrUnauthenticated   = errors.New("authentication required")
	ErrNotFound          = errors.New("track not found")
	ErrValidation        = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	// RecentEventWindow is how many play events feed the recently-played view.
	RecentEventWindow = 10
	// RecentTrackLimit caps the distinct tracks it returns.
	RecentTrackLimit = 5

	toggleAttempts = 3
)

// Notifier receives an event after each committed mutation.
type Notifier interface {
	Notify(ctx context.Context, userID int64, event model.ChangeEvent)
}

// RecentCache mirrors the latest play events of each user, most recent first.
// Fill must drop its list when a write happened after version was read.
type RecentCache interface {
	Version(ctx context.Context, userID int64) (string, error)
	Push(ctx context.Context, userID int64, trackID string) error
	Get(ctx context.Context, userID int64) ([]string, bool, error)
	Fill(ctx context.Context, userID int64, trackIDs []string, version string) error
	Invalidate(ctx context.Context, userID int64) error
}

// Repositories groups the stores the service reads and writes.
type Repositories struct {
	Tracks    repository.TrackRepository
	Favorites repository.FavoriteRepository
	Plays     repository.PlayHistoryRepository
}

// Service implements the library operations.
type Service struct {
	repos    Repositories
	notifier Notifier
	recent   RecentCache
	locks    *keyedMutex
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier publishes change events to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRecentCache serves the recently-played view through c.
func WithRecentCache(c RecentCache) Option {
	return func(s *Service) { s.recent = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a library service.
func NewService(repos Repositories, opts ...Option) *Service {
	s := &Service{
		repos: repos,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) notify(ctx context.Context, userID int64, event model.ChangeEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, event)
}

// ownedTrack loads trackID and fails closed unless userID owns it.
func (s *Service) ownedTrack(ctx context.Context, userID int64, trackID string) (*model.Track, error) {
	track, err := s.repos.Tracks.GetByID(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if track == nil || track.UserID != userID {
		return nil, ErrNotFound
	}
	return track, nil
}

func (s *Service) warnCache(op string, userID int64, err error) {
	logger.Warn("recent play cache "+op+" failed", logger.UserID(userID), logger.ErrorField(err))
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is held and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
