package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CalmFM/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDuplicate is returned when an insert violates a unique index.
	ErrDuplicate = errors.New("duplicate record")
	// ErrTrackMissing is returned when a row would reference a track that is
	// gone or owned by someone else.
	ErrTrackMissing = errors.New("referenced track missing")
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) error
	GetByID(ctx context.Context, id string) (*model.Track, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*model.Track, error)
	ListByUser(ctx context.Context, userID int64, genre model.Genre) ([]*model.Track, error)
	ListByUserAndStatus(ctx context.Context, userID int64, status model.TrackStatus) ([]*model.Track, error)
	ListByStatusBefore(ctx context.Context, status model.TrackStatus, before time.Time) ([]*model.Track, error)
	ApplyPatch(ctx context.Context, userID int64, id string, from []model.TrackStatus, patch model.TrackPatch) (bool, error)
	DeleteCascade(ctx context.Context, userID int64, id string) (bool, error)
}

// gormTrackRepository GORM 实现
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a track repository backed by db.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// Create adds a new track.
func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) error {
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return fmt.Errorf("failed to create track: %w", err)
	}
	return nil
}

// GetByID retrieves a track by its ID. A missing track yields (nil, nil).
func (r *gormTrackRepository) GetByID(ctx context.Context, id string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get track %s: %w", id, err)
	}
	return &track, nil
}

// GetByIDs resolves many tracks in one query. Missing ids are absent from the map.
func (r *gormTrackRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*model.Track, error) {
	result := make(map[string]*model.Track, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var tracks []*model.Track
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve tracks: %w", err)
	}
	for _, t := range tracks {
		result[t.ID] = t
	}
	return result, nil
}

// ListByUser returns the user's tracks, newest first. An empty genre matches all.
func (r *gormTrackRepository) ListByUser(ctx context.Context, userID int64, genre model.Genre) ([]*model.Track, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if genre != "" {
		q = q.Where("genre = ?", genre)
	}

	tracks := make([]*model.Track, 0)
	if err := q.Order("created_at DESC").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracks for user %d: %w", userID, err)
	}
	return tracks, nil
}

// ListByUserAndStatus returns the user's tracks in one status, newest first.
func (r *gormTrackRepository) ListByUserAndStatus(ctx context.Context, userID int64, status model.TrackStatus) ([]*model.Track, error) {
	tracks := make([]*model.Track, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, status).
		Order("created_at DESC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s tracks for user %d: %w", status, userID, err)
	}
	return tracks, nil
}

// ListByStatusBefore returns tracks of every user sitting in status since before.
func (r *gormTrackRepository) ListByStatusBefore(ctx context.Context, status model.TrackStatus, before time.Time) ([]*model.Track, error) {
	var tracks []*model.Track
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale %s tracks: %w", status, err)
	}
	return tracks, nil
}

// ApplyPatch writes patch only if the track belongs to userID and its current
// status is one of from. It reports whether a row was updated.
func (r *gormTrackRepository) ApplyPatch(ctx context.Context, userID int64, id string, from []model.TrackStatus, patch model.TrackPatch) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ? AND user_id = ? AND status IN ?", id, userID, from).
		Updates(patch.Columns(time.Now()))
	if res.Error != nil {
		return false, fmt.Errorf("failed to update track %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteCascade removes the track with its favorites and play history in one
// transaction. Nothing is removed unless everything is. The track row goes
// first so that inserts holding its lock finish before the relations are
// cleared.
func (r *gormTrackRepository) DeleteCascade(ctx context.Context, userID int64, id string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Track{})
		if res.Error != nil {
			return fmt.Errorf("delete track: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Where("track_id = ?", id).Delete(&model.Favorite{}).Error; err != nil {
			return fmt.Errorf("delete favorites: %w", err)
		}
		if err := tx.Where("track_id = ?", id).Delete(&model.PlayHistory{}).Error; err != nil {
			return fmt.Errorf("delete play history: %w", err)
		}
		deleted = true
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete track %s: %w", id, err)
	}
	return deleted, nil
}

// lockOwnedTrack locks the track row for the rest of tx and reports whether
// userID owns it. SQLite has no row locks; its writers are serialized anyway.
func lockOwnedTrack(tx *gorm.DB, userID int64, id string) (bool, error) {
	var found []string
	err := tx.Model(&model.Track{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND user_id = ?", id, userID).
		Limit(1).
		Pluck("id", &found).Error
	if err != nil {
		return false, fmt.Errorf("failed to lock track %s: %w", id, err)
	}
	return len(found) > 0, nil
}
