package repository

import (
	"context"
	"fmt"

	"CalmFM/model"

	"gorm.io/gorm"
)

// PlayHistoryRepository is the append-only play event log.
type PlayHistoryRepository interface {
	Insert(ctx context.Context, play *model.PlayHistory) error
	Recent(ctx context.Context, userID int64, limit int) ([]*model.PlayHistory, error)
}

type gormPlayHistoryRepository struct {
	db *gorm.DB
}

// NewGormPlayHistoryRepository creates a play history repository backed by db.
func NewGormPlayHistoryRepository(db *gorm.DB) PlayHistoryRepository {
	return &gormPlayHistoryRepository{db: db}
}

// Insert appends a play event under the track row lock. It fails with
// ErrTrackMissing unless play.UserID owns the track.
func (r *gormPlayHistoryRepository) Insert(ctx context.Context, play *model.PlayHistory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned, err := lockOwnedTrack(tx, play.UserID, play.TrackID)
		if err != nil {
			return err
		}
		if !owned {
			return ErrTrackMissing
		}
		if err := tx.Create(play).Error; err != nil {
			return fmt.Errorf("failed to record play: %w", err)
		}
		return nil
	})
}

// Recent returns the user's latest play events, most recent first.
func (r *gormPlayHistoryRepository) Recent(ctx context.Context, userID int64, limit int) ([]*model.PlayHistory, error) {
	plays := make([]*model.PlayHistory, 0, limit)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("played_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&plays).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load play history for user %d: %w", userID, err)
	}
	return plays, nil
}
