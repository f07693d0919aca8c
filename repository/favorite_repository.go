package repository

import (
	"context"
	"errors"
	"fmt"

	"CalmFM/model"

	"gorm.io/gorm"
)

// FavoriteRepository defines the interface for favorite data operations.
type FavoriteRepository interface {
	Exists(ctx context.Context, userID int64, trackID string) (bool, error)
	Insert(ctx context.Context, fav *model.Favorite) error
	Delete(ctx context.Context, userID int64, trackID string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]*model.Favorite, error)
}

type gormFavoriteRepository struct {
	db *gorm.DB
}

// NewGormFavoriteRepository creates a favorite repository backed by db.
func NewGormFavoriteRepository(db *gorm.DB) FavoriteRepository {
	return &gormFavoriteRepository{db: db}
}

// Exists reports whether the (user, track) favorite row is present.
func (r *gormFavoriteRepository) Exists(ctx context.Context, userID int64, trackID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Favorite{}).
		Where("user_id = ? AND track_id = ?", userID, trackID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return count > 0, nil
}

// Insert adds a favorite row while holding the track row, so a concurrent
// delete cannot leave it orphaned. It fails with ErrTrackMissing unless
// fav.UserID owns the track, and with ErrDuplicate when the pair exists.
func (r *gormFavoriteRepository) Insert(ctx context.Context, fav *model.Favorite) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned, err := lockOwnedTrack(tx, fav.UserID, fav.TrackID)
		if err != nil {
			return err
		}
		if !owned {
			return ErrTrackMissing
		}

		err = tx.Create(fav).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to insert favorite: %w", err)
		}
		return nil
	})
}

// Delete removes the (user, track) row and reports whether one existed.
func (r *gormFavoriteRepository) Delete(ctx context.Context, userID int64, trackID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND track_id = ?", userID, trackID).
		Delete(&model.Favorite{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete favorite: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListByUser returns the user's favorites, most recently favorited first.
func (r *gormFavoriteRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Favorite, error) {
	favs := make([]*model.Favorite, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&favs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites for user %d: %w", userID, err)
	}
	return favs, nil
}
