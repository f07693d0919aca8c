package library

import (
	"context"
	"errors"
	"fmt"

	"CalmFM/logger"
	"CalmFM/model"
	"CalmFM/repository"
)

// ToggleFavorite flips the (user, track) favorite and returns the new state.
// Concurrent toggles of the same pair are serialized; the unique index
// catches any other writer.
func (s *Service) ToggleFavorite(ctx context.Context, userID int64, trackID string) (bool, error) {
	if userID <= 0 {
		return false, ErrUnauthenticated
	}
	if _, err := s.ownedTrack(ctx, userID, trackID); err != nil {
		return false, err
	}

	unlock := s.locks.Lock(fmt.Sprintf("%d:%s", userID, trackID))
	defer unlock()

	favorite, err := s.toggle(ctx, userID, trackID)
	if err != nil {
		return false, err
	}

	event := model.NewChangeEvent(model.EventFavoriteToggled, trackID)
	event.Favorite = &favorite
	s.notify(ctx, userID, event)

	logger.Debug("favorite toggled", logger.UserID(userID), logger.TrackID(trackID), logger.Bool("favorite", favorite))
	return favorite, nil
}

func (s *Service) toggle(ctx context.Context, userID int64, trackID string) (bool, error) {
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		removed, err := s.repos.Favorites.Delete(ctx, userID, trackID)
		if err != nil {
			return false, err
		}
		if removed {
			return false, nil
		}

		err = s.repos.Favorites.Insert(ctx, &model.Favorite{
			UserID:    userID,
			TrackID:   trackID,
			CreatedAt: s.now(),
		})
		if errors.Is(err, repository.ErrDuplicate) {
			// Another instance inserted between our delete and insert.
			continue
		}
		if errors.Is(err, repository.ErrTrackMissing) {
			// Deleted after the ownership check.
			return false, ErrNotFound
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, fmt.Errorf("favorite toggle for track %s kept conflicting", trackID)
}

// IsFavorite reports whether the user has favorited the track.
func (s *Service) IsFavorite(ctx context.Context, userID int64, trackID string) (bool, error) {
	if userID <= 0 {
		return false, nil
	}
	return s.repos.Favorites.Exists(ctx, userID, trackID)
}

// ListFavorites returns the user's favorited ready tracks, most recently
// favorited first. Tracks that are gone or not ready are skipped.
func (s *Service) ListFavorites(ctx context.Context, userID int64) ([]*model.Track, error) {
	if userID <= 0 {
		return []*model.Track{}, nil
	}

	favs, err := s.repos.Favorites.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(favs))
	for i, f := range favs {
		ids[i] = f.TrackID
	}
	return s.resolveReady(ctx, userID, ids)
}

// resolveReady maps ids to the caller's ready tracks, keeping the order of ids.
func (s *Service) resolveReady(ctx context.Context, userID int64, ids []string) ([]*model.Track, error) {
	byID, err := s.repos.Tracks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	tracks := make([]*model.Track, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok || t.UserID != userID || t.Status != model.TrackStatusReady {
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}
