package library

import (
	"context"
	"errors"

	"CalmFM/model"
	"CalmFM/repository"
)

// RecordPlay appends a play event for a track the user owns.
func (s *Service) RecordPlay(ctx context.Context, userID int64, trackID string) error {
	if userID <= 0 {
		return ErrUnauthenticated
	}
	if _, err := s.ownedTrack(ctx, userID, trackID); err != nil {
		return err
	}

	play := &model.PlayHistory{UserID: userID, TrackID: trackID, PlayedAt: s.now()}
	err := s.repos.Plays.Insert(ctx, play)
	if errors.Is(err, repository.ErrTrackMissing) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if s.recent != nil {
		if err := s.recent.Push(ctx, userID, trackID); err != nil {
			s.warnCache("push", userID, err)
		}
	}
	s.notify(ctx, userID, model.NewChangeEvent(model.EventPlayRecorded, trackID))
	return nil
}

// ListRecentlyPlayed returns up to RecentTrackLimit distinct ready tracks from
// the user's last RecentEventWindow play events, most recent first.
func (s *Service) ListRecentlyPlayed(ctx context.Context, userID int64) ([]*model.Track, error) {
	if userID <= 0 {
		return []*model.Track{}, nil
	}

	ids, err := s.recentTrackIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.resolveReady(ctx, userID, dedupe(ids, RecentTrackLimit))
}

func (s *Service) recentTrackIDs(ctx context.Context, userID int64) ([]string, error) {
	fill := false
	var version string
	if s.recent != nil {
		// Read the version first: a play committed after this point makes
		// the fill below a no-op instead of hiding that play.
		v, err := s.recent.Version(ctx, userID)
		if err != nil {
			s.warnCache("version", userID, err)
		} else {
			ids, ok, err := s.recent.Get(ctx, userID)
			if err != nil {
				s.warnCache("read", userID, err)
			} else if ok {
				return ids, nil
			} else {
				version, fill = v, true
			}
		}
	}

	plays, err := s.repos.Plays.Recent(ctx, userID, RecentEventWindow)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(plays))
	for i, p := range plays {
		ids[i] = p.TrackID
	}

	if fill {
		if err := s.recent.Fill(ctx, userID, ids, version); err != nil {
			s.warnCache("fill", userID, err)
		}
	}
	return ids, nil
}

// dedupe keeps the first occurrence of each id, stopping at limit ids.
func dedupe(ids []string, limit int) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, limit)
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
