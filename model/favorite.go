package model

import "time"

// Favorite marks a track as favorited by a user. At most one row exists per
// (user, track); the unique index enforces it.
type Favorite struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    int64     `json:"userId" gorm:"not null;index;uniqueIndex:idx_favorites_user_track,priority:1"`
	TrackID   string    `json:"trackId" gorm:"size:36;not null;index;uniqueIndex:idx_favorites_user_track,priority:2"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Favorite) TableName() string {
	return "favorites"
}

// PlayHistory records that a user started playback of a track. Rows are never
// updated; they go away only with the track.
type PlayHistory struct {
	ID       int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID   int64     `json:"userId" gorm:"not null;index:idx_play_history_user_recent,priority:1"`
	TrackID  string    `json:"trackId" gorm:"size:36;not null;index"`
	PlayedAt time.Time `json:"playedAt" gorm:"not null;index:idx_play_history_user_recent,priority:2"`
}

// TableName 指定表名
func (PlayHistory) TableName() string {
	return "play_history"
}
