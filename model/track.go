package model

import (
	"time"

	"github.com/google/uuid"
)

// Genre steers prompt enrichment and the demo asset choice.
type Genre string

const (
	GenreJazz      Genre = "jazz"
	GenreAmbient   Genre = "ambient"
	GenreLofi      Genre = "lofi"
	GenreClassical Genre = "classical"
)

// Valid reports whether g belongs to the fixed enumeration.
func (g Genre) Valid() bool {
	switch g {
	case GenreJazz, GenreAmbient, GenreLofi, GenreClassical:
		return true
	}
	return false
}

// TrackStatus is the generation lifecycle state.
type TrackStatus string

const (
	TrackStatusPending    TrackStatus = "pending"
	TrackStatusGenerating TrackStatus = "generating"
	TrackStatusReady      TrackStatus = "ready"
	TrackStatusFailed     TrackStatus = "failed"
)

// Terminal reports whether no further automated transition leaves s.
func (s TrackStatus) Terminal() bool {
	return s == TrackStatusReady || s == TrackStatusFailed
}

// Track is a user's music generation request and, once ready, its assets.
// Asset fields stay nil until the track reaches ready.
type Track struct {
	ID            string      `json:"id" gorm:"primaryKey;size:36"`
	UserID        int64       `json:"userId" gorm:"not null;index;index:idx_tracks_user_status,priority:1"`
	Title         string      `json:"title" gorm:"size:200;not null"`
	Prompt        string      `json:"prompt" gorm:"type:text;not null"`
	Genre         Genre       `json:"genre" gorm:"size:20;not null"`
	Status        TrackStatus `json:"status" gorm:"size:20;not null;index;index:idx_tracks_user_status,priority:2"`
	AudioURL      *string     `json:"audioUrl,omitempty" gorm:"size:1024"`
	ImageURL      *string     `json:"imageUrl,omitempty" gorm:"size:1024"`
	ProviderJobID *string     `json:"providerJobId,omitempty" gorm:"size:128"`
	Duration      *float64    `json:"duration,omitempty"` // seconds
	CreatedAt     time.Time   `json:"createdAt" gorm:"index"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// NewTrack builds a pending track owned by userID.
func NewTrack(userID int64, title, prompt string, genre Genre, now time.Time) *Track {
	return &Track{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Prompt:    prompt,
		Genre:     genre,
		Status:    TrackStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TrackPatch is a partial update of a track. Nil fields are left untouched,
// they are never written as NULL.
type TrackPatch struct {
	Status        TrackStatus
	AudioURL      *string
	ImageURL      *string
	ProviderJobID *string
	Duration      *float64
}

// Columns returns the column -> value map of the fields present in the patch.
func (p TrackPatch) Columns(now time.Time) map[string]interface{} {
	cols := map[string]interface{}{
		"status":     p.Status,
		"updated_at": now,
	}
	if p.AudioURL != nil {
		cols["audio_url"] = *p.AudioURL
	}
	if p.ImageURL != nil {
		cols["image_url"] = *p.ImageURL
	}
	if p.ProviderJobID != nil {
		cols["provider_job_id"] = *p.ProviderJobID
	}
	if p.Duration != nil {
		cols["duration"] = *p.Duration
	}
	return cols
}
