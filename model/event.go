package model

import "time"

// ChangeEventType names a committed library mutation.
type ChangeEventType string

const (
	EventTrackCreated    ChangeEventType = "track.created"
	EventTrackUpdated    ChangeEventType = "track.updated"
	EventTrackDeleted    ChangeEventType = "track.deleted"
	EventFavoriteToggled ChangeEventType = "favorite.toggled"
	EventPlayRecorded    ChangeEventType = "play.recorded"
)

// ChangeEvent is pushed to the owner's live connections after a mutation
// commits. Clients re-query the affected views when they receive one.
type ChangeEvent struct {
	Type      ChangeEventType `json:"type"`
	TrackID   string          `json:"trackId"`
	Status    TrackStatus     `json:"status,omitempty"`
	Favorite  *bool           `json:"favorite,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix millis
}

// NewChangeEvent stamps an event with the current time.
func NewChangeEvent(t ChangeEventType, trackID string) ChangeEvent {
	return ChangeEvent{Type: t, TrackID: trackID, Timestamp: time.Now().UnixMilli()}
}

// GenerationReport is the operator-facing record of one orchestrator run.
type GenerationReport struct {
	TrackID        string      `json:"trackId"`
	UserID         int64       `json:"userId"`
	Genre          Genre       `json:"genre"`
	Mode           string      `json:"mode"` // provider or demo
	EnrichedPrompt string      `json:"enrichedPrompt"`
	Status         TrackStatus `json:"status"`
	AudioURL       string      `json:"audioUrl,omitempty"`
	ImageURL       string      `json:"imageUrl,omitempty"`
	ProviderJobID  string      `json:"providerJobId,omitempty"`
	Duration       *float64    `json:"duration,omitempty"`
	Error          string      `json:"error,omitempty"`
	StartedAt      time.Time   `json:"startedAt"`
	FinishedAt     time.Time   `json:"finishedAt"`
}
