package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"CalmFM/core/generation"
	"CalmFM/core/library"
	"CalmFM/logger"
	"CalmFM/model"
	"CalmFM/storage"

	"github.com/gorilla/mux"
)

type createTrackResponse struct {
	ID string `json:"id"`
}

// CreateTrackHandler stores a pending track and starts its generation. The
// response returns before the generation finishes.
func (h *APIHandler) CreateTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID <= 0 {
		writeError(w, r, library.ErrUnauthenticated)
		return
	}

	var in library.CreateTrackInput
	if err := decodeJSON(r, &in); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	track, err := h.library.CreateTrack(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.generator.Dispatch(generation.Request{
		UserID:  userID,
		TrackID: track.ID,
		Prompt:  track.Prompt,
		Genre:   track.Genre,
	})
	writeJSON(w, http.StatusCreated, createTrackResponse{ID: track.ID})
}

// ListTracksHandler lists every track of the caller, optionally by ?genre=.
func (h *APIHandler) ListTracksHandler(w http.ResponseWriter, r *http.Request) {
	genre := model.Genre(r.URL.Query().Get("genre"))
	tracks, err := h.library.ListTracks(r.Context(), UserIDFromContext(r.Context()), genre)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// ListReadyHandler lists the caller's playable tracks.
func (h *APIHandler) ListReadyHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.library.ListReady(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// ListRecentHandler lists the caller's recently played tracks.
func (h *APIHandler) ListRecentHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.library.ListRecentlyPlayed(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// GetTrackHandler returns one track of the caller.
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	track, err := h.library.GetTrack(r.Context(), UserIDFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if track == nil {
		writeError(w, r, library.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// DeleteTrackHandler deletes a track with its favorites and play history.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["id"]
	if err := h.library.DeleteTrack(r.Context(), UserIDFromContext(r.Context()), trackID); err != nil {
		writeError(w, r, err)
		return
	}

	if h.reports != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if err := h.reports.DeleteReport(ctx, trackID); err != nil {
			logger.Warn("failed to delete generation report", logger.TrackID(trackID), logger.ErrorField(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordPlayHandler records that the caller played a track.
func (h *APIHandler) RecordPlayHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.library.RecordPlay(r.Context(), UserIDFromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetReportHandler returns the generation report of one of the caller's
// tracks.
func (h *APIHandler) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["id"]
	track, err := h.library.GetTrack(r.Context(), UserIDFromContext(r.Context()), trackID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if track == nil || h.reports == nil {
		writeError(w, r, library.ErrNotFound)
		return
	}

	report, err := h.reports.GetReport(r.Context(), trackID)
	if errors.Is(err, storage.ErrReportNotFound) {
		writeMessage(w, http.StatusNotFound, "no report for this track")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
