package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

type favoriteResponse struct {
	Favorite bool `json:"favorite"`
}

// ToggleFavoriteHandler flips the favorite state of a track and returns the
// new state.
func (h *APIHandler) ToggleFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	favorite, err := h.library.ToggleFavorite(r.Context(), UserIDFromContext(r.Context()), mux.Vars(r)["trackId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{Favorite: favorite})
}

func (h *APIHandler) IsFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	favorite, err := h.library.IsFavorite(r.Context(), UserIDFromContext(r.Context()), mux.Vars(r)["trackId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{Favorite: favorite})
}

// ListFavoritesHandler lists the caller's favorite ready tracks.
func (h *APIHandler) ListFavoritesHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.library.ListFavorites(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}
