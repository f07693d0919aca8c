package server

import (
	"context"
	"net/http"

	"CalmFM/config"
	"CalmFM/core/auth"
	"CalmFM/core/feed"
	"CalmFM/core/generation"
	"CalmFM/core/library"
	"CalmFM/metrics"
	"CalmFM/model"
	"CalmFM/repository"

	"github.com/gorilla/mux"
)

// Dispatcher starts a generation run that outlives the request.
type Dispatcher interface {
	Dispatch(req generation.Request)
}

// ReportStore reads and removes generation reports.
type ReportStore interface {
	GetReport(ctx context.Context, trackID string) (*model.GenerationReport, error)
	DeleteReport(ctx context.Context, trackID string) error
}

// Dependencies are the collaborators of the HTTP API. Reports may be nil.
type Dependencies struct {
	Config    *config.Config
	Users     repository.UserRepository
	Library   *library.Service
	Generator Dispatcher
	Hub       *feed.Hub
	Tokens    *auth.TokenManager
	Reports   ReportStore
}

// APIHandler 处理所有 API 请求
type APIHandler struct {
	cfg       *config.Config
	users     repository.UserRepository
	library   *library.Service
	generator Dispatcher
	hub       *feed.Hub
	tokens    *auth.TokenManager
	reports   ReportStore
}

// NewAPIHandler creates the handler set.
func NewAPIHandler(deps Dependencies) *APIHandler {
	return &APIHandler{
		cfg:       deps.Config,
		users:     deps.Users,
		library:   deps.Library,
		generator: deps.Generator,
		hub:       deps.Hub,
		tokens:    deps.Tokens,
		reports:   deps.Reports,
	}
}

// NewRouter builds the full route table.
func NewRouter(deps Dependencies) http.Handler {
	h := NewAPIHandler(deps)

	router := mux.NewRouter()
	router.Use(corsMiddleware(deps.Config.CORSOrigin))
	router.Use(metrics.Middleware)
	router.Use(loggingMiddleware)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.IdentityMiddleware)

	// 认证
	api.HandleFunc("/auth/register", h.RegisterHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/login", h.LoginHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/guest", h.GuestHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/me", h.MeHandler).Methods(http.MethodGet)

	// 曲目; fixed paths go before {id}
	api.HandleFunc("/tracks", h.ListTracksHandler).Methods(http.MethodGet)
	api.HandleFunc("/tracks", h.CreateTrackHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/tracks/ready", h.ListReadyHandler).Methods(http.MethodGet)
	api.HandleFunc("/tracks/recent", h.ListRecentHandler).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}", h.GetTrackHandler).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}", h.DeleteTrackHandler).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/tracks/{id}/plays", h.RecordPlayHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/tracks/{id}/report", h.GetReportHandler).Methods(http.MethodGet)

	// 收藏
	api.HandleFunc("/favorites", h.ListFavoritesHandler).Methods(http.MethodGet)
	api.HandleFunc("/favorites/{trackId}", h.IsFavoriteHandler).Methods(http.MethodGet)
	api.HandleFunc("/favorites/{trackId}/toggle", h.ToggleFavoriteHandler).Methods(http.MethodPost, http.MethodOptions)

	router.HandleFunc("/ws/feed", h.FeedHandler)

	return router
}

// HealthHandler answers liveness checks.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
