package server

import (
	"errors"
	"net/http"
	"strings"

	"CalmFM/core/auth"
	"CalmFM/logger"
	"CalmFM/model"
	"CalmFM/repository"

	"github.com/google/uuid"
)

const minPasswordLength = 6

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by every endpoint that issues a token.
type AuthResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// RegisterHandler creates an account with email and password.
func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(email, "@") {
		writeMessage(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeMessage(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = email[:strings.Index(email, "@")]
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user := &model.User{Username: username, Email: &email, PasswordHash: hash}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			writeMessage(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, r, err)
		return
	}

	logger.Info("user registered", logger.UserID(user.ID), logger.String("username", user.Username))
	h.issueToken(w, r, http.StatusCreated, user)
}

// LoginHandler handles user login requests
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil || user.IsGuest || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Warn("login rejected", logger.String("email", req.Email))
		writeMessage(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	h.issueToken(w, r, http.StatusOK, user)
}

// GuestHandler creates an anonymous account so the app is usable without
// signing up.
func (h *APIHandler) GuestHandler(w http.ResponseWriter, r *http.Request) {
	user := &model.User{
		Username: "guest-" + uuid.New().String()[:8],
		IsGuest:  true,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info("guest session created", logger.UserID(user.ID))
	h.issueToken(w, r, http.StatusCreated, user)
}

// MeHandler returns the caller's account.
func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeMessage(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) issueToken(w http.ResponseWriter, r *http.Request, status int, user *model.User) {
	token, err := h.tokens.Generate(user.ID, user.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, AuthResponse{Token: token, User: user})
}
