package server

import (
	"net/http"

	"CalmFM/core/feed"
	"CalmFM/logger"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FeedHandler upgrades to a websocket that streams the caller's change
// events. The token comes from ?token= since browsers cannot set headers on
// upgrade requests.
func (h *APIHandler) FeedHandler(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}
	claims, err := h.tokens.Parse(token)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("feed upgrade failed", logger.UserID(claims.UserID), logger.ErrorField(err))
		return
	}

	client := feed.NewClient(h.hub, conn, claims.UserID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
