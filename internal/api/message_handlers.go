package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatflow/chatflow/internal/api/middleware"
	"github.com/chatflow/chatflow/internal/database"
	"github.com/chatflow/chatflow/internal/database/models"
)

const (
	historyDefaultLimit = 50
	historyMaxLimit     = 200
)

// messageResponse is the JSON shape of a persisted chat message.
type messageResponse struct {
	ID           string  `json:"id"`
	SenderID     string  `json:"sender_id"`
	RecipientID  string  `json:"recipient_id"`
	Body         string  `json:"body"`
	AttachmentID *string `json:"attachment_id,omitempty"`
	ReadAt       *string `json:"read_at,omitempty"`
	SentAt       string  `json:"sent_at"`
}

func toMessageResponse(m *models.Message) messageResponse {
	resp := messageResponse{
		ID:           m.ID,
		SenderID:     m.SenderID,
		RecipientID:  m.RecipientID,
		Body:         m.Body,
		AttachmentID: m.AttachmentID,
		SentAt:       m.SentAt.Format(time.RFC3339),
	}
	if m.ReadAt != nil {
		read := m.ReadAt.Format(time.RFC3339)
		resp.ReadAt = &read
	}
	return resp
}

// handleMessageHistory returns the conversation with a peer, newest first.
// Pagination uses ?limit and ?before (a message ID to page past).
func (s *Server) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())
	peerID := chi.URLParam(r, "userID")

	filter := database.MessageHistoryFilter{
		Limit:    historyDefaultLimit,
		BeforeID: r.URL.Query().Get("before"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n > historyMaxLimit {
			n = historyMaxLimit
		}
		filter.Limit = n
	}

	msgs, err := s.messages.History(r.Context(), authUser.ID, peerID, filter)
	if err != nil {
		slog.Error("message history: failed to query", "error", err, "peer_id", peerID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]messageResponse, len(msgs))
	for i := range msgs {
		resp[i] = toMessageResponse(&msgs[i])
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleMarkRead marks every unread message from the peer as read.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())
	peerID := chi.URLParam(r, "userID")

	n, err := s.messages.MarkConversationRead(r.Context(), authUser.ID, peerID)
	if err != nil {
		slog.Error("mark read: failed", "error", err, "peer_id", peerID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

// handleUnreadCount returns the caller's total unread message count across
// all conversations. The web client polls this for the badge.
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	n, err := s.messages.CountUnread(r.Context(), authUser.ID)
	if err != nil {
		slog.Error("unread count: failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"unread": n})
}
