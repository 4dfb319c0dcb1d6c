package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/chatflow/chatflow/internal/api/middleware"
)

// handleSearchUsers finds users by username or display name.
func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter is required")
		return
	}
	if errMsg := validateStringLen("q", query, maxDisplayNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	users, err := s.users.Search(r.Context(), query, authUser.ID, pg.Limit)
	if err != nil {
		slog.Error("search users: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]userResponse, len(users))
	for i := range users {
		items[i] = toUserResponse(&users[i], false)
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  len(items),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleOnlineUsers returns the IDs of currently connected users. The
// realtime layer also pushes presence events; this endpoint serves initial
// page loads before the websocket is up.
func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	online := s.presence.Online()
	if online == nil {
		online = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": online})
}
