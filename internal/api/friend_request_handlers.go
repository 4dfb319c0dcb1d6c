package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatflow/chatflow/internal/api/middleware"
	"github.com/chatflow/chatflow/internal/database/models"
)

// friendRequestCreateRequest asks to befriend another user by username.
type friendRequestCreateRequest struct {
	Username string `json:"username"`
}

// friendRequestResponse is the JSON response for a single friend request.
type friendRequestResponse struct {
	ID         int64  `json:"id"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

func toFriendRequestResponse(req *models.FriendRequest) friendRequestResponse {
	return friendRequestResponse{
		ID:         req.ID,
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Status:     req.Status,
		CreatedAt:  req.CreatedAt.Format(time.RFC3339),
	}
}

// handleListFriendRequests returns the caller's pending requests, both
// directions.
func (s *Server) handleListFriendRequests(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	incoming, err := s.friendRequests.ListIncoming(r.Context(), authUser.ID)
	if err != nil {
		slog.Error("list friend requests: failed to query incoming", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	outgoing, err := s.friendRequests.ListOutgoing(r.Context(), authUser.ID)
	if err != nil {
		slog.Error("list friend requests: failed to query outgoing", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	in := make([]friendRequestResponse, len(incoming))
	for i := range incoming {
		in[i] = toFriendRequestResponse(&incoming[i])
	}
	out := make([]friendRequestResponse, len(outgoing))
	for i := range outgoing {
		out[i] = toFriendRequestResponse(&outgoing[i])
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"incoming": in,
		"outgoing": out,
	})
}

// handleCreateFriendRequest sends a friend request to another user.
func (s *Server) handleCreateFriendRequest(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	var req friendRequestCreateRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	target, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("create friend request: failed to query user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if target.ID == authUser.ID {
		writeError(w, http.StatusBadRequest, "cannot befriend yourself")
		return
	}

	already, err := s.contacts.AreContacts(r.Context(), authUser.ID, target.ID)
	if err != nil {
		slog.Error("create friend request: failed to check contacts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if already {
		writeError(w, http.StatusConflict, "already contacts")
		return
	}

	// One pending request per direction.
	if pending, err := s.friendRequests.GetPendingBetween(r.Context(), authUser.ID, target.ID); err != nil {
		slog.Error("create friend request: failed to check pending", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if pending != nil {
		writeError(w, http.StatusConflict, "request already pending")
		return
	}

	// If the target already invited the caller, accept that instead of
	// stacking a mirror request.
	if reverse, err := s.friendRequests.GetPendingBetween(r.Context(), target.ID, authUser.ID); err != nil {
		slog.Error("create friend request: failed to check reverse", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if reverse != nil {
		if err := s.acceptRequest(r, reverse); err != nil {
			slog.Error("create friend request: failed to accept reverse", "error", err, "request_id", reverse.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		accepted, _ := s.friendRequests.GetByID(r.Context(), reverse.ID)
		if accepted == nil {
			accepted = reverse
		}
		writeJSON(w, http.StatusOK, toFriendRequestResponse(accepted))
		return
	}

	fr := &models.FriendRequest{FromUserID: authUser.ID, ToUserID: target.ID}
	if err := s.friendRequests.Create(r.Context(), fr); err != nil {
		slog.Error("create friend request: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("friend request created", "request_id", fr.ID, "from", authUser.ID, "to", target.ID)

	writeJSON(w, http.StatusCreated, toFriendRequestResponse(fr))
}

// handleAcceptFriendRequest accepts an incoming request and creates the
// mutual contact relationship.
func (s *Server) handleAcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	fr, ok := s.pendingRequestForCallee(w, r, authUser.ID)
	if !ok {
		return
	}

	if err := s.acceptRequest(r, fr); err != nil {
		slog.Error("accept friend request: failed", "error", err, "request_id", fr.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("friend request accepted", "request_id", fr.ID, "from", fr.FromUserID, "to", fr.ToUserID)

	w.WriteHeader(http.StatusNoContent)
}

// acceptRequest resolves a pending request and adds both contact rows.
func (s *Server) acceptRequest(r *http.Request, fr *models.FriendRequest) error {
	if err := s.friendRequests.UpdateStatus(r.Context(), fr.ID, models.FriendRequestAccepted); err != nil {
		return err
	}
	return s.contacts.AddMutual(r.Context(), fr.FromUserID, fr.ToUserID)
}

// handleRejectFriendRequest declines an incoming request.
func (s *Server) handleRejectFriendRequest(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	fr, ok := s.pendingRequestForCallee(w, r, authUser.ID)
	if !ok {
		return
	}

	if err := s.friendRequests.UpdateStatus(r.Context(), fr.ID, models.FriendRequestRejected); err != nil {
		slog.Error("reject friend request: failed to update", "error", err, "request_id", fr.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("friend request rejected", "request_id", fr.ID)

	w.WriteHeader(http.StatusNoContent)
}

// pendingRequestForCallee loads the request in the URL and verifies the
// caller is its addressee and it is still pending. Writes the error
// response itself and returns ok=false on failure.
func (s *Server) pendingRequestForCallee(w http.ResponseWriter, r *http.Request, userID string) (*models.FriendRequest, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return nil, false
	}

	fr, err := s.friendRequests.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("friend request lookup failed", "error", err, "request_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if fr == nil {
		writeError(w, http.StatusNotFound, "friend request not found")
		return nil, false
	}
	if fr.ToUserID != userID {
		// Do not leak other users' request IDs.
		writeError(w, http.StatusNotFound, "friend request not found")
		return nil, false
	}
	if fr.Status != models.FriendRequestPending {
		writeError(w, http.StatusConflict, "friend request already resolved")
		return nil, false
	}
	return fr, true
}
