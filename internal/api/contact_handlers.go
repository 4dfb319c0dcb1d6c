package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatflow/chatflow/internal/api/middleware"
)

// contactResponse is a contact entry hydrated with the peer's profile.
type contactResponse struct {
	User    userResponse `json:"user"`
	Blocked bool         `json:"blocked"`
	Online  bool         `json:"online"`
}

// handleListContacts returns the caller's contacts with profile and
// presence hydration.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	contacts, err := s.contacts.List(r.Context(), authUser.ID)
	if err != nil {
		slog.Error("list contacts: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		user, err := s.users.GetByID(r.Context(), c.ContactID)
		if err != nil {
			slog.Error("list contacts: failed to load user", "error", err, "user_id", c.ContactID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil {
			continue
		}
		resp = append(resp, contactResponse{
			User:    toUserResponse(user, false),
			Blocked: c.Blocked,
			Online:  s.presence.IsOnline(user.ID),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleRemoveContact removes both directions of the relationship.
func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())
	otherID := chi.URLParam(r, "userID")

	if err := s.contacts.RemoveMutual(r.Context(), authUser.ID, otherID); err != nil {
		slog.Error("remove contact: failed", "error", err, "contact_id", otherID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("contact removed", "user_id", authUser.ID, "contact_id", otherID)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlockContact(w http.ResponseWriter, r *http.Request) {
	s.setContactBlocked(w, r, true)
}

func (s *Server) handleUnblockContact(w http.ResponseWriter, r *http.Request) {
	s.setContactBlocked(w, r, false)
}

// setContactBlocked flips the caller's own direction only; the peer keeps
// their unblocked view.
func (s *Server) setContactBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	authUser := middleware.UserFromContext(r.Context())
	otherID := chi.URLParam(r, "userID")

	if err := s.contacts.SetBlocked(r.Context(), authUser.ID, otherID, blocked); err != nil {
		slog.Error("block contact: failed to update", "error", err, "contact_id", otherID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("contact block updated", "user_id", authUser.ID, "contact_id", otherID, "blocked", blocked)

	w.WriteHeader(http.StatusNoContent)
}
