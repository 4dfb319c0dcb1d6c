package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatflow/chatflow/internal/api/middleware"
	"github.com/chatflow/chatflow/internal/database/models"
)

const maxAttachmentBytes = 25 << 20

type attachmentCreateRequest struct {
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

type attachmentResponse struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
}

func toAttachmentResponse(att *models.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:        att.ID,
		OwnerID:   att.OwnerID,
		FileName:  att.FileName,
		MimeType:  att.MimeType,
		SizeBytes: att.SizeBytes,
		CreatedAt: att.CreatedAt.Format(time.RFC3339),
	}
}

// handleCreateAttachment records attachment metadata ahead of a message
// referencing it. The upload itself happens out of band.
func (s *Server) handleCreateAttachment(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	var req attachmentCreateRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if msg := validateRequiredStringLen("file_name", req.FileName, 255); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateRequiredStringLen("mime_type", req.MimeType, 127); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.SizeBytes < 0 || req.SizeBytes > maxAttachmentBytes {
		writeError(w, http.StatusBadRequest, "size_bytes out of range")
		return
	}

	att := &models.Attachment{
		ID:        uuid.NewString(),
		OwnerID:   authUser.ID,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
		SizeBytes: req.SizeBytes,
	}
	if err := s.attachments.Create(r.Context(), att); err != nil {
		slog.Error("create attachment: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.attachments.GetByID(r.Context(), att.ID)
	if err != nil || created == nil {
		slog.Error("create attachment: failed to reload", "error", err, "attachment_id", att.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toAttachmentResponse(created))
}

// handleGetAttachment returns metadata for one attachment. Only the owner
// and their contacts may see it.
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	att, err := s.attachments.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get attachment: failed to query", "error", err, "attachment_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if att == nil {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}

	if att.OwnerID != authUser.ID {
		ok, err := s.contacts.AreContacts(r.Context(), authUser.ID, att.OwnerID)
		if err != nil {
			slog.Error("get attachment: failed to check contacts", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "attachment not found")
			return
		}
	}

	writeJSON(w, http.StatusOK, toAttachmentResponse(att))
}
