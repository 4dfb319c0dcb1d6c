package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatflow/chatflow/internal/api/middleware"
	"github.com/chatflow/chatflow/internal/database/models"
)

var validPlatforms = map[string]bool{
	"android": true,
	"ios":     true,
	"web":     true,
}

type pushTokenRequest struct {
	Token      string `json:"token"`
	Platform   string `json:"platform"`
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version"`
}

// handleRegisterPushToken upserts a device registration so offline call
// and message notifications can reach it.
func (s *Server) handleRegisterPushToken(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	var req pushTokenRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if msg := validateRequiredStringLen("token", req.Token, 4096); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateRequiredStringLen("device_id", req.DeviceID, 255); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if !validPlatforms[req.Platform] {
		writeError(w, http.StatusBadRequest, "platform must be android, ios, or web")
		return
	}
	if msg := validateStringLen("app_version", req.AppVersion, 63); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	token := &models.PushToken{
		UserID:     authUser.ID,
		Token:      req.Token,
		Platform:   req.Platform,
		DeviceID:   req.DeviceID,
		AppVersion: req.AppVersion,
	}
	if err := s.pushTokens.Upsert(r.Context(), token); err != nil {
		slog.Error("register push token: failed to upsert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("push token registered", "user_id", authUser.ID, "platform", req.Platform, "device_id", req.DeviceID)

	w.WriteHeader(http.StatusNoContent)
}

// handleDeletePushToken drops the registration for one device, typically
// on logout.
func (s *Server) handleDeletePushToken(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	if err := s.pushTokens.DeleteByUserAndDevice(r.Context(), authUser.ID, deviceID); err != nil {
		slog.Error("delete push token: failed", "error", err, "device_id", deviceID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
