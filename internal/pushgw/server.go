package pushgw

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// LicenseStore is the license database. Implemented by the PostgreSQL store
// in pgstore.
type LicenseStore interface {
	// ValidateLicense returns the license for key, or nil if the key is
	// unknown or expired.
	ValidateLicense(key string) (*License, error)

	// ActivateLicense registers an installation and returns it with its
	// assigned instance_id, or nil if the key is invalid.
	ActivateLicense(key string, hostname string, version string) (*Installation, error)

	// GetLicenseStatus returns license details plus installation count.
	GetLicenseStatus(key string) (*LicenseStatus, error)
}

// PushSender delivers a wake-up to a device token. platform is one of
// android, ios or web.
type PushSender interface {
	Send(platform, token string, payload PushPayload) error
}

// PushLogger records delivery attempts.
type PushLogger interface {
	Log(entry PushLogEntry) error
}

// Server is the push gateway HTTP handler.
type Server struct {
	router      *chi.Mux
	store       LicenseStore
	sender      PushSender
	pushLog     PushLogger
	rateLimiter *RateLimiter
}

// NewServer mounts all gateway routes. rateLimiter may be nil to disable
// per-license limiting on the push endpoint.
func NewServer(store LicenseStore, sender PushSender, pushLog PushLogger, rateLimiter *RateLimiter) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		store:       store,
		sender:      sender,
		pushLog:     pushLog,
		rateLimiter: rateLimiter,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the chi.Mux so the caller can add middleware.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Route("/v1", func(r chi.Router) {
		if s.rateLimiter != nil {
			r.With(s.rateLimiter.Middleware).Post("/push", s.handlePush)
		} else {
			r.Post("/push", s.handlePush)
		}
		r.Post("/license/validate", s.handleLicenseValidate)
		r.Post("/license/activate", s.handleLicenseActivate)
		r.Get("/license/status", s.handleLicenseStatus)
	})
}

// validatePushRequest checks required fields. Returns "" when valid.
// call_id may be empty even for incoming_call: a wake-up for an offline
// callee is sent before any call session exists, so there is no id yet.
func validatePushRequest(req PushRequest) string {
	switch {
	case req.LicenseKey == "":
		return "license_key is required"
	case req.PushToken == "":
		return "push_token is required"
	case req.PushPlatform != "android" && req.PushPlatform != "ios" && req.PushPlatform != "web":
		return "push_platform must be android, ios or web"
	case req.Kind != KindIncomingCall && req.Kind != KindMessage:
		return "kind must be incoming_call or message"
	}
	return ""
}

// handlePush validates the license and relays the wake-up to the platform
// sender, logging the attempt either way.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "push service not configured")
		return
	}

	var req PushRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validatePushRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	license, err := s.store.ValidateLicense(req.LicenseKey)
	if err != nil {
		slog.Error("push: license validation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if license == nil {
		writeError(w, http.StatusForbidden, "invalid or expired license key")
		return
	}

	sendErr := s.sender.Send(req.PushPlatform, req.PushToken, PushPayload{
		Kind:     req.Kind,
		FromName: req.FromName,
		CallID:   req.CallID,
	})

	if s.pushLog != nil {
		entry := PushLogEntry{
			LicenseKey: req.LicenseKey,
			Platform:   req.PushPlatform,
			Kind:       req.Kind,
			CallID:     req.CallID,
			Success:    sendErr == nil,
			Timestamp:  time.Now(),
		}
		if sendErr != nil {
			entry.Error = sendErr.Error()
		}
		if logErr := s.pushLog.Log(entry); logErr != nil {
			slog.Error("push: failed to write push log", "error", logErr)
		}
	}

	if sendErr != nil {
		slog.Error("push: delivery failed", "error", sendErr, "platform", req.PushPlatform, "kind", req.Kind)
		writeError(w, http.StatusBadGateway, "push delivery failed")
		return
	}

	slog.Info("push: notification sent", "platform", req.PushPlatform, "kind", req.Kind, "license_key_prefix", truncateKey(req.LicenseKey))

	writeJSON(w, http.StatusOK, PushResponse{Delivered: true})
}

func (s *Server) handleLicenseValidate(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "license service not configured")
		return
	}

	var req LicenseValidateRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.LicenseKey == "" {
		writeError(w, http.StatusBadRequest, "license_key is required")
		return
	}

	license, err := s.store.ValidateLicense(req.LicenseKey)
	if err != nil {
		slog.Error("license validate: store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if license == nil {
		writeError(w, http.StatusNotFound, "license key not found or expired")
		return
	}

	writeJSON(w, http.StatusOK, LicenseValidateResponse{
		Valid:     true,
		Tier:      license.Tier,
		MaxUsers:  license.MaxUsers,
		ExpiresAt: license.ExpiresAt,
	})
}

func (s *Server) handleLicenseActivate(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "license service not configured")
		return
	}

	var req LicenseActivateRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.LicenseKey == "" {
		writeError(w, http.StatusBadRequest, "license_key is required")
		return
	}
	if req.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}

	inst, err := s.store.ActivateLicense(req.LicenseKey, req.Hostname, req.Version)
	if err != nil {
		slog.Error("license activate: store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if inst == nil {
		writeError(w, http.StatusForbidden, "license key not found or expired")
		return
	}

	slog.Info("license activated", "instance_id", inst.InstanceID, "license_key_prefix", truncateKey(req.LicenseKey))

	writeJSON(w, http.StatusOK, LicenseActivateResponse{
		InstanceID:  inst.InstanceID,
		ActivatedAt: inst.ActivatedAt,
	})
}

// handleLicenseStatus reads the key from the X-License-Key header or the
// license_key query parameter.
func (s *Server) handleLicenseStatus(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "license service not configured")
		return
	}

	key := r.Header.Get("X-License-Key")
	if key == "" {
		key = r.URL.Query().Get("license_key")
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "license key is required (X-License-Key header or license_key query param)")
		return
	}

	status, err := s.store.GetLicenseStatus(key)
	if err != nil {
		slog.Error("license status: store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "license key not found")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// truncateKey keeps the first 8 characters of a license key for logging.
func truncateKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}

// envelope mirrors the main API response wrapper: { "data": ..., "error": ... }.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// maxRequestBodySize caps JSON request bodies at 1 MB.
const maxRequestBodySize = 1 << 20

// readJSON decodes a JSON body into dst. Returns "" on success.
func readJSON(r *http.Request, dst any) string {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return "invalid request body"
	}
	if dec.More() {
		return "request body must contain a single json object"
	}
	return ""
}
