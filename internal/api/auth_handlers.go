package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chatflow/chatflow/internal/api/middleware"
	"github.com/chatflow/chatflow/internal/database"
	"github.com/chatflow/chatflow/internal/database/models"
)

// registerRequest is the JSON request body for account registration.
type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// loginRequest is the JSON request body for login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authResponse carries the signed token and the authenticated user.
type authResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	User      userResponse `json:"user"`
}

// userResponse is the public view of a user. The password hash is never
// returned.
type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// toUserResponse converts a models.User to the API response. includeEmail
// controls whether the email is exposed; only the account owner sees it.
func toUserResponse(u *models.User, includeEmail bool) userResponse {
	resp := userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
	}
	if includeEmail {
		resp.Email = u.Email
	}
	return resp
}

// handleRegister creates a new account and returns a login token.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Email = strings.TrimSpace(req.Email)
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	if errMsg := validateRegisterRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if existing, err := s.users.GetByUsername(r.Context(), req.Username); err != nil {
		slog.Error("register: failed to check username", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if existing, err := s.users.GetByEmail(r.Context(), req.Email); err != nil {
		slog.Error("register: failed to check email", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	hash, err := database.HashPassword(req.Password)
	if err != nil {
		slog.Error("register: failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &models.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		slog.Error("register: failed to insert user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Re-fetch to get timestamps populated by the database.
	created, err := s.users.GetByID(r.Context(), user.ID)
	if err != nil || created == nil {
		slog.Error("register: failed to re-fetch user", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, expiresAt, err := middleware.GenerateToken(s.jwtSecret, created.ID, created.Username, created.DisplayName)
	if err != nil {
		slog.Error("register: failed to sign token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user registered", "user_id", created.ID, "username", created.Username)

	writeJSON(w, http.StatusCreated, authResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User:      toUserResponse(created, true),
	})
}

// handleLogin verifies credentials and returns a signed token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("login: failed to query user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	ok, err := database.CheckPassword(req.Password, user.PasswordHash)
	if err != nil {
		slog.Error("login: failed to verify password", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		slog.Warn("login: wrong password", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, expiresAt, err := middleware.GenerateToken(s.jwtSecret, user.ID, user.Username, user.DisplayName)
	if err != nil {
		slog.Error("login: failed to sign token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user logged in", "user_id", user.ID, "username", user.Username)

	writeJSON(w, http.StatusOK, authResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User:      toUserResponse(user, true),
	})
}

// handleMe returns the authenticated user's own profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	authUser := middleware.UserFromContext(r.Context())

	user, err := s.users.GetByID(r.Context(), authUser.ID)
	if err != nil {
		slog.Error("me: failed to query user", "error", err, "user_id", authUser.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "account no longer exists")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user, true))
}

// validateRegisterRequest checks required fields for account registration.
func validateRegisterRequest(req registerRequest) string {
	if errMsg := validateUsername("username", req.Username); errMsg != "" {
		return errMsg
	}
	if errMsg := validateEmail("email", req.Email); errMsg != "" {
		return errMsg
	}
	if errMsg := validatePassword("password", req.Password); errMsg != "" {
		return errMsg
	}
	if errMsg := validateRequiredStringLen("display_name", req.DisplayName, maxDisplayNameLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateNoControlChars("display_name", req.DisplayName); errMsg != "" {
		return errMsg
	}
	return ""
}
