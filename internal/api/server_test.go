package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/chatflow/chatflow/internal/api/middleware"
	"github.com/chatflow/chatflow/internal/config"
	"github.com/chatflow/chatflow/internal/database"
	"github.com/chatflow/chatflow/internal/signal"
)

// testJWTSecret is a fixed key so tokens are verifiable across helpers.
const testJWTSecret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		DataDir:     t.TempDir(),
		HTTPPort:    8080,
		LogLevel:    "error",
		LogFormat:   "text",
		JWTSecret:   testJWTSecret,
		RingTimeout: 1,
	}

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	contacts := database.NewContactRepository(db)

	presence := signal.NewPresence(logger)
	table := signal.NewSessionTable()
	coordinator := signal.NewCoordinator(presence, table, contacts, cfg.RingTimeoutDuration(), logger)

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("decoding jwt secret: %v", err)
	}
	hub := signal.NewHub(presence, coordinator, nil, contacts, nil,
		middleware.WebSocketIdentity(jwtSecret), true, logger)

	srv, err := NewServer(cfg, db, hub, presence, nil)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

// doRequest sends a JSON request and decodes the response envelope. The data
// payload is returned raw so callers can decode into their own shape.
func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, json.RawMessage, string) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, ts.URL+path, reqBody)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil, ""
	}

	var env struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decoding response: %v", method, path, err)
	}
	return resp.StatusCode, env.Data, env.Error
}

// registerUser creates an account and returns the token and user ID.
func registerUser(t *testing.T, ts *httptest.Server, username string) (token, userID string) {
	t.Helper()

	status, data, errMsg := doRequest(t, ts, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse battery",
	})
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d, error %q", username, status, errMsg)
	}

	var auth struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(data, &auth); err != nil {
		t.Fatalf("decoding auth response: %v", err)
	}
	if auth.Token == "" || auth.User.ID == "" {
		t.Fatalf("register %s: missing token or user id in %s", username, data)
	}
	return auth.Token, auth.User.ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	status, data, _ := doRequest(t, ts, http.MethodGet, "/api/v1/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("health status = %d, want 200", status)
	}
	var health map[string]string
	if err := json.Unmarshal(data, &health); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("health status field = %q, want ok", health["status"])
	}
}

func TestRegisterLoginMe(t *testing.T) {
	ts := newTestServer(t)

	token, userID := registerUser(t, ts, "alice")

	// Duplicate username is rejected.
	status, _, errMsg := doRequest(t, ts, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"password": "correct horse battery",
	})
	if status != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", status)
	}
	if errMsg != "username already taken" {
		t.Errorf("duplicate register error = %q", errMsg)
	}

	// Login with the right password.
	status, data, _ := doRequest(t, ts, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "Alice", // case-insensitive
		"password": "correct horse battery",
	})
	if status != http.StatusOK {
		t.Fatalf("login status = %d, want 200", status)
	}
	var auth struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &auth); err != nil || auth.Token == "" {
		t.Fatalf("login response missing token: %s (%v)", data, err)
	}

	// Wrong password.
	status, _, _ = doRequest(t, ts, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": "wrong password here",
	})
	if status != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", status)
	}

	// /auth/me with a valid token.
	status, data, _ = doRequest(t, ts, http.MethodGet, "/api/v1/auth/me", token, nil)
	if status != http.StatusOK {
		t.Fatalf("me status = %d, want 200", status)
	}
	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decoding me: %v", err)
	}
	if me.ID != userID || me.Username != "alice" {
		t.Errorf("me = %+v, want id %s username alice", me, userID)
	}
	if me.Email != "alice@example.com" {
		t.Errorf("me should include the owner's email, got %q", me.Email)
	}

	// No token at all.
	status, _, _ = doRequest(t, ts, http.MethodGet, "/api/v1/auth/me", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("me without token status = %d, want 401", status)
	}
}

func TestFriendRequestToContactFlow(t *testing.T) {
	ts := newTestServer(t)

	aliceToken, aliceID := registerUser(t, ts, "alice")
	bobToken, bobID := registerUser(t, ts, "bob")

	// Alice sends a friend request to bob.
	status, data, errMsg := doRequest(t, ts, http.MethodPost, "/api/v1/friend-requests", aliceToken, map[string]string{
		"username": "bob",
	})
	if status != http.StatusCreated {
		t.Fatalf("create friend request status = %d, error %q", status, errMsg)
	}
	var fr struct {
		ID         int64  `json:"id"`
		FromUserID string `json:"from_user_id"`
		ToUserID   string `json:"to_user_id"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(data, &fr); err != nil {
		t.Fatalf("decoding friend request: %v", err)
	}
	if fr.FromUserID != aliceID || fr.ToUserID != bobID || fr.Status != "pending" {
		t.Fatalf("friend request = %+v", fr)
	}

	// A second identical request is rejected.
	status, _, _ = doRequest(t, ts, http.MethodPost, "/api/v1/friend-requests", aliceToken, map[string]string{
		"username": "bob",
	})
	if status != http.StatusConflict {
		t.Errorf("duplicate friend request status = %d, want 409", status)
	}

	// Bob sees it in his incoming list.
	status, data, _ = doRequest(t, ts, http.MethodGet, "/api/v1/friend-requests", bobToken, nil)
	if status != http.StatusOK {
		t.Fatalf("list friend requests status = %d", status)
	}
	var lists struct {
		Incoming []struct {
			ID int64 `json:"id"`
		} `json:"incoming"`
		Outgoing []struct {
			ID int64 `json:"id"`
		} `json:"outgoing"`
	}
	if err := json.Unmarshal(data, &lists); err != nil {
		t.Fatalf("decoding friend request lists: %v", err)
	}
	if len(lists.Incoming) != 1 || lists.Incoming[0].ID != fr.ID {
		t.Fatalf("bob incoming = %+v, want request %d", lists.Incoming, fr.ID)
	}

	// Alice cannot accept a request addressed to bob.
	acceptPath := "/api/v1/friend-requests/" + strconv.FormatInt(fr.ID, 10) + "/accept"
	status, _, _ = doRequest(t, ts, http.MethodPost, acceptPath, aliceToken, nil)
	if status != http.StatusNotFound {
		t.Errorf("accept by sender status = %d, want 404", status)
	}

	// Bob accepts.
	status, _, errMsg = doRequest(t, ts, http.MethodPost, acceptPath, bobToken, nil)
	if status != http.StatusNoContent {
		t.Fatalf("accept status = %d, error %q", status, errMsg)
	}

	// Both sides now list each other as contacts.
	for _, tc := range []struct {
		token  string
		wantID string
	}{
		{aliceToken, bobID},
		{bobToken, aliceID},
	} {
		status, data, _ = doRequest(t, ts, http.MethodGet, "/api/v1/contacts", tc.token, nil)
		if status != http.StatusOK {
			t.Fatalf("list contacts status = %d", status)
		}
		var contacts []struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
			Online bool `json:"online"`
		}
		if err := json.Unmarshal(data, &contacts); err != nil {
			t.Fatalf("decoding contacts: %v", err)
		}
		if len(contacts) != 1 || contacts[0].User.ID != tc.wantID {
			t.Fatalf("contacts = %+v, want only %s", contacts, tc.wantID)
		}
		if contacts[0].Online {
			t.Error("contact should be offline without a websocket connection")
		}
	}

	// Removing the contact clears both directions.
	status, _, _ = doRequest(t, ts, http.MethodDelete, "/api/v1/contacts/"+bobID, aliceToken, nil)
	if status != http.StatusNoContent {
		t.Fatalf("remove contact status = %d, want 204", status)
	}
	status, data, _ = doRequest(t, ts, http.MethodGet, "/api/v1/contacts", bobToken, nil)
	if status != http.StatusOK {
		t.Fatalf("list contacts after removal status = %d", status)
	}
	var remaining []json.RawMessage
	if err := json.Unmarshal(data, &remaining); err != nil {
		t.Fatalf("decoding contacts: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("bob still has %d contacts after removal", len(remaining))
	}
}

func TestAttachmentVisibility(t *testing.T) {
	ts := newTestServer(t)

	aliceToken, _ := registerUser(t, ts, "alice")
	bobToken, _ := registerUser(t, ts, "bob")

	status, data, errMsg := doRequest(t, ts, http.MethodPost, "/api/v1/attachments", aliceToken, map[string]any{
		"file_name":  "photo.jpg",
		"mime_type":  "image/jpeg",
		"size_bytes": 2048,
	})
	if status != http.StatusCreated {
		t.Fatalf("create attachment status = %d, error %q", status, errMsg)
	}
	var att struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &att); err != nil || att.ID == "" {
		t.Fatalf("decoding attachment: %s (%v)", data, err)
	}

	// The owner can fetch it.
	status, _, _ = doRequest(t, ts, http.MethodGet, "/api/v1/attachments/"+att.ID, aliceToken, nil)
	if status != http.StatusOK {
		t.Errorf("owner fetch status = %d, want 200", status)
	}

	// A stranger gets a 404, not a 403.
	status, _, _ = doRequest(t, ts, http.MethodGet, "/api/v1/attachments/"+att.ID, bobToken, nil)
	if status != http.StatusNotFound {
		t.Errorf("stranger fetch status = %d, want 404", status)
	}

	// Oversized attachments are rejected.
	status, _, errMsg = doRequest(t, ts, http.MethodPost, "/api/v1/attachments", aliceToken, map[string]any{
		"file_name":  "huge.bin",
		"mime_type":  "application/octet-stream",
		"size_bytes": maxAttachmentBytes + 1,
	})
	if status != http.StatusBadRequest {
		t.Errorf("oversized attachment status = %d, error %q, want 400", status, errMsg)
	}
}

func TestPushTokenLifecycle(t *testing.T) {
	ts := newTestServer(t)

	token, _ := registerUser(t, ts, "alice")

	status, _, errMsg := doRequest(t, ts, http.MethodPost, "/api/v1/push-token", token, map[string]string{
		"token":     "fcm-token-1",
		"platform":  "android",
		"device_id": "pixel-8",
	})
	if status != http.StatusNoContent {
		t.Fatalf("register push token status = %d, error %q", status, errMsg)
	}

	status, _, errMsg = doRequest(t, ts, http.MethodPost, "/api/v1/push-token", token, map[string]string{
		"token":     "t",
		"platform":  "blackberry",
		"device_id": "d",
	})
	if status != http.StatusBadRequest {
		t.Errorf("unknown platform status = %d, error %q, want 400", status, errMsg)
	}

	status, _, _ = doRequest(t, ts, http.MethodDelete, "/api/v1/push-token/pixel-8", token, nil)
	if status != http.StatusNoContent {
		t.Errorf("delete push token status = %d, want 204", status)
	}
}
