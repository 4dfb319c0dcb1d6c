package pushgw

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	apnsProductionURL = "https://api.push.apple.com"
	apnsSandboxURL    = "https://api.sandbox.push.apple.com"

	// Apple caps provider token lifetime at 60 minutes. Refreshing at
	// 50 keeps a healthy margin.
	apnsTokenLifetime = 50 * time.Minute
)

// APNsConfig holds everything needed to construct an APNsSender.
type APNsConfig struct {
	// KeyFile is the path to the .p8 private key file from Apple.
	KeyFile string
	// KeyID is the 10-character key identifier from Apple.
	KeyID string
	// TeamID is the 10-character Apple Developer Team ID.
	TeamID string
	// BundleID is the app's bundle identifier, used as the APNs topic.
	BundleID string
	// Sandbox targets the APNs sandbox environment instead of production.
	Sandbox bool
}

func (c APNsConfig) validate() error {
	switch {
	case c.KeyFile == "":
		return fmt.Errorf("apns: key file path is required")
	case c.KeyID == "":
		return fmt.Errorf("apns: key id is required")
	case c.TeamID == "":
		return fmt.Errorf("apns: team id is required")
	case c.BundleID == "":
		return fmt.Errorf("apns: bundle id is required")
	}
	return nil
}

// APNsSender delivers pushes over Apple's token-based HTTP/2 provider API.
type APNsSender struct {
	client  *http.Client
	baseURL string
	topic   string // app bundle ID

	key    *ecdsa.PrivateKey
	keyID  string
	teamID string

	mu        sync.Mutex
	token     string
	refreshAt time.Time
}

// NewAPNsSender loads the signing key and returns a ready sender.
func NewAPNsSender(cfg APNsConfig) (*APNsSender, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	keyData, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("apns: reading key file: %w", err)
	}
	key, err := parseECPrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("apns: parsing p8 key: %w", err)
	}

	baseURL := apnsProductionURL
	if cfg.Sandbox {
		baseURL = apnsSandboxURL
	}

	slog.Info("apns sender initialised", "key_id", cfg.KeyID, "team_id", cfg.TeamID, "topic", cfg.BundleID, "sandbox", cfg.Sandbox)

	return &APNsSender{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		topic:   cfg.BundleID,
		key:     key,
		keyID:   cfg.KeyID,
		teamID:  cfg.TeamID,
	}, nil
}

// Send pushes payload to one APNs device token. Only the "ios" platform
// lands here. Incoming calls go out as VoIP pushes so CallKit can raise
// the call UI; chat messages are plain alert pushes.
func (a *APNsSender) Send(platform, token string, payload PushPayload) error {
	if platform != "ios" {
		return fmt.Errorf("apns sender: unsupported platform %q", platform)
	}

	providerToken, err := a.providerToken()
	if err != nil {
		return fmt.Errorf("apns: generating provider token: %w", err)
	}

	body, err := buildAPNsPayload(payload)
	if err != nil {
		return fmt.Errorf("apns: building payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/3/device/%s", a.baseURL, token), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("apns: creating request: %w", err)
	}
	a.setHeaders(req, payload.Kind, providerToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("apns: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		slog.Debug("apns notification sent", "apns_id", resp.Header.Get("apns-id"), "kind", payload.Kind)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var apnsErr apnsErrorResponse
	if json.Unmarshal(respBody, &apnsErr) == nil && apnsErr.Reason != "" {
		return fmt.Errorf("apns: %s (status %d)", apnsErr.Reason, resp.StatusCode)
	}
	return fmt.Errorf("apns: unexpected status %d: %s", resp.StatusCode, string(respBody))
}

func (a *APNsSender) setHeaders(req *http.Request, kind, providerToken string) {
	req.Header.Set("Authorization", "bearer "+providerToken)
	if kind == KindIncomingCall {
		req.Header.Set("apns-topic", a.topic+".voip")
		req.Header.Set("apns-push-type", "voip")
		req.Header.Set("apns-expiration", "0")
	} else {
		req.Header.Set("apns-topic", a.topic)
		req.Header.Set("apns-push-type", "alert")
	}
	req.Header.Set("apns-priority", "10")
	req.Header.Set("Content-Type", "application/json")
}

// providerToken returns the cached signed JWT, minting a fresh one when
// the current token nears expiry.
func (a *APNsSender) providerToken() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if a.token != "" && now.Before(a.refreshAt) {
		return a.token, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:   a.teamID,
		IssuedAt: jwt.NewNumericDate(now),
	})
	tok.Header["kid"] = a.keyID

	signed, err := tok.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}

	a.token = signed
	a.refreshAt = now.Add(apnsTokenLifetime)
	return signed, nil
}

// apnsErrorResponse is the JSON error body APNs returns on failure.
type apnsErrorResponse struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type apnsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// buildAPNsPayload renders the push body. VoIP pushes carry the call data
// at the top level; alert pushes get an aps dictionary so the system can
// display them without waking the app.
func buildAPNsPayload(p PushPayload) ([]byte, error) {
	if p.Kind == KindIncomingCall {
		return json.Marshal(map[string]string{
			"kind":      p.Kind,
			"from_name": p.FromName,
			"call_id":   p.CallID,
		})
	}
	return json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert": apnsAlert{Title: p.FromName, Body: "New message"},
			"sound": "default",
		},
		"kind":      p.Kind,
		"from_name": p.FromName,
	})
}

// parseECPrivateKey decodes an Apple .p8 file: a PEM-wrapped PKCS#8
// ECDSA P-256 private key.
func parseECPrivateKey(pemData []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not ECDSA")
	}
	return ecKey, nil
}
