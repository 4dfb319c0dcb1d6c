// Package push talks to the hosted push gateway on behalf of a ChatFlow
// instance. The gateway holds the FCM and APNs credentials so individual
// installs never need them.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Push kinds understood by the gateway.
const (
	KindIncomingCall = "incoming_call"
	KindMessage      = "message"
)

// PushRequest is the payload sent to the push gateway's POST /v1/push endpoint.
type PushRequest struct {
	LicenseKey   string `json:"license_key"`
	PushToken    string `json:"push_token"`
	PushPlatform string `json:"push_platform"` // "android", "ios" or "web"
	Kind         string `json:"kind"`          // "incoming_call" or "message"
	FromName     string `json:"from_name"`
	CallID       string `json:"call_id,omitempty"`
}

// PushResponse is the response from POST /v1/push.
type PushResponse struct {
	Delivered bool `json:"delivered"`
}

// envelope mirrors the gateway's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Client is an HTTP client for the push gateway service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	licenseKey string
}

// NewClient returns a gateway client. baseURL is the gateway endpoint
// (e.g. "https://push.chatflow.app") and licenseKey identifies this
// instance on every request.
func NewClient(baseURL, licenseKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		licenseKey: licenseKey,
	}
}

// Configured reports whether the client can actually reach a gateway.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.licenseKey != ""
}

// SendPush asks the gateway to wake a device. kind selects the notification
// shape; callID is set only for incoming-call pushes. It returns whether the
// gateway handed the push to the platform successfully.
func (c *Client) SendPush(ctx context.Context, pushToken, pushPlatform, kind, fromName, callID string) (bool, error) {
	env, err := c.postJSON(ctx, "/v1/push", PushRequest{
		LicenseKey:   c.licenseKey,
		PushToken:    pushToken,
		PushPlatform: pushPlatform,
		Kind:         kind,
		FromName:     fromName,
		CallID:       callID,
	})
	if err != nil {
		return false, err
	}

	var pushResp PushResponse
	if err := json.Unmarshal(env.Data, &pushResp); err != nil {
		return false, fmt.Errorf("push: decoding push response data: %w", err)
	}

	slog.Debug("push notification sent",
		"delivered", pushResp.Delivered,
		"kind", kind,
		"platform", pushPlatform,
	)
	return pushResp.Delivered, nil
}

// postJSON sends one JSON request to the gateway and unwraps the response
// envelope. Non-200 statuses become errors carrying the gateway's message
// when one was given.
func (c *Client) postJSON(ctx context.Context, path string, payload any) (*envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("push: marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("push: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-License-Key", c.licenseKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("push: reading response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && env.Error != "" {
			return nil, fmt.Errorf("push: gateway error (status %d): %s", resp.StatusCode, env.Error)
		}
		return nil, fmt.Errorf("push: gateway returned status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("push: decoding response: %w", decodeErr)
	}
	return &env, nil
}
