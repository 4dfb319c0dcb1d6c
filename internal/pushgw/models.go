// Package pushgw implements the hosted push gateway. It validates license
// keys, fans pushes out to FCM and APNs, and records delivery outcomes.
package pushgw

import "time"

// Push kinds accepted by POST /v1/push.
const (
	KindIncomingCall = "incoming_call"
	KindMessage      = "message"
)

// PushPayload is the data carried inside a push notification.
type PushPayload struct {
	Kind     string `json:"kind"` // "incoming_call" or "message"
	FromName string `json:"from_name"`
	CallID   string `json:"call_id,omitempty"`
}

// PushRequest is the JSON body for POST /v1/push.
type PushRequest struct {
	LicenseKey   string `json:"license_key"`
	PushToken    string `json:"push_token"`
	PushPlatform string `json:"push_platform"` // "android", "ios" or "web"
	Kind         string `json:"kind"`
	FromName     string `json:"from_name"`
	CallID       string `json:"call_id,omitempty"`
}

// PushResponse is the JSON response for POST /v1/push.
type PushResponse struct {
	Delivered bool `json:"delivered"`
}

// License is one license key record.
type License struct {
	ID        int64
	Key       string
	Tier      string // "free", "standard", "professional"
	MaxUsers  int
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Installation records one activated ChatFlow instance under a license.
type Installation struct {
	ID          int64
	LicenseID   int64
	InstanceID  string
	Hostname    string
	Version     string
	ActivatedAt time.Time
	LastSeenAt  time.Time
}

// PushLogEntry is one push delivery attempt.
type PushLogEntry struct {
	LicenseKey string
	Platform   string
	Kind       string
	CallID     string
	Success    bool
	Error      string
	Timestamp  time.Time
}

// LicenseValidateRequest is the JSON body for POST /v1/license/validate.
type LicenseValidateRequest struct {
	LicenseKey string `json:"license_key"`
}

// LicenseValidateResponse is the JSON response for POST /v1/license/validate.
type LicenseValidateResponse struct {
	Valid     bool       `json:"valid"`
	Tier      string     `json:"tier"`
	MaxUsers  int        `json:"max_users"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// LicenseActivateRequest is the JSON body for POST /v1/license/activate.
type LicenseActivateRequest struct {
	LicenseKey string `json:"license_key"`
	Hostname   string `json:"hostname"`
	Version    string `json:"version"`
}

// LicenseActivateResponse is the JSON response for POST /v1/license/activate.
type LicenseActivateResponse struct {
	InstanceID  string    `json:"instance_id"`
	ActivatedAt time.Time `json:"activated_at"`
}

// LicenseStatus is the JSON response for GET /v1/license/status.
type LicenseStatus struct {
	Key               string     `json:"key"`
	Tier              string     `json:"tier"`
	MaxUsers          int        `json:"max_users"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	InstallationCount int        `json:"installation_count"`
	Active            bool       `json:"active"`
}
