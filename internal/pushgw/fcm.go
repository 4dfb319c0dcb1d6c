package pushgw

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// How long FCM may hold an undelivered message before dropping it. A
// stale call wake-up is worthless, so it gets a short window.
const (
	callTTL    = 30 * time.Second
	messageTTL = 24 * time.Hour
)

// FCMSender delivers pushes through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender builds a Firebase app from the given service-account JSON
// file. An empty path lets the SDK resolve credentials itself, via
// GOOGLE_APPLICATION_CREDENTIALS or the default service account.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	slog.Info("fcm sender initialised")
	return &FCMSender{client: client}, nil
}

// Send pushes payload to one FCM registration token. FCM handles the
// "android" and "web" platforms; anything else is rejected here.
func (f *FCMSender) Send(platform, token string, payload PushPayload) error {
	if platform != "android" && platform != "web" {
		return fmt.Errorf("fcm sender: unsupported platform %q", platform)
	}

	ttl := callTTL
	if payload.Kind == KindMessage {
		ttl = messageTTL
	}

	id, err := f.client.Send(context.Background(), &messaging.Message{
		Token: token,
		Data: map[string]string{
			"kind":      payload.Kind,
			"from_name": payload.FromName,
			"call_id":   payload.CallID,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
	})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("fcm: token no longer valid: %w", err)
		}
		return fmt.Errorf("fcm: send failed: %w", err)
	}

	slog.Debug("fcm message sent", "message_id", id, "kind", payload.Kind)
	return nil
}
