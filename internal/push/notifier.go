package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatflow/chatflow/internal/database"
)

// Notifier fans push wake-ups out to every device a user has registered.
// It satisfies the realtime hub's notifier interface; the hub calls it when
// a message or call targets an offline user.
type Notifier struct {
	client *Client
	tokens database.PushTokenRepository
	logger *slog.Logger
}

// NewNotifier returns a Notifier, or nil when the gateway client is not
// configured. A nil Notifier disables push wake-ups at the hub.
func NewNotifier(client *Client, tokens database.PushTokenRepository, logger *slog.Logger) *Notifier {
	if client == nil || !client.Configured() {
		return nil
	}
	return &Notifier{client: client, tokens: tokens, logger: logger}
}

// NotifyCall wakes userID's devices for an incoming call.
func (n *Notifier) NotifyCall(userID, callerName, callID string) {
	go n.send(userID, KindIncomingCall, callerName, callID)
}

// NotifyMessage wakes userID's devices for a new chat message.
func (n *Notifier) NotifyMessage(userID, fromName string) {
	go n.send(userID, KindMessage, fromName, "")
}

// send runs in its own goroutine; delivery must not block the websocket
// read loop.
func (n *Notifier) send(userID, kind, fromName, callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tokens, err := n.tokens.GetByUserID(ctx, userID)
	if err != nil {
		n.logger.Error("push notifier: failed to load tokens", "error", err, "user_id", userID)
		return
	}
	if len(tokens) == 0 {
		return
	}

	for _, t := range tokens {
		delivered, err := n.client.SendPush(ctx, t.Token, t.Platform, kind, fromName, callID)
		if err != nil {
			n.logger.Warn("push notifier: delivery failed",
				"error", err, "user_id", userID, "platform", t.Platform, "kind", kind)
			continue
		}
		if !delivered {
			n.logger.Warn("push notifier: gateway reported not delivered",
				"user_id", userID, "platform", t.Platform, "kind", kind)
		}
	}
}
