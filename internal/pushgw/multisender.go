package pushgw

import "fmt"

// MultiSender fans a push out to the sender registered for its platform.
// FCM typically serves android and web; APNs serves ios.
type MultiSender struct {
	senders map[string]PushSender
}

// NewMultiSender builds a MultiSender from a map keyed by platform name.
func NewMultiSender(senders map[string]PushSender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send delegates to the sender registered for platform.
func (m *MultiSender) Send(platform, token string, payload PushPayload) error {
	if s, ok := m.senders[platform]; ok {
		return s.Send(platform, token, payload)
	}
	return fmt.Errorf("no sender configured for platform %q", platform)
}
