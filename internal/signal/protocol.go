// Package signal implements the realtime core of ChatFlow: the presence
// registry, the call session table, the call signaling coordinator, and the
// websocket hub that bridges them to connected clients.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Client-to-server message types.
const (
	TypeAddUser      MessageType = "add_user"
	TypeChatSend     MessageType = "chat_send"
	TypeCallInitiate MessageType = "call_initiate"
	TypeCallAccept   MessageType = "call_accept"
	TypeCallReject   MessageType = "call_reject"
	TypeCallCancel   MessageType = "call_cancel"
	TypeCallEnd      MessageType = "call_end"
	TypeCallSignal   MessageType = "call_signal"
)

// Server-to-client message types.
const (
	TypeOnlineUsers   MessageType = "online_users"
	TypeUserOnline    MessageType = "user_online"
	TypeUserOffline   MessageType = "user_offline"
	TypeChatMessage   MessageType = "chat_message"
	TypeChatAck       MessageType = "chat_ack"
	TypeCallInitiated MessageType = "call_initiated"
	TypeIncomingCall  MessageType = "incoming_call"
	TypeCallAccepted  MessageType = "call_accepted"
	TypeCallRejected  MessageType = "call_rejected"
	TypeCallCancelled MessageType = "call_cancelled"
	TypeCallEnded     MessageType = "call_ended"
	TypeCallFailed    MessageType = "call_failed"
	TypeReceiveSignal MessageType = "receive_signal"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// Envelope carries only the type tag; used to pick the concrete variant.
type Envelope struct {
	Type MessageType `json:"type"`
}

// AddUser registers the authenticated user in the presence registry.
// The user identity comes from the connection's JWT, never from the payload.
type AddUser struct {
	Type MessageType `json:"type"`
}

// ChatSend asks the server to persist and deliver a text message.
type ChatSend struct {
	Type         MessageType `json:"type"`
	To           string      `json:"to"`
	Body         string      `json:"body"`
	AttachmentID string      `json:"attachment_id,omitempty"`
}

// CallInitiate asks the server to start a call to another user.
type CallInitiate struct {
	Type     MessageType `json:"type"`
	To       string      `json:"to"`
	CallType CallType    `json:"call_type"`
}

// CallAction references an existing call by its server-generated id.
// Used for accept, reject, cancel and end.
type CallAction struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
}

// CallSignalMsg relays an opaque WebRTC negotiation payload to the other
// party of an accepted call. The server never inspects Payload.
type CallSignalMsg struct {
	Type    MessageType     `json:"type"`
	CallID  string          `json:"call_id"`
	Payload json.RawMessage `json:"payload"`
}

// OnlineUsers hydrates a newly registered client's presence view.
type OnlineUsers struct {
	Type  MessageType `json:"type"`
	Users []string    `json:"users"`
}

// PresenceEvent announces a single user going online or offline.
type PresenceEvent struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"user_id"`
}

// ChatMessage delivers a persisted message to its recipient.
type ChatMessage struct {
	Type         MessageType `json:"type"`
	MessageID    string      `json:"message_id"`
	From         string      `json:"from"`
	FromName     string      `json:"from_name"`
	Body         string      `json:"body"`
	AttachmentID string      `json:"attachment_id,omitempty"`
	SentAt       int64       `json:"sent_at"`
}

// ChatAck confirms persistence of a sent message back to its author.
type ChatAck struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id"`
	SentAt    int64       `json:"sent_at"`
}

// CallInitiated tells the caller the server-generated call id. The caller
// must not act on a call before receiving this.
type CallInitiated struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
}

// IncomingCall notifies the callee of a ringing call.
type IncomingCall struct {
	Type     MessageType `json:"type"`
	CallID   string      `json:"call_id"`
	From     string      `json:"from"`
	FromName string      `json:"from_name"`
	CallType CallType    `json:"call_type"`
}

// CallEvent is the shared shape of accepted/rejected/cancelled/ended events.
type CallEvent struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
}

// CallFailed tells the caller a call could not be placed or was abandoned.
type CallFailed struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id,omitempty"`
	Reason string      `json:"reason"`
}

// ReceiveSignal carries a relayed WebRTC payload to the other call party.
type ReceiveSignal struct {
	Type    MessageType     `json:"type"`
	CallID  string          `json:"call_id"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorEvent reports a rejected client action. The connection stays open.
type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

// Failure reasons used in CallFailed events.
const (
	ReasonOffline     = "offline"
	ReasonNotContact  = "not_contact"
	ReasonNoAnswer    = "no_answer"
	ReasonUnreachable = "unreachable"
)

// ParseClientMessage decodes and validates one client-to-server message.
// Unknown types and messages missing required fields fail with a typed
// error instead of propagating half-decoded payloads.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAddUser:
		var msg AddUser
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeChatSend:
		var msg ChatSend
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.To == "" || (msg.Body == "" && msg.AttachmentID == "") {
			return nil, errors.New("invalid chat_send: missing to or content")
		}
		return msg, nil
	case TypeCallInitiate:
		var msg CallInitiate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.To == "" {
			return nil, errors.New("invalid call_initiate: missing to")
		}
		if msg.CallType != CallTypeVoice && msg.CallType != CallTypeVideo {
			return nil, fmt.Errorf("invalid call_initiate: unknown call type %q", msg.CallType)
		}
		return msg, nil
	case TypeCallAccept, TypeCallReject, TypeCallCancel, TypeCallEnd:
		var msg CallAction
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" {
			return nil, fmt.Errorf("invalid %s: missing call_id", env.Type)
		}
		return msg, nil
	case TypeCallSignal:
		var msg CallSignalMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || len(msg.Payload) == 0 {
			return nil, errors.New("invalid call_signal: missing call_id or payload")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseServerMessage decodes one server-to-client message. Used by the Go
// client controller; browser clients decode the same JSON directly.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	var msg any
	switch env.Type {
	case TypeOnlineUsers:
		msg = &OnlineUsers{}
	case TypeUserOnline, TypeUserOffline:
		msg = &PresenceEvent{}
	case TypeChatMessage:
		msg = &ChatMessage{}
	case TypeChatAck:
		msg = &ChatAck{}
	case TypeCallInitiated:
		msg = &CallInitiated{}
	case TypeIncomingCall:
		msg = &IncomingCall{}
	case TypeCallAccepted, TypeCallRejected, TypeCallCancelled, TypeCallEnded:
		msg = &CallEvent{}
	case TypeCallFailed:
		msg = &CallFailed{}
	case TypeReceiveSignal:
		msg = &ReceiveSignal{}
	case TypeErrorEvent:
		msg = &ErrorEvent{}
	default:
		return nil, ErrUnsupportedType
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
