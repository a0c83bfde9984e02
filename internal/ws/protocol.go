package ws

import "encoding/json"

// Frame is the envelope for every control-channel message, in both
// directions: operator commands in, events out.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event names sent to control connections.
const (
	EventQRCode               = "qr-code"
	EventStatusUpdate         = "status-update"
	EventConnected            = "connected"
	EventWhatsAppReady        = "whatsapp-ready"
	EventAuthError            = "auth-error"
	EventDisconnected         = "disconnected"
	EventWhatsAppDisconnected = "whatsapp-disconnected"
	EventMessageReceived      = "message-received"
	EventNewMessage           = "new-message"
	EventAutoReplySent        = "auto-reply-sent"
	EventAutoReplyError       = "auto-reply-error"
	EventChats                = "chats"
	EventMessages             = "messages"
	EventMessageSent          = "message-sent"
)

// Command names accepted from control connections.
const (
	CmdConnectWhatsApp    = "connect-whatsapp"
	CmdDisconnectWhatsApp = "disconnect-whatsapp"
	CmdCloseTerminal      = "close-terminal"
	CmdGetChats           = "get-chats"
	CmdGetMessages        = "get-messages"
	CmdSendMessage        = "send-message"
)

// StatusUpdate is the payload of status-update events.
type StatusUpdate struct {
	Message string `json:"message"`
	Type    string `json:"type"` // info | success | warning | error
}
