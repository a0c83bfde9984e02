// Package session owns the lifecycle of the single WhatsApp client: at most
// one instance is live at any time, connect and disconnect are idempotent,
// and on-disk session artifacts are cleared before every new login.
package session

import "time"

// State is the lifecycle state of the current client instance.
type State int

const (
	StateUninitialized State = iota
	StateQRPending
	StateAuthenticated
	StateReady
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateQRPending:
		return "qr_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "uninitialized"
	}
}

// Identity describes the logged-in WhatsApp account.
type Identity struct {
	ID       string `json:"id"`
	PushName string `json:"pushName"`
}

// Contact is a resolved sender display name and number.
type Contact struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Quoted identifies the message a reply is threaded onto.
type Quoted struct {
	MessageID string
	Sender    string // bare number of the original sender
	Body      string
}

// MediaPayload is downloaded media attached to an incoming message.
type MediaPayload struct {
	Mimetype string `json:"mimetype"`
	Data     string `json:"data"` // base64
	Filename string `json:"filename,omitempty"`
}

// Location is a decoded location message.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// VCard is a decoded contact-card message.
type VCard struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vcard"`
}

// Sticker carries the decoded sticker fields.
type Sticker struct {
	Mimetype string `json:"mimetype"`
	Animated bool   `json:"animated"`
}

// IncomingMessage is the normalized record for one received message.
type IncomingMessage struct {
	ID        string
	ChatID    string
	Sender    string // bare number
	PushName  string
	Body      string
	Type      string
	FromMe    bool
	IsGroup   bool
	Timestamp time.Time

	Media    *MediaPayload
	Location *Location
	VCard    *VCard
	Sticker  *Sticker
}

// Events receives the lifecycle and message callbacks of one client
// instance. Handlers are registered before the client initializes and are
// implicitly dropped when the instance is torn down.
type Events interface {
	OnQR(code string)
	OnAuthenticated()
	OnReady(id Identity)
	OnAuthFailure(reason string)
	OnDisconnected(reason string)
	OnMessage(msg IncomingMessage)
}
