package session

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// Control-plane chat IDs use the classic user/group suffixes; the session
// layer maps them to server JIDs internally.
const (
	userSuffix  = "@c.us"
	groupSuffix = "@g.us"
)

const defaultCountryCode = "55"

// NormalizeNumber turns a bare phone number into a chat ID, prefixing the
// Brazilian country code when missing: "11999999999" → "5511999999999@c.us".
func NormalizeNumber(number string) string {
	var digits strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n := digits.String()
	if !strings.HasPrefix(n, defaultCountryCode) {
		n = defaultCountryCode + n
	}
	return n + userSuffix
}

// ToJID converts a control-plane chat ID to a whatsmeow JID.
func ToJID(chatID string) (types.JID, error) {
	switch {
	case strings.HasSuffix(chatID, groupSuffix):
		return types.NewJID(strings.TrimSuffix(chatID, groupSuffix), types.GroupServer), nil
	case strings.HasSuffix(chatID, userSuffix):
		return types.NewJID(strings.TrimSuffix(chatID, userSuffix), types.DefaultUserServer), nil
	case strings.Contains(chatID, "@"):
		return types.ParseJID(chatID)
	default:
		return types.NewJID(chatID, types.DefaultUserServer), nil
	}
}

// FromJID converts a whatsmeow JID to a control-plane chat ID.
func FromJID(jid types.JID) string {
	if jid.Server == types.GroupServer {
		return jid.User + groupSuffix
	}
	return jid.User + userSuffix
}
