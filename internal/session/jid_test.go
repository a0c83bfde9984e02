package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
)

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   string
	}{
		{"bare local number", "11999999999", "5511999999999@c.us"},
		{"already prefixed", "5511999999999", "5511999999999@c.us"},
		{"formatted", "+55 (11) 99999-9999", "5511999999999@c.us"},
		{"spaces and dashes", "11 9 9999-9999", "5511999999999@c.us"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeNumber(tt.number))
		})
	}
}

func TestToJID(t *testing.T) {
	user, err := ToJID("5511999999999@c.us")
	require.NoError(t, err)
	assert.Equal(t, "5511999999999", user.User)
	assert.Equal(t, types.DefaultUserServer, user.Server)

	group, err := ToJID("123456789-987654@g.us")
	require.NoError(t, err)
	assert.Equal(t, types.GroupServer, group.Server)

	bare, err := ToJID("5511999999999")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultUserServer, bare.Server)
}

func TestFromJIDRoundTrip(t *testing.T) {
	chatID := "5511999999999@c.us"
	jid, err := ToJID(chatID)
	require.NoError(t, err)
	assert.Equal(t, chatID, FromJID(jid))

	groupID := "123456789@g.us"
	gjid, err := ToJID(groupID)
	require.NoError(t, err)
	assert.Equal(t, groupID, FromJID(gjid))
}
