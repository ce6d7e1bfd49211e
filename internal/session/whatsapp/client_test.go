package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestParseRecipient(t *testing.T) {
	jid, err := ParseRecipient("+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "15551234567@s.whatsapp.net", jid.String())

	jid, err = ParseRecipient("111")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultUserServer, jid.Server)

	jid, err = ParseRecipient("111@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "111", jid.User)

	for _, bad := range []string{"", "+", "abc", "12-34"} {
		_, err := ParseRecipient(bad)
		assert.Error(t, err, bad)
	}
}

func TestDeviceOS(t *testing.T) {
	assert.Equal(t, "Linux", deviceOS("Chrome (Linux)"))
	assert.Equal(t, "wabot", deviceOS("wabot"))
	assert.Equal(t, "Chrome ()", deviceOS("Chrome ()"))
}

func userMessage(chat types.JID, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "3EB0ABC",
			PushName:      "Ana",
			Timestamp:     time.Unix(1_700_000_000, 0),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestToMessageKeepsUserText(t *testing.T) {
	chat := types.NewJID("111", types.DefaultUserServer)
	msg, ok := toMessage(userMessage(chat, "!ping"))
	require.True(t, ok)
	assert.Equal(t, "111@s.whatsapp.net", msg.From)
	assert.Equal(t, "!ping", msg.Text)
	assert.Equal(t, "Ana", msg.PushName)

	ext := userMessage(chat, "")
	ext.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("!help")}}
	msg, ok = toMessage(ext)
	require.True(t, ok)
	assert.Equal(t, "!help", msg.Text)
}

func TestToMessageDropsNonUserChats(t *testing.T) {
	own := userMessage(types.NewJID("111", types.DefaultUserServer), "hi")
	own.Info.IsFromMe = true
	_, ok := toMessage(own)
	assert.False(t, ok, "self-sent")

	group := userMessage(types.NewJID("1203630", types.GroupServer), "hi")
	group.Info.IsGroup = true
	_, ok = toMessage(group)
	assert.False(t, ok, "group")

	_, ok = toMessage(userMessage(types.NewJID("status", types.BroadcastServer), "hi"))
	assert.False(t, ok, "broadcast")

	_, ok = toMessage(userMessage(types.NewJID("111", types.DefaultUserServer), ""))
	assert.False(t, ok, "no text")
}
