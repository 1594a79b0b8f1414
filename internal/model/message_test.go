package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Channel
	}{
		{"SMS", ChannelSMS},
		{"TYPE_SMS", ChannelSMS},
		{"type_sms", ChannelSMS},
		{"Live_Chat", ChannelLiveChat},
		{"TYPE_WEBCHAT", ChannelLiveChat},
		{"TYPE_CALL", ChannelCall},
		{"Voicemail", ChannelVoicemail},
		{"TYPE_EMAIL", ChannelEmail},
		{"TYPE_CUSTOM_SMS", ChannelCustom},
		{"  whatsapp  ", ChannelWhatsApp},
		{"carrier_pigeon", ChannelUnknown},
		{"", ChannelUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseChannel(tt.raw))
		})
	}
}

func TestExtractable(t *testing.T) {
	t.Parallel()

	allowed := DefaultExtractableChannels()

	t.Run("inbound sms is extractable", func(t *testing.T) {
		t.Parallel()
		m := ConversationMessage{Direction: DirectionInbound, Channel: ChannelSMS}
		assert.True(t, m.Extractable(allowed))
	})

	t.Run("outbound sms is not", func(t *testing.T) {
		t.Parallel()
		m := ConversationMessage{Direction: DirectionOutbound, Channel: ChannelSMS}
		assert.False(t, m.Extractable(allowed))
	})

	t.Run("inbound call is not", func(t *testing.T) {
		t.Parallel()
		m := ConversationMessage{Direction: DirectionInbound, Channel: ChannelCall}
		assert.False(t, m.Extractable(allowed))
	})

	t.Run("inbound voicemail is not", func(t *testing.T) {
		t.Parallel()
		m := ConversationMessage{Direction: DirectionInbound, Channel: ChannelVoicemail}
		assert.False(t, m.Extractable(allowed))
	})

	t.Run("inbound email is not", func(t *testing.T) {
		t.Parallel()
		m := ConversationMessage{Direction: DirectionInbound, Channel: ChannelEmail}
		assert.False(t, m.Extractable(allowed))
	})

	t.Run("missing direction is not", func(t *testing.T) {
		t.Parallel()
		m := ConversationMessage{Channel: ChannelSMS}
		assert.False(t, m.Extractable(allowed))
	})
}

func TestMessageRole(t *testing.T) {
	t.Parallel()

	in := ConversationMessage{Direction: DirectionInbound}
	assert.Equal(t, RoleUser, in.Role())

	out := ConversationMessage{Direction: DirectionOutbound}
	assert.Equal(t, RoleAssistant, out.Role())
}

func TestHasBody(t *testing.T) {
	t.Parallel()

	body := "hello"
	blank := "   "
	assert.True(t, (&ConversationMessage{Body: &body}).HasBody())
	assert.False(t, (&ConversationMessage{Body: &blank}).HasBody())
	assert.False(t, (&ConversationMessage{}).HasBody())
}
