package model

import (
	"strings"
	"time"
)

// Direction indicates which party sent a conversation message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Channel identifies the messaging channel a message arrived on.
type Channel string

const (
	ChannelSMS       Channel = "sms"
	ChannelLiveChat  Channel = "live_chat"
	ChannelFacebook  Channel = "facebook"
	ChannelInstagram Channel = "instagram"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelGMB       Channel = "gmb"
	ChannelCustom    Channel = "custom"
	ChannelCall      Channel = "call"
	ChannelVoicemail Channel = "voicemail"
	ChannelEmail     Channel = "email"
	ChannelUnknown   Channel = "unknown"
)

// channelAliases maps the raw messageType values the CRM sends to channels.
// The platform has shipped both bare and TYPE_-prefixed spellings.
var channelAliases = map[string]Channel{
	"sms":             ChannelSMS,
	"type_sms":        ChannelSMS,
	"live_chat":       ChannelLiveChat,
	"livechat":        ChannelLiveChat,
	"type_live_chat":  ChannelLiveChat,
	"type_webchat":    ChannelLiveChat,
	"facebook":        ChannelFacebook,
	"type_facebook":   ChannelFacebook,
	"instagram":       ChannelInstagram,
	"type_instagram":  ChannelInstagram,
	"whatsapp":        ChannelWhatsApp,
	"type_whatsapp":   ChannelWhatsApp,
	"gmb":             ChannelGMB,
	"type_gmb":        ChannelGMB,
	"custom":          ChannelCustom,
	"type_custom_sms": ChannelCustom,
	"call":            ChannelCall,
	"type_call":       ChannelCall,
	"voicemail":       ChannelVoicemail,
	"type_voicemail":  ChannelVoicemail,
	"email":           ChannelEmail,
	"type_email":      ChannelEmail,
}

// ParseChannel normalizes a raw messageType value. Unrecognized values map to
// ChannelUnknown; the message is still stored, just never extracted.
func ParseChannel(raw string) Channel {
	if raw == "" {
		return ChannelUnknown
	}
	if ch, ok := channelAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return ch
	}
	return ChannelUnknown
}

// ConversationMessage is a stored webhook message. Rows are append-only:
// pipeline failures mark processed with an error, they never delete.
type ConversationMessage struct {
	ID              string     `json:"id"`
	MessageID       *string    `json:"message_id,omitempty"` // CRM message id; dedup key when present
	ConversationID  string     `json:"conversation_id"`
	LocationID      string     `json:"location_id"`
	ContactID       *string    `json:"contact_id,omitempty"`
	Direction       Direction  `json:"direction"`
	Channel         Channel    `json:"channel"`
	Body            *string    `json:"body,omitempty"`
	Attachments     []string   `json:"attachments,omitempty"`
	DateAdded       time.Time  `json:"date_added"` // event time from the CRM
	ReceivedAt      time.Time  `json:"received_at"`
	Processed       bool       `json:"processed"`
	ProcessingError *string    `json:"processing_error,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// Role maps the message direction to a chat role for transcripts.
// Outbound messages were sent by the business, everything else by the contact.
func (m *ConversationMessage) Role() Role {
	if m.Direction == DirectionOutbound {
		return RoleAssistant
	}
	return RoleUser
}

// HasBody reports whether the message carries text worth transcribing.
func (m *ConversationMessage) HasBody() bool {
	return m.Body != nil && strings.TrimSpace(*m.Body) != ""
}

// Extractable reports whether the message should trigger extraction:
// inbound, on a channel in the allow-list. Calls, voicemails and emails
// are stored but never extracted.
func (m *ConversationMessage) Extractable(allowed []Channel) bool {
	if m.Direction != DirectionInbound {
		return false
	}
	for _, ch := range allowed {
		if m.Channel == ch {
			return true
		}
	}
	return false
}

// DefaultExtractableChannels is the allow-list applied when the config does
// not override it: text and chat channels only.
func DefaultExtractableChannels() []Channel {
	return []Channel{
		ChannelSMS,
		ChannelLiveChat,
		ChannelFacebook,
		ChannelInstagram,
		ChannelWhatsApp,
		ChannelGMB,
		ChannelCustom,
	}
}
