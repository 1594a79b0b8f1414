package model

import "time"

// Role is a chat role in an assembled transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one transcript entry ready for the LLM.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TranscriptStatus describes what the assembler found.
type TranscriptStatus string

const (
	TranscriptOK    TranscriptStatus = "ok"
	TranscriptEmpty TranscriptStatus = "empty" // no text-bearing messages; not an error
)

// Transcript is the bounded, time-ordered view of a conversation. Location
// and contact ids come from the most recent message that carried them.
type Transcript struct {
	ConversationID string           `json:"conversation_id"`
	LocationID     string           `json:"location_id"`
	ContactID      *string          `json:"contact_id,omitempty"`
	Turns          []Turn           `json:"turns"`
	Status         TranscriptStatus `json:"status"`
	MessageCount   int              `json:"message_count"` // text-bearing messages in the bounded window
	LatestEventAt  time.Time        `json:"latest_event_at"`
}

// Empty reports whether there is nothing to extract from.
func (t *Transcript) Empty() bool {
	return len(t.Turns) == 0
}
