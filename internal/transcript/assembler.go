// Package transcript assembles bounded, time-ordered conversation
// transcripts from the message store for LLM extraction and audit views.
package transcript

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/store"
)

// DefaultExtractionLimit bounds the transcript handed to the LLM.
const DefaultExtractionLimit = 20

// DefaultAuditLimit bounds the transcript returned on the audit endpoint.
const DefaultAuditLimit = 50

// Assembler reads the conversation log and produces chat-shaped transcripts.
type Assembler struct {
	store store.Store
}

// NewAssembler creates an Assembler over the given store.
func NewAssembler(st store.Store) *Assembler {
	return &Assembler{store: st}
}

// Assemble returns the most recent limit text-bearing messages of the
// conversation, oldest first, mapped to chat roles. An empty conversation is
// not an error: the transcript comes back with Status set to TranscriptEmpty
// so callers can short-circuit.
func (a *Assembler) Assemble(ctx context.Context, conversationID string, limit int) (*model.Transcript, error) {
	if conversationID == "" {
		return nil, eris.New("transcript: conversation id required")
	}
	if limit <= 0 {
		limit = DefaultExtractionLimit
	}

	msgs, err := a.store.ListRecentMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "transcript: load conversation %s", conversationID)
	}

	t := &model.Transcript{
		ConversationID: conversationID,
		Status:         model.TranscriptOK,
		MessageCount:   len(msgs),
	}

	if len(msgs) == 0 {
		t.Status = model.TranscriptEmpty
		zap.L().Debug("transcript: no text-bearing messages",
			zap.String("conversation_id", conversationID))
		return t, nil
	}

	t.Turns = make([]model.Turn, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if !m.HasBody() {
			continue
		}
		t.Turns = append(t.Turns, model.Turn{
			Role:    m.Role(),
			Content: normalizeBody(*m.Body),
		})

		// The newest message carrying each id wins; rows are already in
		// ascending event order so later iterations overwrite.
		if m.LocationID != "" {
			t.LocationID = m.LocationID
		}
		if m.ContactID != nil && *m.ContactID != "" {
			t.ContactID = m.ContactID
		}
		if m.DateAdded.After(t.LatestEventAt) {
			t.LatestEventAt = m.DateAdded
		}
	}

	if len(t.Turns) == 0 {
		t.Status = model.TranscriptEmpty
	}
	return t, nil
}

// normalizeBody NFC-normalizes and trims a message body so composed and
// decomposed spellings of the same text prompt identically.
func normalizeBody(body string) string {
	return strings.TrimSpace(norm.NFC.String(body))
}
