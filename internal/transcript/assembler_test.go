package transcript

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func ptr[T any](v T) *T { return &v }

func seedMessage(t *testing.T, s store.Store, conversationID, messageID, body string, dir model.Direction, at time.Time) {
	t.Helper()
	msg := &model.ConversationMessage{
		ConversationID: conversationID,
		LocationID:     "loc-1",
		ContactID:      ptr("contact-1"),
		Direction:      dir,
		Channel:        model.ChannelSMS,
		DateAdded:      at,
	}
	if messageID != "" {
		msg.MessageID = ptr(messageID)
	}
	if body != "" {
		msg.Body = ptr(body)
	}
	_, err := s.CreateMessage(context.Background(), msg)
	require.NoError(t, err)
}

func TestAssemble_OrderingAndRoles(t *testing.T) {
	s := newTestStore(t)
	a := NewAssembler(s)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	// Insert out of order; assembly must come back in event-time order.
	seedMessage(t, s, "conv-1", "m3", "third", model.DirectionInbound, base.Add(2*time.Minute))
	seedMessage(t, s, "conv-1", "m1", "first", model.DirectionInbound, base)
	seedMessage(t, s, "conv-1", "m2", "second", model.DirectionOutbound, base.Add(time.Minute))

	tr, err := a.Assemble(context.Background(), "conv-1", 20)
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptOK, tr.Status)
	require.Len(t, tr.Turns, 3)

	assert.Equal(t, "first", tr.Turns[0].Content)
	assert.Equal(t, "second", tr.Turns[1].Content)
	assert.Equal(t, "third", tr.Turns[2].Content)

	assert.Equal(t, model.RoleUser, tr.Turns[0].Role)
	assert.Equal(t, model.RoleAssistant, tr.Turns[1].Role)
	assert.Equal(t, model.RoleUser, tr.Turns[2].Role)

	assert.Equal(t, "loc-1", tr.LocationID)
	require.NotNil(t, tr.ContactID)
	assert.Equal(t, "contact-1", *tr.ContactID)
	assert.Equal(t, base.Add(2*time.Minute), tr.LatestEventAt)
}

func TestAssemble_BoundsToMostRecent(t *testing.T) {
	s := newTestStore(t)
	a := NewAssembler(s)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		seedMessage(t, s, "conv-1", "", "msg", model.DirectionInbound, base.Add(time.Duration(i)*time.Minute))
	}

	tr, err := a.Assemble(context.Background(), "conv-1", 3)
	require.NoError(t, err)
	// Bounded to the 3 most recent, still oldest-first.
	assert.Len(t, tr.Turns, 3)
	assert.Equal(t, 3, tr.MessageCount)
	assert.Equal(t, base.Add(5*time.Minute), tr.LatestEventAt)
}

func TestAssemble_EmptyConversationIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	a := NewAssembler(s)

	tr, err := a.Assemble(context.Background(), "conv-none", 20)
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptEmpty, tr.Status)
	assert.True(t, tr.Empty())
	assert.Zero(t, tr.MessageCount)
}

func TestAssemble_SkipsBodylessMessages(t *testing.T) {
	s := newTestStore(t)
	a := NewAssembler(s)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	seedMessage(t, s, "conv-1", "m1", "", model.DirectionInbound, base) // call record, no body
	seedMessage(t, s, "conv-1", "m2", "hello", model.DirectionInbound, base.Add(time.Minute))

	tr, err := a.Assemble(context.Background(), "conv-1", 20)
	require.NoError(t, err)
	require.Len(t, tr.Turns, 1)
	assert.Equal(t, "hello", tr.Turns[0].Content)
}

func TestAssemble_ContactIDFromMostRecentCarrier(t *testing.T) {
	s := newTestStore(t)
	a := NewAssembler(s)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	// First message arrives before CRM enrichment assigned a contact.
	early := &model.ConversationMessage{
		ConversationID: "conv-1",
		LocationID:     "loc-1",
		Direction:      model.DirectionInbound,
		Channel:        model.ChannelSMS,
		Body:           ptr("hi"),
		DateAdded:      base,
	}
	_, err := s.CreateMessage(context.Background(), early)
	require.NoError(t, err)
	seedMessage(t, s, "conv-1", "m2", "hi again", model.DirectionInbound, base.Add(time.Minute))

	tr, err := a.Assemble(context.Background(), "conv-1", 20)
	require.NoError(t, err)
	require.NotNil(t, tr.ContactID)
	assert.Equal(t, "contact-1", *tr.ContactID)
}

func TestAssemble_RequiresConversationID(t *testing.T) {
	a := NewAssembler(newTestStore(t))
	_, err := a.Assemble(context.Background(), "", 20)
	require.Error(t, err)
}

func TestNormalizeBody_NFC(t *testing.T) {
	// "é" decomposed (e + combining acute) must normalize to the composed form.
	decomposed := "café"
	assert.Equal(t, "café", normalizeBody(decomposed))
	assert.Equal(t, "hello", normalizeBody("  hello\n"))
}
