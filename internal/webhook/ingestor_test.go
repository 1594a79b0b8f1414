package webhook

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/store"
)

// stubRunner records the messages handed to it and answers with a canned
// result per call.
type stubRunner struct {
	calls   []*model.ConversationMessage
	results []*model.PipelineResult
}

func (s *stubRunner) Process(_ context.Context, msg *model.ConversationMessage) *model.PipelineResult {
	s.calls = append(s.calls, msg)
	if len(s.results) == 0 {
		return &model.PipelineResult{
			MessageRecordID: msg.ID,
			ConversationID:  msg.ConversationID,
			LocationID:      msg.LocationID,
			Extracted:       true,
		}
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testExtractionCfg() config.ExtractionConfig {
	return config.ExtractionConfig{
		Channels:        []string{"sms", "live_chat"},
		TranscriptLimit: 20,
		AuditLimit:      50,
	}
}

func smsPayload() *Payload {
	return &Payload{
		Type:           "InboundMessage",
		LocationID:     "loc-1",
		ConversationID: "conv-1",
		DateAdded:      "2026-03-02T15:04:05Z",
		MessageID:      "msg-1",
		ContactID:      "contact-9",
		Direction:      "inbound",
		MessageType:    "SMS",
		Body:           "My roof is leaking, can someone come out?",
	}
}

func TestIngest_StoresAndRunsPipeline(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{}
	ing := NewIngestor(st, runner, testExtractionCfg())

	res, err := ing.Ingest(context.Background(), smsPayload())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Duplicate)
	assert.True(t, res.ExtractionTriggered)
	assert.Equal(t, "conv-1", res.ConversationID)
	assert.NotEmpty(t, res.RecordID)
	require.NotNil(t, res.Pipeline)
	assert.True(t, res.Pipeline.Extracted)

	require.Len(t, runner.calls, 1)
	got := runner.calls[0]
	assert.Equal(t, "loc-1", got.LocationID)
	assert.Equal(t, model.ChannelSMS, got.Channel)
	require.NotNil(t, got.ContactID)
	assert.Equal(t, "contact-9", *got.ContactID)

	stored, err := st.GetMessage(context.Background(), res.RecordID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Processed)
	assert.Nil(t, stored.ProcessingError)
	require.NotNil(t, stored.ProcessedAt)
}

func TestIngest_MissingRequiredFieldRejected(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{}
	ing := NewIngestor(st, runner, testExtractionCfg())

	p := smsPayload()
	p.ConversationID = ""

	res, err := ing.Ingest(context.Background(), p)
	require.Error(t, err)
	assert.Nil(t, res)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "invalid payload")
	assert.Empty(t, runner.calls)
}

func TestIngest_BadTimestampRejected(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{}
	ing := NewIngestor(st, runner, testExtractionCfg())

	p := smsPayload()
	p.DateAdded = "last tuesday"

	res, err := ing.Ingest(context.Background(), p)
	require.Error(t, err)
	assert.Nil(t, res)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, runner.calls)
}

func TestIngest_RedeliveryIsNoOp(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{}
	ing := NewIngestor(st, runner, testExtractionCfg())

	first, err := ing.Ingest(context.Background(), smsPayload())
	require.NoError(t, err)

	second, err := ing.Ingest(context.Background(), smsPayload())
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.False(t, second.ExtractionTriggered)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Len(t, runner.calls, 1)

	msgs, err := st.ListRecentMessages(context.Background(), "conv-1", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestIngest_OutboundStoredNotExtracted(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{}
	ing := NewIngestor(st, runner, testExtractionCfg())

	p := smsPayload()
	p.Direction = "outbound"
	p.Body = "Thanks, we will send a technician tomorrow."

	res, err := ing.Ingest(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.ExtractionTriggered)
	assert.Nil(t, res.Pipeline)
	assert.Empty(t, runner.calls)

	stored, err := st.GetMessage(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Nil(t, stored.ProcessingError)
}

func TestIngest_CallChannelStoredNotExtracted(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{}
	ing := NewIngestor(st, runner, testExtractionCfg())

	p := smsPayload()
	p.MessageType = "CALL"
	p.Body = ""

	res, err := ing.Ingest(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.ExtractionTriggered)
	assert.Empty(t, runner.calls)

	stored, err := st.GetMessage(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelCall, stored.Channel)
	assert.True(t, stored.Processed)
}

func TestIngest_PipelineFailureRecordedOnMessage(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{
		results: []*model.PipelineResult{{
			Failure:       model.FailureLLMCall,
			FailureDetail: "extract: create message: overloaded",
		}},
	}
	ing := NewIngestor(st, runner, testExtractionCfg())

	res, err := ing.Ingest(context.Background(), smsPayload())
	require.NoError(t, err)
	assert.True(t, res.ExtractionTriggered)

	stored, err := st.GetMessage(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	require.NotNil(t, stored.ProcessingError)
	assert.Equal(t, "llm_call: extract: create message: overloaded", *stored.ProcessingError)
}

func TestIngest_UnknownChannelConfigFallsBackToDefaults(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{}
	cfg := config.ExtractionConfig{Channels: []string{"pigeon", "smoke_signal"}}
	ing := NewIngestor(st, runner, cfg)

	res, err := ing.Ingest(context.Background(), smsPayload())
	require.NoError(t, err)
	assert.True(t, res.ExtractionTriggered, "sms is in the default allow-list")
	assert.Len(t, runner.calls, 1)
}

func TestIngest_MessageWithoutIDStillStored(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{}
	ing := NewIngestor(st, runner, testExtractionCfg())

	p := smsPayload()
	p.MessageID = ""

	res, err := ing.Ingest(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.RecordID)
	assert.Len(t, runner.calls, 1)

	stored, err := st.GetMessage(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Nil(t, stored.MessageID)
}

func TestIngest_TimestampNormalizedToUTC(t *testing.T) {
	st := newTestStore(t)
	runner := &stubRunner{}
	ing := NewIngestor(st, runner, testExtractionCfg())

	p := smsPayload()
	p.DateAdded = "2026-03-02T10:04:05-05:00"

	res, err := ing.Ingest(context.Background(), p)
	require.NoError(t, err)

	stored, err := st.GetMessage(context.Background(), res.RecordID)
	require.NoError(t, err)
	want := time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, want, stored.DateAdded.UTC())
}
