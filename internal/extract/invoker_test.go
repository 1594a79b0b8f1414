package extract

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/cost"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/prompt"
	"github.com/sells-group/leadextract/internal/store"
	"github.com/sells-group/leadextract/pkg/llm"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) CreateMessage(ctx context.Context, req llm.MessageRequest) (*llm.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.MessageResponse), args.Error(1)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func ptr[T any](v T) *T { return &v }

func testDoc() *prompt.Document {
	return &prompt.Document{
		System: "extract the fields",
		Keys:   []string{"contact.first_name", "plan_interest"},
	}
}

func testTranscript() *model.Transcript {
	return &model.Transcript{
		ConversationID: "conv-1",
		LocationID:     "loc-1",
		ContactID:      ptr("contact-1"),
		Status:         model.TranscriptOK,
		Turns: []model.Turn{
			{Role: model.RoleUser, Content: "hi, I'm Dana"},
			{Role: model.RoleAssistant, Content: "hi Dana, how can we help?"},
			{Role: model.RoleUser, Content: "interested in the premium plan"},
		},
	}
}

func testAttempt() Attempt {
	return Attempt{
		LocationID:      "loc-1",
		ConversationID:  "conv-1",
		ContactID:       ptr("contact-1"),
		MessageRecordID: "rec-1",
	}
}

func testConfig() config.AnthropicConfig {
	return config.AnthropicConfig{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   1024,
		Temperature: 0.1,
	}
}

func TestInvoke_Success(t *testing.T) {
	s := newTestStore(t)
	client := &mockLLM{}
	client.On("CreateMessage", mock.Anything, mock.AnythingOfType("llm.MessageRequest")).
		Return(&llm.MessageResponse{
			Model:   "claude-haiku-4-5-20251001",
			Content: []llm.ContentBlock{{Type: "text", Text: `{"contact.first_name": "Dana", "plan_interest": "premium", "extraction_confidence": 0.85, "notes": "engaged lead"}`}},
			Usage:   llm.TokenUsage{InputTokens: 900, OutputTokens: 60},
		}, nil).Once()

	inv := NewInvoker(s, client, cost.NewCalculator(cost.DefaultRates()), testConfig())
	att := testAttempt()
	att.CustomerCost = 0.03

	res, err := inv.Invoke(context.Background(), testDoc(), testTranscript(), att)
	require.NoError(t, err)
	require.NotNil(t, res.Extraction)

	assert.Equal(t, "Dana", res.Extraction.Fields["contact.first_name"])
	assert.Equal(t, "premium", res.Extraction.Fields["plan_interest"])
	assert.InDelta(t, 0.85, res.Extraction.Confidence, 1e-9)
	assert.Equal(t, "engaged lead", res.Extraction.Notes)
	assert.False(t, res.Extraction.Escalate)

	// The usage entry was finalized exactly once with the outcome.
	entry, err := s.GetUsageEntry(context.Background(), res.UsageEntry.ID)
	require.NoError(t, err)
	assert.True(t, entry.Success)
	assert.True(t, entry.Finalized())
	assert.Equal(t, 900, entry.InputTokens)
	assert.Equal(t, 60, entry.OutputTokens)
	assert.Equal(t, "rec-1", entry.MessageRecordID)
	assert.Greater(t, entry.CostEstimate, 0.0)
	assert.InDelta(t, 0.03, entry.CustomerCost, 1e-9)
	client.AssertExpectations(t)
}

func TestInvoke_LLMFailureFinalizesEntry(t *testing.T) {
	s := newTestStore(t)
	client := &mockLLM{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("overloaded")).Once()

	inv := NewInvoker(s, client, cost.NewCalculator(cost.DefaultRates()), testConfig())

	res, err := inv.Invoke(context.Background(), testDoc(), testTranscript(), testAttempt())
	require.Error(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.UsageEntry)
	assert.Nil(t, res.Extraction)

	entry, gerr := s.GetUsageEntry(context.Background(), res.UsageEntry.ID)
	require.NoError(t, gerr)
	assert.False(t, entry.Success)
	assert.True(t, entry.Finalized())
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "overloaded")
}

func TestInvoke_ParseFailureIsRecordedNotFatal(t *testing.T) {
	s := newTestStore(t)
	client := &mockLLM{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&llm.MessageResponse{
			Model:   "claude-haiku-4-5-20251001",
			Content: []llm.ContentBlock{{Type: "text", Text: "I could not find any fields, sorry!"}},
			Usage:   llm.TokenUsage{InputTokens: 500, OutputTokens: 20},
		}, nil).Once()

	inv := NewInvoker(s, client, cost.NewCalculator(cost.DefaultRates()), testConfig())

	res, err := inv.Invoke(context.Background(), testDoc(), testTranscript(), testAttempt())
	require.Error(t, err)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.NotNil(t, res.UsageEntry)

	// Token counts from the response survive onto the failed entry.
	entry, gerr := s.GetUsageEntry(context.Background(), res.UsageEntry.ID)
	require.NoError(t, gerr)
	assert.False(t, entry.Success)
	assert.True(t, entry.Finalized())
	assert.Equal(t, 500, entry.InputTokens)
	assert.Equal(t, 20, entry.OutputTokens)
	// A failed attempt never records a customer cost.
	assert.Zero(t, entry.CustomerCost)
}

func TestInvoke_FencedResponseParses(t *testing.T) {
	s := newTestStore(t)
	client := &mockLLM{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&llm.MessageResponse{
			Model:   "claude-haiku-4-5-20251001",
			Content: []llm.ContentBlock{{Type: "text", Text: "```json\n{\"plan_interest\": \"basic\", \"extraction_confidence\": 0.7, \"notes\": \"\"}\n```"}},
			Usage:   llm.TokenUsage{InputTokens: 400, OutputTokens: 30},
		}, nil).Once()

	inv := NewInvoker(s, client, cost.NewCalculator(cost.DefaultRates()), testConfig())

	res, err := inv.Invoke(context.Background(), testDoc(), testTranscript(), testAttempt())
	require.NoError(t, err)
	assert.Equal(t, "basic", res.Extraction.Fields["plan_interest"])
}

func TestInvoke_EmptyDocAndTranscriptGuards(t *testing.T) {
	s := newTestStore(t)
	inv := NewInvoker(s, &mockLLM{}, cost.NewCalculator(cost.DefaultRates()), testConfig())

	_, err := inv.Invoke(context.Background(), &prompt.Document{Empty: true}, testTranscript(), testAttempt())
	require.Error(t, err)

	_, err = inv.Invoke(context.Background(), testDoc(), &model.Transcript{Status: model.TranscriptEmpty}, testAttempt())
	require.Error(t, err)
}

func TestToMessages_PrependsUserWhenAssistantLeads(t *testing.T) {
	turns := []model.Turn{
		{Role: model.RoleAssistant, Content: "welcome!"},
		{Role: model.RoleUser, Content: "hi"},
	}
	msgs := toMessages(turns)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)

	msgs = toMessages(testTranscript().Turns)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantFields map[string]any
		wantConf   float64
		wantEsc    bool
		wantErr    bool
	}{
		{
			name:       "plain object",
			raw:        `{"contact.email": "a@b.co", "extraction_confidence": 0.9, "notes": "n"}`,
			wantFields: map[string]any{"contact.email": "a@b.co"},
			wantConf:   0.9,
		},
		{
			name:       "nulls and blanks dropped",
			raw:        `{"contact.email": null, "contact.city": "  ", "plan_interest": "basic", "extraction_confidence": 1, "notes": ""}`,
			wantFields: map[string]any{"plan_interest": "basic"},
			wantConf:   1,
		},
		{
			name:       "escalate lifted",
			raw:        `{"escalate": true, "extraction_confidence": 0.2, "notes": "asked to stop"}`,
			wantFields: map[string]any{},
			wantConf:   0.2,
			wantEsc:    true,
		},
		{
			name:       "prose around the object",
			raw:        "Here is the result:\n{\"plan_interest\": \"basic\", \"extraction_confidence\": 0.5, \"notes\": \"\"}\nHope that helps.",
			wantFields: map[string]any{"plan_interest": "basic"},
			wantConf:   0.5,
		},
		{
			name:    "not json",
			raw:     "no object here",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := parseExtraction(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFields, ext.Fields)
			assert.InDelta(t, tt.wantConf, ext.Confidence, 1e-9)
			assert.Equal(t, tt.wantEsc, ext.Escalate)
			assert.Equal(t, tt.raw, ext.Raw)
		})
	}
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, cleanJSON("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, cleanJSON("```\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, cleanJSON(`text before {"a": 1} text after`))
	assert.Equal(t, `{"a": 1}`, cleanJSON(`{"a": 1}`))
}
