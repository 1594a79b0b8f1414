// Package extract calls the LLM with an assembled transcript and a rendered
// instruction document, parses the strict-JSON answer, and records every
// attempt to the usage log.
package extract

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/cost"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/prompt"
	"github.com/sells-group/leadextract/internal/store"
	"github.com/sells-group/leadextract/pkg/llm"
)

// Attempt identifies the message being extracted, for the usage log.
// CustomerCost is the metered price of this attempt when it is an overage,
// zero when the location is under quota.
type Attempt struct {
	LocationID      string
	ConversationID  string
	ContactID       *string
	MessageRecordID string
	CustomerCost    float64
}

// Result carries the parsed extraction together with its usage-log entry.
type Result struct {
	Extraction *model.Extraction
	UsageEntry *model.UsageLogEntry
}

// ParseError marks an LLM response that could not be read as the required
// JSON object. The API call itself succeeded and was billed; callers that
// distinguish model trouble from transport trouble match on this type.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "extract: parse response: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// Invoker runs one extraction attempt against the LLM with two-phase usage
// logging: the entry is created zeroed before the call and finalized exactly
// once on every exit path.
type Invoker struct {
	store store.Store
	llm   llm.Client
	rates *cost.Calculator
	cfg   config.AnthropicConfig
}

// NewInvoker creates an Invoker.
func NewInvoker(st store.Store, client llm.Client, rates *cost.Calculator, cfg config.AnthropicConfig) *Invoker {
	return &Invoker{store: st, llm: client, rates: rates, cfg: cfg}
}

// Invoke performs one extraction attempt. On failure after the pending usage
// entry was created, the returned Result still carries that entry (finalized
// with the error) alongside the non-nil error, so callers can report against
// it. A non-nil Result does not mean success.
func (inv *Invoker) Invoke(ctx context.Context, doc *prompt.Document, tr *model.Transcript, att Attempt) (*Result, error) {
	if doc == nil || doc.Empty {
		return nil, eris.New("extract: no fields configured")
	}
	if tr.Empty() {
		return nil, eris.New("extract: empty transcript")
	}

	entry, err := inv.store.CreateUsageEntry(ctx, &model.UsageLogEntry{
		LocationID:      att.LocationID,
		ConversationID:  att.ConversationID,
		ContactID:       att.ContactID,
		MessageRecordID: att.MessageRecordID,
		Model:           inv.cfg.Model,
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: create usage entry")
	}
	res := &Result{UsageEntry: entry}

	fin := model.UsageFinalization{Model: inv.cfg.Model}
	finalized := false
	finalize := func() {
		if finalized {
			return
		}
		finalized = true
		if ferr := inv.store.FinalizeUsageEntry(ctx, entry.ID, fin); ferr != nil {
			zap.L().Error("extract: finalize usage entry",
				zap.String("usage_id", entry.ID),
				zap.Error(ferr),
			)
			return
		}
		entry.ApplyFinalization(fin)
	}
	// Runs on panic too, leaving an auditable failed attempt.
	defer finalize()

	temp := inv.cfg.Temperature
	req := llm.MessageRequest{
		Model:       inv.cfg.Model,
		MaxTokens:   int64(inv.cfg.MaxTokens),
		System:      []llm.SystemBlock{{Text: doc.System}},
		Messages:    toMessages(tr.Turns),
		Temperature: &temp,
	}

	start := time.Now()
	resp, err := inv.llm.CreateMessage(ctx, req)
	fin.ResponseTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		fin.ErrorMessage = err.Error()
		finalize()
		return res, eris.Wrap(err, "extract: create message")
	}

	fin.Model = resp.Model
	fin.InputTokens = int(resp.Usage.InputTokens)
	fin.OutputTokens = int(resp.Usage.OutputTokens)
	fin.CostEstimate = inv.rates.Claude(resp.Model,
		int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens),
		int(resp.Usage.CacheCreationInputTokens), int(resp.Usage.CacheReadInputTokens))

	ext, perr := parseExtraction(extractText(resp))
	if perr != nil {
		fin.ErrorMessage = perr.Error()
		finalize()
		return res, &ParseError{Err: perr}
	}

	fin.Success = true
	fin.CustomerCost = att.CustomerCost
	finalize()

	zap.L().Info("extract: attempt complete",
		zap.String("usage_id", entry.ID),
		zap.String("location_id", att.LocationID),
		zap.String("conversation_id", att.ConversationID),
		zap.String("model", fin.Model),
		zap.Int("input_tokens", fin.InputTokens),
		zap.Int("output_tokens", fin.OutputTokens),
		zap.Int("fields", len(ext.Fields)),
		zap.Bool("escalate", ext.Escalate),
		zap.Int64("ms", fin.ResponseTimeMS),
	)

	res.Extraction = ext
	return res, nil
}

// toMessages converts transcript turns to LLM messages. The messages API
// requires the first turn to carry the user role; a conversation opened by
// the business starts with assistant, so a marker turn is prepended.
func toMessages(turns []model.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns)+1)
	if len(turns) > 0 && turns[0].Role == model.RoleAssistant {
		msgs = append(msgs, llm.Message{Role: "user", Content: "(transcript begins mid-conversation)"})
	}
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}

// parseExtraction parses the model's strict-JSON answer. Bookkeeping keys
// are lifted onto the Extraction; remaining keys with non-null, non-blank
// values become Fields. Null means the model found nothing for that key.
func parseExtraction(raw string) (*model.Extraction, error) {
	cleaned := cleanJSON(raw)

	var m map[string]any
	if err := json.Unmarshal([]byte(cleaned), &m); err != nil {
		return nil, eris.Wrap(err, "parse extraction json")
	}

	ext := &model.Extraction{Fields: make(map[string]any), Raw: raw}
	for k, v := range m {
		switch k {
		case "extraction_confidence":
			if f, ok := toFloat64(v); ok {
				ext.Confidence = f
			}
		case "notes":
			if s, ok := v.(string); ok {
				ext.Notes = s
			}
		case "escalate":
			if b, ok := v.(bool); ok {
				ext.Escalate = b
			}
		default:
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				continue
			}
			ext.Fields[k] = v
		}
	}
	return ext, nil
}

// extractText concatenates the text blocks of a response.
func extractText(resp *llm.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "" || b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// toFloat64 attempts to convert an any value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
