// Package webhook ingests CRM conversation events: payload validation,
// duplicate-delivery detection, persistence, and the eligibility decision
// that hands a message to the extraction pipeline.
package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/store"
)

// Payload is the CRM conversation webhook body. Beyond the three required
// fields the shape varies by channel; unknown fields are ignored.
type Payload struct {
	Type           string   `json:"type"`
	LocationID     string   `json:"locationId" validate:"required"`
	ConversationID string   `json:"conversationId" validate:"required"`
	DateAdded      string   `json:"dateAdded" validate:"required"`
	MessageID      string   `json:"messageId"`
	ContactID      string   `json:"contactId"`
	Direction      string   `json:"direction"`
	MessageType    string   `json:"messageType"`
	Body           string   `json:"body"`
	Attachments    []string `json:"attachments"`
}

// ValidationError rejects a payload; the HTTP handler maps it to a 400.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "webhook: invalid payload: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// Result reports what ingestion did with one delivery.
type Result struct {
	RecordID            string                `json:"recordId"`
	MessageID           string                `json:"messageId,omitempty"`
	ConversationID      string                `json:"conversationId"`
	Duplicate           bool                  `json:"duplicate"`
	ExtractionTriggered bool                  `json:"extractionTriggered"`
	Pipeline            *model.PipelineResult `json:"-"`
}

// Runner runs the extraction pipeline for a stored message.
type Runner interface {
	Process(ctx context.Context, msg *model.ConversationMessage) *model.PipelineResult
}

// Ingestor validates, stores and routes webhook deliveries.
type Ingestor struct {
	store    store.Store
	pipeline Runner
	channels []model.Channel
	validate *validator.Validate
}

// NewIngestor creates an Ingestor. The channel allow-list comes from config;
// entries that don't name a known channel are dropped with a warning, and an
// empty list falls back to the default text/chat set.
func NewIngestor(st store.Store, runner Runner, cfg config.ExtractionConfig) *Ingestor {
	channels := make([]model.Channel, 0, len(cfg.Channels))
	for _, raw := range cfg.Channels {
		ch := model.ParseChannel(raw)
		if ch == model.ChannelUnknown {
			zap.L().Warn("webhook: unknown channel in allow-list", zap.String("channel", raw))
			continue
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		channels = model.DefaultExtractableChannels()
	}
	return &Ingestor{
		store:    st,
		pipeline: runner,
		channels: channels,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Ingest handles one webhook delivery end to end. Redelivery of a stored
// message id is a no-op success. Eligible messages run the pipeline inline
// and are marked processed afterward whatever the outcome: failure is
// terminal per message, recorded on the row, never retried here.
func (ing *Ingestor) Ingest(ctx context.Context, p *Payload) (*Result, error) {
	if err := ing.validate.Struct(p); err != nil {
		return nil, &ValidationError{Err: err}
	}
	dateAdded, err := parseEventTime(p.DateAdded)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	if p.MessageID != "" {
		existing, err := ing.store.GetMessageByMessageID(ctx, p.MessageID)
		if err != nil {
			return nil, eris.Wrap(err, "webhook: dedup lookup")
		}
		if existing != nil {
			zap.L().Info("webhook: duplicate delivery",
				zap.String("message_id", p.MessageID),
				zap.String("record_id", existing.ID))
			return &Result{
				RecordID:       existing.ID,
				MessageID:      p.MessageID,
				ConversationID: existing.ConversationID,
				Duplicate:      true,
			}, nil
		}
	}

	msg := &model.ConversationMessage{
		ConversationID: p.ConversationID,
		LocationID:     p.LocationID,
		Direction:      model.Direction(strings.ToLower(strings.TrimSpace(p.Direction))),
		Channel:        model.ParseChannel(p.MessageType),
		DateAdded:      dateAdded,
		Attachments:    p.Attachments,
	}
	if p.MessageID != "" {
		msg.MessageID = &p.MessageID
	}
	if p.ContactID != "" {
		msg.ContactID = &p.ContactID
	}
	if p.Body != "" {
		msg.Body = &p.Body
	}

	stored, err := ing.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, eris.Wrap(err, "webhook: store message")
	}
	if stored == nil {
		// A concurrent delivery won the insert between the dedup read and
		// here. Same answer as the dedup path.
		existing, err := ing.store.GetMessageByMessageID(ctx, p.MessageID)
		if err != nil || existing == nil {
			return nil, eris.Wrap(err, "webhook: reload raced message")
		}
		return &Result{
			RecordID:       existing.ID,
			MessageID:      p.MessageID,
			ConversationID: existing.ConversationID,
			Duplicate:      true,
		}, nil
	}

	res := &Result{
		RecordID:       stored.ID,
		MessageID:      p.MessageID,
		ConversationID: stored.ConversationID,
	}

	if !stored.Extractable(ing.channels) {
		// Calls, voicemails, emails and outbound traffic are stored for the
		// transcript but never extracted.
		if err := ing.store.MarkMessageProcessed(ctx, stored.ID, ""); err != nil {
			zap.L().Warn("webhook: mark ineligible message processed",
				zap.String("record_id", stored.ID),
				zap.Error(err))
		}
		zap.L().Debug("webhook: message stored, not extractable",
			zap.String("record_id", stored.ID),
			zap.String("direction", string(stored.Direction)),
			zap.String("channel", string(stored.Channel)))
		return res, nil
	}

	pr := ing.pipeline.Process(ctx, stored)
	res.Pipeline = pr
	res.ExtractionTriggered = true

	procErr := ""
	if pr.Failed() {
		procErr = fmt.Sprintf("%s: %s", pr.Failure, pr.FailureDetail)
	}
	if err := ing.store.MarkMessageProcessed(ctx, stored.ID, procErr); err != nil {
		zap.L().Error("webhook: mark message processed",
			zap.String("record_id", stored.ID),
			zap.Error(err))
	}
	return res, nil
}

// parseEventTime reads the CRM's event timestamp. The platform sends
// RFC 3339, with and without sub-second precision.
func parseEventTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse dateAdded %q", raw)
	}
	return t.UTC(), nil
}
