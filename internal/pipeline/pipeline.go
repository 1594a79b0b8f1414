// Package pipeline orchestrates the per-message extraction run: token
// freshness, transcript assembly, prompt construction, the billing gate,
// the LLM call, the contact merge, and charge settlement. Stage outcomes
// are independent; a late-stage failure never rolls back earlier writes.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/billing"
	"github.com/sells-group/leadextract/internal/catalog"
	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/extract"
	"github.com/sells-group/leadextract/internal/merge"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/prompt"
	"github.com/sells-group/leadextract/internal/store"
	"github.com/sells-group/leadextract/internal/token"
	"github.com/sells-group/leadextract/internal/transcript"
)

// Pipeline runs the extraction stages for one stored conversation message.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	tokens     *token.Manager
	assembler  *transcript.Assembler
	catalogs   *catalog.Loader
	accountant *billing.Accountant
	invoker    *extract.Invoker
	merger     *merge.Engine
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	tokens *token.Manager,
	assembler *transcript.Assembler,
	catalogs *catalog.Loader,
	accountant *billing.Accountant,
	invoker *extract.Invoker,
	merger *merge.Engine,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		tokens:     tokens,
		assembler:  assembler,
		catalogs:   catalogs,
		accountant: accountant,
		invoker:    invoker,
		merger:     merger,
	}
}

// Process runs the full extraction pipeline for one message record. Failures
// are returned inside the result, never as a bare error: every run produces
// a stage-by-stage account of what happened. Nothing is retried here; a
// caller that wants another attempt re-submits the same message id, which
// the ingest dedup makes safe.
func (p *Pipeline) Process(ctx context.Context, msg *model.ConversationMessage) *model.PipelineResult {
	log := zap.L().With(
		zap.String("message_record_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID),
		zap.String("location_id", msg.LocationID),
	)
	log.Info("pipeline: starting extraction run")

	result := &model.PipelineResult{
		MessageRecordID: msg.ID,
		ConversationID:  msg.ConversationID,
		LocationID:      msg.LocationID,
		ContactID:       msg.ContactID,
	}

	// Stage tracking helper. The first failure sets the run's failure kind;
	// later stages still append their own outcomes.
	runStage := func(stage model.Stage, fn func() (model.FailureKind, error)) bool {
		start := time.Now()
		kind, err := fn()
		sr := model.StageResult{
			Stage:    stage,
			Status:   model.StageComplete,
			Duration: time.Since(start).Milliseconds(),
		}
		if err != nil {
			sr.Status = model.StageFailed
			sr.Kind = kind
			sr.Detail = err.Error()
			if result.Failure == model.FailureNone {
				result.Failure = kind
				result.FailureDetail = err.Error()
			}
			log.Error("pipeline: stage failed",
				zap.String("stage", string(stage)),
				zap.String("kind", string(kind)),
				zap.Int64("duration_ms", sr.Duration),
				zap.Error(err),
			)
		} else {
			log.Info("pipeline: stage complete",
				zap.String("stage", string(stage)),
				zap.Int64("duration_ms", sr.Duration),
			)
		}
		result.Stages = append(result.Stages, sr)
		return err == nil
	}

	skipStage := func(stage model.Stage, detail string) {
		result.Stages = append(result.Stages, model.StageResult{
			Stage:  stage,
			Status: model.StageSkipped,
			Detail: detail,
		})
		log.Info("pipeline: stage skipped",
			zap.String("stage", string(stage)),
			zap.String("detail", detail),
		)
	}

	// ===== Token: every CRM call downstream needs a live access token. =====
	var cred *model.Credential
	if !runStage(model.StageToken, func() (model.FailureKind, error) {
		c, err := p.tokens.EnsureFresh(ctx, msg.LocationID, p.cfg.Token.RefreshThreshold())
		if err != nil {
			return model.FailureTokenRefresh, err
		}
		cred = c
		return model.FailureNone, nil
	}) {
		return result
	}

	// ===== Assemble: bounded transcript, oldest first. =====
	var tr *model.Transcript
	if !runStage(model.StageAssemble, func() (model.FailureKind, error) {
		t, err := p.assembler.Assemble(ctx, msg.ConversationID, p.cfg.Extraction.TranscriptLimit)
		if err != nil {
			return model.FailureStorage, err
		}
		if t.Empty() {
			return model.FailureEmptyTranscript, eris.Errorf("conversation %s has no text to extract", msg.ConversationID)
		}
		tr = t
		return model.FailureNone, nil
	}) {
		return result
	}

	// The transcript may carry a contact id from a newer message than the
	// one that triggered this run.
	if tr.ContactID != nil && *tr.ContactID != "" {
		result.ContactID = tr.ContactID
	}

	// ===== Prompt: per-location catalog rendered into a system document. =====
	var cat *catalog.Catalog
	var doc *prompt.Document
	if !runStage(model.StagePrompt, func() (model.FailureKind, error) {
		c, err := p.catalogs.Load(ctx, msg.LocationID)
		if err != nil {
			return model.FailureStorage, err
		}
		if c.Empty() {
			return model.FailureNoFields, eris.Errorf("location %s has no extraction fields configured", msg.LocationID)
		}
		plan, err := p.store.GetLocationPlan(ctx, msg.LocationID)
		if err != nil {
			// Business context enriches the prompt but is not required.
			log.Warn("pipeline: plan lookup failed, prompting without business context", zap.Error(err))
			plan = nil
		}
		cat = c
		doc = prompt.Build(c, plan)
		return model.FailureNone, nil
	}) {
		return result
	}

	// ===== Billing gate: funds are checked before any LLM spend. =====
	var auth *billing.Authorization
	if !runStage(model.StageBilling, func() (model.FailureKind, error) {
		a, err := p.accountant.Authorize(ctx, msg.LocationID)
		if err != nil {
			if errors.Is(err, billing.ErrPaymentRequired) {
				return model.FailurePaymentRequired, err
			}
			return model.FailureBillingCharge, err
		}
		auth = a
		return model.FailureNone, nil
	}) {
		return result
	}

	// ===== Extract: the LLM call, two-phase usage logged. =====
	var res *extract.Result
	if !runStage(model.StageExtract, func() (model.FailureKind, error) {
		r, err := p.invoker.Invoke(ctx, doc, tr, extract.Attempt{
			LocationID:      msg.LocationID,
			ConversationID:  msg.ConversationID,
			ContactID:       result.ContactID,
			MessageRecordID: msg.ID,
			CustomerCost:    auth.CustomerCost(),
		})
		if r != nil && r.UsageEntry != nil {
			result.UsageLogID = r.UsageEntry.ID
		}
		if err != nil {
			var parseErr *extract.ParseError
			if errors.As(err, &parseErr) {
				return model.FailureLLMParse, err
			}
			return model.FailureLLMCall, err
		}
		res = r
		return model.FailureNone, nil
	}) {
		return result
	}
	result.Extracted = true
	result.Escalate = res.Extraction.Escalate

	// ===== Merge: write extracted values onto the contact. A merge failure
	// does not undo the usage log, and the charge for the LLM spend below
	// still settles. =====
	if result.ContactID == nil || *result.ContactID == "" {
		skipStage(model.StageMerge, "no contact attached to conversation")
	} else {
		runStage(model.StageMerge, func() (model.FailureKind, error) {
			outcome, err := p.merger.Merge(ctx, cred.AccessToken, *result.ContactID, res.Extraction, cat)
			if err != nil {
				return model.FailureContactUpdate, err
			}
			result.UpdatedFields = outcome.UpdatedFields
			result.SkippedFields = outcome.SkippedFields
			result.UnknownKeys = outcome.UnknownKeys
			return model.FailureNone, nil
		})
	}

	// ===== Settle: exactly one charge per billable extraction. =====
	if auth == nil || !auth.Overage {
		skipStage(model.StageSettle, "under quota, no charge due")
	} else {
		runStage(model.StageSettle, func() (model.FailureKind, error) {
			charge, err := p.accountant.Settle(ctx, auth, result.UsageLogID, 1)
			if charge != nil {
				result.ChargeID = charge.ChargeID
			}
			if err != nil {
				return model.FailureBillingCharge, err
			}
			return model.FailureNone, nil
		})
	}

	if result.Failed() {
		log.Warn("pipeline: run finished with failures",
			zap.String("failure", string(result.Failure)),
			zap.String("usage_id", result.UsageLogID),
		)
	} else {
		log.Info("pipeline: run complete",
			zap.String("usage_id", result.UsageLogID),
			zap.Int("updated_fields", len(result.UpdatedFields)),
			zap.Int("skipped_fields", len(result.SkippedFields)),
			zap.Bool("escalate", result.Escalate),
			zap.String("charge_id", result.ChargeID),
		)
	}
	return result
}
