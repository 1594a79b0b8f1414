package model

// Stage names one step of the per-message pipeline.
type Stage string

const (
	StageToken    Stage = "token"
	StageAssemble Stage = "assemble"
	StagePrompt   Stage = "prompt"
	StageBilling  Stage = "billing"
	StageExtract  Stage = "extract"
	StageMerge    Stage = "merge"
	StageSettle   Stage = "settle"
)

// StageStatus represents the outcome of a single stage.
type StageStatus string

const (
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
)

// FailureKind classifies why a pipeline run stopped. Each stage owns its
// kinds, so callers can tell a payment refusal from a parse error without
// string matching.
type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureTokenRefresh    FailureKind = "token_refresh"
	FailureEmptyTranscript FailureKind = "empty_transcript"
	FailureNoFields        FailureKind = "no_fields"
	FailurePaymentRequired FailureKind = "payment_required"
	FailureLLMCall         FailureKind = "llm_call"
	FailureLLMParse        FailureKind = "llm_parse"
	FailureContactUpdate   FailureKind = "contact_update"
	FailureBillingCharge   FailureKind = "billing_charge"
	FailureStorage         FailureKind = "storage"
)

// StageResult holds the outcome of one pipeline stage. Stage statuses are
// independent: a merge failure does not undo the usage log the extract
// stage wrote.
type StageResult struct {
	Stage    Stage       `json:"stage"`
	Status   StageStatus `json:"status"`
	Duration int64       `json:"duration_ms"`
	Kind     FailureKind `json:"kind,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}

// PipelineResult is the full outcome of processing one message.
type PipelineResult struct {
	MessageRecordID string        `json:"message_record_id"`
	ConversationID  string        `json:"conversation_id"`
	LocationID      string        `json:"location_id"`
	ContactID       *string       `json:"contact_id,omitempty"`
	Extracted       bool          `json:"extracted"`
	Escalate        bool          `json:"escalate,omitempty"` // a stop trigger fired; a person should take over
	UpdatedFields   []string      `json:"updated_fields,omitempty"`
	SkippedFields   []FieldSkip   `json:"skipped_fields,omitempty"`
	UnknownKeys     []string      `json:"unknown_keys,omitempty"`
	UsageLogID      string        `json:"usage_log_id,omitempty"`
	ChargeID        string        `json:"charge_id,omitempty"`
	Stages          []StageResult `json:"stages"`
	Failure         FailureKind   `json:"failure,omitempty"`
	FailureDetail   string        `json:"failure_detail,omitempty"`
}

// Failed reports whether the run stopped on a stage failure.
func (r *PipelineResult) Failed() bool {
	return r.Failure != FailureNone
}

// FieldSkip records a field the merge engine declined to write and why.
type FieldSkip struct {
	FieldKey string `json:"field_key"`
	Reason   string `json:"reason"`
}
