package model

// Extraction is the parsed strict-JSON answer from the LLM. Field values are
// keyed by catalog field_key; absent values arrive as JSON null and are
// dropped during parsing, so Fields only holds values the model committed to.
type Extraction struct {
	Fields     map[string]any `json:"fields"`
	Confidence float64        `json:"extraction_confidence"`
	Notes      string         `json:"notes,omitempty"`
	Escalate   bool           `json:"escalate,omitempty"` // a stop trigger fired
	Raw        string         `json:"-"`                  // raw model text, kept for audit logging
}

// MergeOutcome reports what the merge engine did with an extraction.
type MergeOutcome struct {
	ContactID     string      `json:"contact_id"`
	UpdatedFields []string    `json:"updated_fields,omitempty"`
	SkippedFields []FieldSkip `json:"skipped_fields,omitempty"`
	UnknownKeys   []string    `json:"unknown_keys,omitempty"`
	SentPayload   bool        `json:"sent_payload"` // false when nothing survived policy checks
}

// Changed reports whether any contact write went out.
func (o *MergeOutcome) Changed() bool {
	return o.SentPayload && len(o.UpdatedFields) > 0
}
