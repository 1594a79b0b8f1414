package model

import "time"

// UsageLogEntry records one extraction attempt. Rows are written in two
// phases: created zeroed with success=false before the LLM call, then
// finalized exactly once with the outcome. A finalized successful entry with
// a charge id implies the source message was marked processed.
type UsageLogEntry struct {
	ID              string     `json:"id"`
	LocationID      string     `json:"location_id"`
	ConversationID  string     `json:"conversation_id"`
	ContactID       *string    `json:"contact_id,omitempty"`
	MessageRecordID string     `json:"message_record_id"`
	Model           string     `json:"model"`
	InputTokens     int        `json:"input_tokens"`
	OutputTokens    int        `json:"output_tokens"`
	CostEstimate    float64    `json:"cost_estimate"`  // provider cost, USD
	CustomerCost    float64    `json:"customer_cost"`  // metered customer cost, USD
	Success         bool       `json:"success"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	ResponseTimeMS  int64      `json:"response_time_ms"`
	ChargeID        *string    `json:"charge_id,omitempty"` // wallet charge id; at most one per entry
	MeterID         *string    `json:"meter_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	FinalizedAt     *time.Time `json:"finalized_at,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (u *UsageLogEntry) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Finalized reports whether the entry reached a terminal state.
func (u *UsageLogEntry) Finalized() bool {
	return u.FinalizedAt != nil
}

// ApplyFinalization mirrors a finalization onto the in-memory entry so
// callers see the same state FinalizeUsageEntry wrote.
func (u *UsageLogEntry) ApplyFinalization(fin UsageFinalization) {
	u.Model = fin.Model
	u.InputTokens = fin.InputTokens
	u.OutputTokens = fin.OutputTokens
	u.CostEstimate = fin.CostEstimate
	u.CustomerCost = fin.CustomerCost
	u.Success = fin.Success
	if fin.ErrorMessage != "" {
		u.ErrorMessage = &fin.ErrorMessage
	}
	u.ResponseTimeMS = fin.ResponseTimeMS
	now := time.Now().UTC()
	u.FinalizedAt = &now
}

// UsageFinalization carries the terminal outcome written onto a pending
// usage-log entry.
type UsageFinalization struct {
	Model          string
	InputTokens    int
	OutputTokens   int
	CostEstimate   float64
	CustomerCost   float64
	Success        bool
	ErrorMessage   string
	ResponseTimeMS int64
}

// MonthlyUsage summarizes a location's extraction volume for one calendar
// month (UTC), used for quota checks and reporting.
type MonthlyUsage struct {
	LocationID   string    `json:"location_id"`
	Month        time.Time `json:"month"` // first instant of the month, UTC
	Attempts     int       `json:"attempts"`
	Successes    int       `json:"successes"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostEstimate float64   `json:"cost_estimate"`
	CustomerCost float64   `json:"customer_cost"`
	Charges      int       `json:"charges"`
}
