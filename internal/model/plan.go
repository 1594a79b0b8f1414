package model

// BillingType selects which wallet meter a location's overage is charged on.
type BillingType string

const (
	BillingDirect    BillingType = "direct"     // location bought the app directly
	BillingAgencySub BillingType = "agency_sub" // sub-account under an agency install
)

// LocationPlan holds a location's subscription settings and the business
// context injected into prompts. A missing row falls back to config defaults
// with BillingDirect.
type LocationPlan struct {
	LocationID      string      `json:"location_id"`
	CompanyID       string      `json:"company_id"`
	BillingType     BillingType `json:"billing_type"`
	MonthlyQuota    int         `json:"monthly_quota"` // included extractions per calendar month
	BusinessName    string      `json:"business_name"`
	BusinessContext string      `json:"business_context,omitempty"`
}
