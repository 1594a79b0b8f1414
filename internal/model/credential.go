package model

import "time"

// TokenScope is what a CRM OAuth credential is issued for.
type TokenScope string

const (
	TokenScopeLocation TokenScope = "location"
	TokenScopeCompany  TokenScope = "company"
)

// Credential is a stored CRM OAuth token pair for one account. Refresh
// replaces both tokens; updates are guarded by a compare-and-set on the
// previous refresh token so concurrent refreshers cannot clobber each other.
type Credential struct {
	ID           string     `json:"id"`
	ConfigID     string     `json:"config_id"`  // marketplace app install this token belongs to
	AccountID    string     `json:"account_id"` // location or company id per Scope
	Scope        TokenScope `json:"scope"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HoursUntilExpiry returns the signed hour distance to expiry; negative
// means already expired.
func (c *Credential) HoursUntilExpiry(now time.Time) float64 {
	return c.ExpiresAt.Sub(now).Hours()
}

// NeedsRefresh reports whether the token is inside the refresh window.
// The billing path uses a 1h threshold, the nightly sweep 24h.
func (c *Credential) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return c.ExpiresAt.Sub(now) <= threshold
}

// Placeholder reports whether the row was seeded without a usable token
// pair. Placeholders are skipped by the sweep and fail the billing path.
func (c *Credential) Placeholder() bool {
	return c.AccessToken == "" || c.RefreshToken == ""
}
