// Package billing decides whether an extraction attempt is covered by the
// location's monthly quota, gates overage attempts on wallet funds, and
// settles the metered charge after a billable extraction succeeds.
package billing

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/resilience"
	"github.com/sells-group/leadextract/internal/store"
	"github.com/sells-group/leadextract/pkg/wallet"
)

// ErrPaymentRequired aborts an overage attempt whose billing entity has no
// wallet funds. It fires before any LLM spend.
var ErrPaymentRequired = eris.New("billing: insufficient wallet funds")

// Authorization is the billing decision for one extraction attempt, made
// before the LLM call and consumed again at settlement.
type Authorization struct {
	LocationID  string            `json:"location_id"`
	CompanyID   string            `json:"company_id,omitempty"`
	BillingType model.BillingType `json:"billing_type"`
	Overage     bool              `json:"overage"`
	MeterID     string            `json:"meter_id,omitempty"`
	UnitPrice   float64           `json:"unit_price"`
	UsageCount  int               `json:"usage_count"`
	Quota       int               `json:"quota"`
}

// CustomerCost returns what the customer owes for this attempt.
func (a *Authorization) CustomerCost() float64 {
	if a.Overage {
		return a.UnitPrice
	}
	return 0
}

// Charge is the settled wallet charge for one usage-log entry.
type Charge struct {
	ChargeID     string  `json:"charge_id"`
	MeterID      string  `json:"meter_id"`
	Units        float64 `json:"units"`
	CustomerCost float64 `json:"customer_cost"`
}

// Accountant tracks monthly volume against plan quotas and posts metered
// overage charges. The wallet has-funds check runs behind a circuit breaker
// so a wallet outage degrades to log-and-proceed instead of stalling every
// overage message.
type Accountant struct {
	store   store.Store
	wallet  wallet.Client
	breaker *resilience.CircuitBreaker
	cfg     config.BillingConfig
	wcfg    config.WalletConfig
}

// NewAccountant creates a billing accountant.
func NewAccountant(st store.Store, w wallet.Client, cfg config.BillingConfig, wcfg config.WalletConfig) *Accountant {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: wcfg.BreakerFailures,
		ResetTimeout:     wcfg.BreakerReset(),
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("wallet breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Accountant{store: st, wallet: w, breaker: breaker, cfg: cfg, wcfg: wcfg}
}

// Authorize decides whether the next extraction for locationID may proceed
// and on what terms. Under quota the attempt is free. Over quota it becomes
// a metered overage: the billing entity's wallet must have funds, checked
// before any LLM spend; hasFunds=false returns ErrPaymentRequired. A failed
// quota or funds check (store trouble, wallet unreachable, breaker open,
// wallet unknown) is logged and the attempt proceeds: billing trouble must
// not block extraction.
func (a *Accountant) Authorize(ctx context.Context, locationID string) (*Authorization, error) {
	plan, err := a.store.GetLocationPlan(ctx, locationID)
	if err != nil {
		zap.L().Warn("plan lookup failed, using defaults",
			zap.String("location_id", locationID),
			zap.Error(err))
		plan = nil
	}

	auth := &Authorization{
		LocationID:  locationID,
		BillingType: model.BillingDirect,
		Quota:       a.cfg.DefaultMonthlyQuota,
	}
	if plan != nil {
		auth.CompanyID = plan.CompanyID
		auth.BillingType = plan.BillingType
		if plan.MonthlyQuota > 0 {
			auth.Quota = plan.MonthlyQuota
		}
	}

	count, err := a.store.CountMonthlyUsage(ctx, locationID, time.Now().UTC())
	if err != nil {
		zap.L().Warn("monthly usage count failed, treating as under quota",
			zap.String("location_id", locationID),
			zap.Error(err))
		return auth, nil
	}
	auth.UsageCount = count
	if count < auth.Quota {
		return auth, nil
	}

	auth.Overage = true
	switch auth.BillingType {
	case model.BillingAgencySub:
		auth.MeterID = a.wcfg.AgencyMeterID
		auth.UnitPrice = a.cfg.AgencyUnitPrice
	default:
		auth.MeterID = a.wcfg.DirectMeterID
		auth.UnitPrice = a.cfg.DirectUnitPrice
	}

	if auth.CompanyID == "" {
		zap.L().Warn("overage with no company on plan, skipping funds check",
			zap.String("location_id", locationID))
		return auth, nil
	}

	hasFunds, err := resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (bool, error) {
		return a.wallet.HasFunds(ctx, auth.CompanyID)
	})
	if err != nil {
		zap.L().Warn("wallet has-funds check failed, proceeding",
			zap.String("location_id", locationID),
			zap.String("company_id", auth.CompanyID),
			zap.Error(err))
		return auth, nil
	}
	if !hasFunds {
		zap.L().Info("overage blocked: wallet has no funds",
			zap.String("location_id", locationID),
			zap.String("company_id", auth.CompanyID),
			zap.Int("usage_count", count),
			zap.Int("quota", auth.Quota))
		return nil, ErrPaymentRequired
	}

	zap.L().Info("overage authorized",
		zap.String("location_id", locationID),
		zap.String("meter_id", auth.MeterID),
		zap.Int("usage_count", count),
		zap.Int("quota", auth.Quota))
	return auth, nil
}

// Settle posts the metered wallet charge for a billable extraction and
// records the charge id and customer cost on the usage-log entry. The
// usage-log id doubles as the wallet event id, so a replay of the same entry
// cannot double-charge. Under-quota authorizations settle to nothing.
//
// When the charge posts but recording it fails, the Charge is returned
// alongside the error so the caller can log the orphaned charge id. Settle
// errors are recorded, never retried.
func (a *Accountant) Settle(ctx context.Context, auth *Authorization, usageLogID string, units float64) (*Charge, error) {
	if auth == nil || !auth.Overage {
		return nil, nil
	}

	resp, err := a.wallet.CreateCharge(ctx, wallet.ChargeRequest{
		AppID:       a.wcfg.AppID,
		MeterID:     auth.MeterID,
		EventID:     usageLogID,
		LocationID:  auth.LocationID,
		CompanyID:   auth.CompanyID,
		Units:       units,
		Description: "Conversation extraction overage",
		EventTime:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "billing: charge usage %s", usageLogID)
	}

	charge := &Charge{
		ChargeID:     resp.ChargeID,
		MeterID:      auth.MeterID,
		Units:        units,
		CustomerCost: auth.UnitPrice * units,
	}
	if err := a.store.SetUsageCharge(ctx, usageLogID, charge.ChargeID, charge.MeterID, charge.CustomerCost); err != nil {
		return charge, eris.Wrapf(err, "billing: record charge %s for usage %s", charge.ChargeID, usageLogID)
	}

	zap.L().Info("posted wallet charge",
		zap.String("usage_id", usageLogID),
		zap.String("charge_id", charge.ChargeID),
		zap.String("meter_id", charge.MeterID),
		zap.Float64("customer_cost", charge.CustomerCost))
	return charge, nil
}
