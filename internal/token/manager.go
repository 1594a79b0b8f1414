// Package token manages the stored CRM OAuth credentials: the on-demand
// freshness check used by the extraction path and the scheduled sweep that
// rotates every token approaching expiry.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/resilience"
	"github.com/sells-group/leadextract/internal/store"
	"github.com/sells-group/leadextract/pkg/highlevel"
)

// Manager refreshes stored OAuth credentials against the CRM token endpoint.
type Manager struct {
	store store.Store
	crm   highlevel.Client
	cfg   config.TokenConfig
}

// NewManager creates a credential lifecycle manager.
func NewManager(st store.Store, crm highlevel.Client, cfg config.TokenConfig) *Manager {
	return &Manager{store: st, crm: crm, cfg: cfg}
}

// EnsureFresh returns a credential for accountID whose access token stays
// valid beyond threshold, refreshing it first when it does not. A missing or
// placeholder credential is an error, and so is a failed refresh: the caller
// cannot authenticate without a live token.
func (m *Manager) EnsureFresh(ctx context.Context, accountID string, threshold time.Duration) (*model.Credential, error) {
	cred, err := m.store.GetCredential(ctx, accountID)
	if err != nil {
		return nil, eris.Wrapf(err, "token: load credential %s", accountID)
	}
	if cred == nil {
		return nil, eris.Errorf("token: no credential for account %s", accountID)
	}
	if cred.Placeholder() {
		return nil, eris.Errorf("token: credential for account %s has no usable token pair", accountID)
	}
	if !cred.NeedsRefresh(time.Now().UTC(), threshold) {
		return cred, nil
	}
	return m.refresh(ctx, cred)
}

// refresh exchanges the credential's refresh token for a new pair and
// persists it. The update is a compare-and-set on the previous refresh
// token; losing that race means another refresher already rotated the pair,
// so the winner's row is reloaded and returned.
func (m *Manager) refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	tok, err := m.crm.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		return nil, eris.Wrapf(err, "token: refresh account %s", cred.AccountID)
	}

	expiresAt := time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second)
	won, err := m.store.UpdateCredentialTokens(ctx, cred.ID, cred.RefreshToken, tok.AccessToken, tok.RefreshToken, expiresAt)
	if err != nil {
		return nil, eris.Wrapf(err, "token: persist tokens for account %s", cred.AccountID)
	}
	if !won {
		winner, err := m.store.GetCredential(ctx, cred.AccountID)
		if err != nil {
			return nil, eris.Wrapf(err, "token: reload credential %s", cred.AccountID)
		}
		if winner == nil {
			return nil, eris.Errorf("token: credential for account %s vanished during refresh", cred.AccountID)
		}
		zap.L().Info("lost token refresh race, using winner's pair",
			zap.String("account_id", cred.AccountID),
			zap.Time("expires_at", winner.ExpiresAt))
		return winner, nil
	}

	cred.AccessToken = tok.AccessToken
	cred.RefreshToken = tok.RefreshToken
	cred.ExpiresAt = expiresAt
	zap.L().Info("refreshed credential",
		zap.String("account_id", cred.AccountID),
		zap.String("scope", string(cred.Scope)),
		zap.Time("expires_at", expiresAt))
	return cred, nil
}

// SweepFailure records one account the sweep could not refresh.
type SweepFailure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

// SweepReport summarizes one sweep pass over the stored credentials.
type SweepReport struct {
	Checked   int            `json:"checked"`
	Refreshed int            `json:"refreshed"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Failures  []SweepFailure `json:"failures,omitempty"`
}

// Sweep refreshes every active credential inside the sweep window. Accounts
// are processed concurrently under a bounded worker count; a failed refresh
// is recorded in the report and does not stop the sweep. Transient token
// endpoint trouble is retried, grant rejections are not.
func (m *Manager) Sweep(ctx context.Context) (*SweepReport, error) {
	creds, err := m.store.ListActiveCredentials(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "token: list credentials")
	}

	now := time.Now().UTC()
	report := &SweepReport{Checked: len(creds)}

	var due []model.Credential
	for _, c := range creds {
		if !c.NeedsRefresh(now, m.cfg.SweepThreshold()) {
			report.Skipped++
			continue
		}
		due = append(due, c)
	}
	if len(due) == 0 {
		zap.L().Info("token sweep found nothing to refresh", zap.Int("checked", report.Checked))
		return report, nil
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = m.cfg.SweepRetries
	retryCfg.ShouldRetry = retryableRefresh
	retryCfg.OnRetry = resilience.RetryLogger("highlevel", "refresh_token")

	// Workers record failures instead of returning them so one bad account
	// never aborts the rest of the sweep.
	errs := make([]error, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.cfg.SweepConcurrency, 1))
	for i := range due {
		g.Go(func() error {
			cred := due[i]
			_, err := resilience.DoVal(gctx, retryCfg, func(ctx context.Context) (*model.Credential, error) {
				return m.refresh(ctx, &cred)
			})
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, SweepFailure{AccountID: due[i].AccountID, Error: err.Error()})
			zap.L().Warn("sweep could not refresh credential",
				zap.String("account_id", due[i].AccountID),
				zap.Error(err))
			continue
		}
		report.Refreshed++
	}

	zap.L().Info("token sweep complete",
		zap.Int("checked", report.Checked),
		zap.Int("refreshed", report.Refreshed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

// retryableRefresh retries network trouble and 429/5xx responses from the
// token endpoint. Other 4xx responses mean the grant itself was rejected;
// retrying cannot fix those.
func retryableRefresh(err error) bool {
	var apiErr *highlevel.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}
