package store

import (
	"context"
	"time"

	"github.com/sells-group/leadextract/internal/model"
)

// Store defines the persistence interface for the extraction service.
type Store interface {
	// Conversation messages
	CreateMessage(ctx context.Context, msg *model.ConversationMessage) (*model.ConversationMessage, error)
	GetMessage(ctx context.Context, id string) (*model.ConversationMessage, error)
	GetMessageByMessageID(ctx context.Context, messageID string) (*model.ConversationMessage, error)
	MarkMessageProcessed(ctx context.Context, id string, procErr string) error
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.ConversationMessage, error)
	ImportMessages(ctx context.Context, msgs []model.ConversationMessage) (int64, error)

	// Usage log (two-phase: create pending, finalize once)
	CreateUsageEntry(ctx context.Context, entry *model.UsageLogEntry) (*model.UsageLogEntry, error)
	FinalizeUsageEntry(ctx context.Context, id string, fin model.UsageFinalization) error
	SetUsageCharge(ctx context.Context, id string, chargeID string, meterID string, customerCost float64) error
	GetUsageEntry(ctx context.Context, id string) (*model.UsageLogEntry, error)
	CountMonthlyUsage(ctx context.Context, locationID string, month time.Time) (int, error)
	MonthlyUsageSummary(ctx context.Context, locationID string, month time.Time) (*model.MonthlyUsage, error)
	ListMonthlyUsage(ctx context.Context, month time.Time) ([]model.MonthlyUsage, error)

	// CRM credentials
	GetCredential(ctx context.Context, accountID string) (*model.Credential, error)
	UpdateCredentialTokens(ctx context.Context, id, prevRefreshToken, accessToken, refreshToken string, expiresAt time.Time) (bool, error)
	ListActiveCredentials(ctx context.Context) ([]model.Credential, error)
	UpsertCredential(ctx context.Context, cred *model.Credential) error

	// Extraction catalog (read-mostly; owned by configuration)
	ListExtractionFields(ctx context.Context, locationID string) ([]model.ExtractionField, error)
	ListContextualRules(ctx context.Context, locationID string) ([]model.ContextualRule, error)
	ListStopTriggers(ctx context.Context, locationID string) ([]model.StopTrigger, error)
	SeedExtractionFields(ctx context.Context, fields []model.ExtractionField) (int64, error)
	SeedContextualRules(ctx context.Context, locationID string, rules []model.ContextualRule) (int64, error)
	SeedStopTriggers(ctx context.Context, locationID string, triggers []model.StopTrigger) (int64, error)

	// Location plans
	GetLocationPlan(ctx context.Context, locationID string) (*model.LocationPlan, error)
	UpsertLocationPlan(ctx context.Context, plan *model.LocationPlan) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
