package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/billing"
	"github.com/sells-group/leadextract/internal/catalog"
	"github.com/sells-group/leadextract/internal/cost"
	"github.com/sells-group/leadextract/internal/extract"
	"github.com/sells-group/leadextract/internal/merge"
	"github.com/sells-group/leadextract/internal/pipeline"
	"github.com/sells-group/leadextract/internal/store"
	"github.com/sells-group/leadextract/internal/token"
	"github.com/sells-group/leadextract/internal/transcript"
	"github.com/sells-group/leadextract/internal/webhook"
	"github.com/sells-group/leadextract/pkg/highlevel"
	"github.com/sells-group/leadextract/pkg/llm"
	"github.com/sells-group/leadextract/pkg/wallet"
)

// serviceEnv holds the initialized store, API clients, and the pipeline
// needed by the serve command.
type serviceEnv struct {
	Store    store.Store
	CRM      highlevel.Client
	Wallet   wallet.Client
	LLM      llm.Client
	Tokens   *token.Manager
	Pipeline *pipeline.Pipeline
	Ingestor *webhook.Ingestor
}

// Close releases resources held by the service environment.
func (se *serviceEnv) Close() {
	if se.Store != nil {
		_ = se.Store.Close()
	}
}

// initService sets up the store, CRM, wallet and LLM clients, and builds the
// extraction pipeline. Callers should defer env.Close().
func initService(ctx context.Context) (*serviceEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	crm := newCRMClient()
	tokens := token.NewManager(st, crm, cfg.Token)

	if cfg.Wallet.Key == "" {
		zap.L().Warn("wallet key not set, has-funds checks and charges will fail and be logged")
	}
	walletClient := wallet.NewClient(cfg.Wallet.Key, wallet.WithBaseURL(cfg.Wallet.BaseURL))

	llmClient := llm.NewClient(cfg.Anthropic.Key)
	calc := cost.NewCalculator(cost.DefaultRates().Merge(cfg.Pricing.Anthropic))

	pipe := pipeline.New(cfg, st,
		tokens,
		transcript.NewAssembler(st),
		catalog.NewLoader(st),
		billing.NewAccountant(st, walletClient, cfg.Billing, cfg.Wallet),
		extract.NewInvoker(st, llmClient, calc, cfg.Anthropic),
		merge.NewEngine(crm),
	)

	return &serviceEnv{
		Store:    st,
		CRM:      crm,
		Wallet:   walletClient,
		LLM:      llmClient,
		Tokens:   tokens,
		Pipeline: pipe,
		Ingestor: webhook.NewIngestor(st, pipe, cfg.Extraction),
	}, nil
}

func newCRMClient() highlevel.Client {
	return highlevel.NewClient(cfg.HighLevel.ClientID, cfg.HighLevel.ClientSecret,
		highlevel.WithBaseURL(cfg.HighLevel.BaseURL),
		highlevel.WithTokenURL(cfg.HighLevel.TokenURL),
		highlevel.WithRateLimit(cfg.HighLevel.RateRPS),
	)
}

// printJSON writes v to stdout, indented, for command output.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadextract.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
