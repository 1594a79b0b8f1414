package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadextract/internal/db"
	"github.com/sells-group/leadextract/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_message_by_mid": `SELECT id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed, processing_error, processed_at FROM conversation_messages WHERE message_id = $1`,
	"mark_processed":     `UPDATE conversation_messages SET processed = true, processing_error = NULLIF($1, ''), processed_at = $2 WHERE id = $3`,
	"create_usage":       `INSERT INTO usage_log (id, location_id, conversation_id, contact_id, message_record_id, model, input_tokens, output_tokens, cost_estimate, customer_cost, success, response_time_ms, created_at) VALUES ($1, $2, $3, $4, $5, '', 0, 0, 0, 0, false, 0, $6)`,
	"get_credential":     `SELECT id, config_id, account_id, scope, access_token, refresh_token, expires_at, active, created_at, updated_at FROM crm_credentials WHERE account_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems
// that need direct query access (e.g., bulk backfill imports).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	id               TEXT PRIMARY KEY,
	message_id       TEXT UNIQUE,
	conversation_id  TEXT NOT NULL,
	location_id      TEXT NOT NULL,
	contact_id       TEXT,
	direction        TEXT NOT NULL DEFAULT '',
	channel          TEXT NOT NULL DEFAULT 'unknown',
	body             TEXT,
	attachments      JSONB NOT NULL DEFAULT '[]',
	date_added       TIMESTAMPTZ NOT NULL,
	received_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed        BOOLEAN NOT NULL DEFAULT false,
	processing_error TEXT,
	processed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id, date_added);
CREATE INDEX IF NOT EXISTS idx_messages_location ON conversation_messages(location_id);
CREATE INDEX IF NOT EXISTS idx_messages_processed ON conversation_messages(processed);

CREATE TABLE IF NOT EXISTS usage_log (
	id                TEXT PRIMARY KEY,
	location_id       TEXT NOT NULL,
	conversation_id   TEXT NOT NULL,
	contact_id        TEXT,
	message_record_id TEXT NOT NULL REFERENCES conversation_messages(id),
	model             TEXT NOT NULL DEFAULT '',
	input_tokens      INTEGER NOT NULL DEFAULT 0,
	output_tokens     INTEGER NOT NULL DEFAULT 0,
	cost_estimate     DOUBLE PRECISION NOT NULL DEFAULT 0,
	customer_cost     DOUBLE PRECISION NOT NULL DEFAULT 0,
	success           BOOLEAN NOT NULL DEFAULT false,
	error_message     TEXT,
	response_time_ms  BIGINT NOT NULL DEFAULT 0,
	charge_id         TEXT,
	meter_id          TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	finalized_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_usage_location_created ON usage_log(location_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_conversation ON usage_log(conversation_id);

CREATE TABLE IF NOT EXISTS crm_credentials (
	id            TEXT PRIMARY KEY,
	config_id     TEXT NOT NULL DEFAULT '',
	account_id    TEXT NOT NULL UNIQUE,
	scope         TEXT NOT NULL DEFAULT 'location',
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT true,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_credentials_active_expires ON crm_credentials(active, expires_at);

CREATE TABLE IF NOT EXISTS extraction_fields (
	id               TEXT PRIMARY KEY,
	location_id      TEXT NOT NULL,
	field_key        TEXT NOT NULL,
	label            TEXT NOT NULL DEFAULT '',
	field_type       TEXT NOT NULL DEFAULT 'text',
	picklist_options JSONB NOT NULL DEFAULT '[]',
	is_required      BOOLEAN NOT NULL DEFAULT false,
	overwrite_policy TEXT NOT NULL DEFAULT 'if_empty',
	sort_order       INTEGER NOT NULL DEFAULT 0,
	instructions     TEXT NOT NULL DEFAULT '',
	custom_field_id  TEXT NOT NULL DEFAULT '',
	active           BOOLEAN NOT NULL DEFAULT true,
	UNIQUE (location_id, field_key)
);

CREATE INDEX IF NOT EXISTS idx_fields_location ON extraction_fields(location_id, sort_order);

CREATE TABLE IF NOT EXISTS contextual_rules (
	id          TEXT PRIMARY KEY,
	location_id TEXT NOT NULL,
	rule        TEXT NOT NULL,
	sort_order  INTEGER NOT NULL DEFAULT 0,
	active      BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_rules_location ON contextual_rules(location_id, sort_order);

CREATE TABLE IF NOT EXISTS stop_triggers (
	id          TEXT PRIMARY KEY,
	location_id TEXT NOT NULL,
	phrase      TEXT NOT NULL,
	action      TEXT NOT NULL DEFAULT 'escalate',
	active      BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_triggers_location ON stop_triggers(location_id);

CREATE TABLE IF NOT EXISTS location_plans (
	location_id      TEXT PRIMARY KEY,
	company_id       TEXT NOT NULL DEFAULT '',
	billing_type     TEXT NOT NULL DEFAULT 'direct',
	monthly_quota    INTEGER NOT NULL DEFAULT 100,
	business_name    TEXT NOT NULL DEFAULT '',
	business_context TEXT NOT NULL DEFAULT ''
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CreateMessage inserts a webhook message. A nil return with nil error means
// another row already holds the same message_id (dedup race lost); callers
// should re-read by message id.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *model.ConversationMessage) (*model.ConversationMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	attachmentsJSON, err := json.Marshal(msg.Attachments)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal attachments")
	}
	if msg.Attachments == nil {
		attachmentsJSON = []byte("[]")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_messages
		 (id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed, processing_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, NULL)
		 ON CONFLICT (message_id) DO NOTHING`,
		msg.ID, msg.MessageID, msg.ConversationID, msg.LocationID, msg.ContactID,
		string(msg.Direction), string(msg.Channel), msg.Body, attachmentsJSON,
		msg.DateAdded, msg.ReceivedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert message")
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*model.ConversationMessage, error) {
	var m model.ConversationMessage
	var attachmentsJSON []byte
	var direction, channel string

	err := s.pool.QueryRow(ctx,
		`SELECT id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed, processing_error, processed_at
		 FROM conversation_messages WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.MessageID, &m.ConversationID, &m.LocationID, &m.ContactID,
		&direction, &channel, &m.Body, &attachmentsJSON, &m.DateAdded,
		&m.ReceivedAt, &m.Processed, &m.ProcessingError, &m.ProcessedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get message %s", id)
	}

	m.Direction = model.Direction(direction)
	m.Channel = model.Channel(channel)
	if err := json.Unmarshal(attachmentsJSON, &m.Attachments); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal attachments")
	}
	return &m, nil
}

func (s *PostgresStore) GetMessageByMessageID(ctx context.Context, messageID string) (*model.ConversationMessage, error) {
	var m model.ConversationMessage
	var attachmentsJSON []byte
	var direction, channel string

	err := s.pool.QueryRow(ctx,
		`SELECT id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed, processing_error, processed_at
		 FROM conversation_messages WHERE message_id = $1`,
		messageID,
	).Scan(&m.ID, &m.MessageID, &m.ConversationID, &m.LocationID, &m.ContactID,
		&direction, &channel, &m.Body, &attachmentsJSON, &m.DateAdded,
		&m.ReceivedAt, &m.Processed, &m.ProcessingError, &m.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get message by message_id")
	}

	m.Direction = model.Direction(direction)
	m.Channel = model.Channel(channel)
	if err := json.Unmarshal(attachmentsJSON, &m.Attachments); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal attachments")
	}
	return &m, nil
}

func (s *PostgresStore) MarkMessageProcessed(ctx context.Context, id string, procErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversation_messages SET processed = true, processing_error = NULLIF($1, ''), processed_at = $2 WHERE id = $3`,
		procErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark message processed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("message not found: %s", id)
	}
	return nil
}

// ListRecentMessages returns the most recent text-bearing messages of a
// conversation in ascending event-time order.
func (s *PostgresStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed, processing_error, processed_at
		 FROM (
		   SELECT * FROM conversation_messages
		   WHERE conversation_id = $1 AND body IS NOT NULL AND body <> ''
		   ORDER BY date_added DESC
		   LIMIT $2
		 ) recent
		 ORDER BY date_added ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent messages")
	}
	defer rows.Close()

	var msgs []model.ConversationMessage
	for rows.Next() {
		var m model.ConversationMessage
		var attachmentsJSON []byte
		var direction, channel string

		if err := rows.Scan(&m.ID, &m.MessageID, &m.ConversationID, &m.LocationID, &m.ContactID,
			&direction, &channel, &m.Body, &attachmentsJSON, &m.DateAdded,
			&m.ReceivedAt, &m.Processed, &m.ProcessingError, &m.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		m.Direction = model.Direction(direction)
		m.Channel = model.Channel(channel)
		if err := json.Unmarshal(attachmentsJSON, &m.Attachments); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attachments")
		}
		msgs = append(msgs, m)
	}
	return msgs, eris.Wrap(rows.Err(), "postgres: list recent messages iterate")
}

// ImportMessages bulk-inserts historical messages via COPY. Rows whose
// message_id already exists are skipped, since COPY cannot express
// ON CONFLICT. Assumes webhook traffic for the imported conversations is
// quiesced during the backfill.
func (s *PostgresStore) ImportMessages(ctx context.Context, msgs []model.ConversationMessage) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	var ids []string
	for i := range msgs {
		if msgs[i].MessageID != nil {
			ids = append(ids, *msgs[i].MessageID)
		}
	}
	existing := make(map[string]bool, len(ids))
	if len(ids) > 0 {
		rows, err := s.pool.Query(ctx,
			`SELECT message_id FROM conversation_messages WHERE message_id = ANY($1)`, ids)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: probe existing message ids")
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return 0, eris.Wrap(err, "postgres: scan message id")
			}
			existing[id] = true
		}
		if err := rows.Err(); err != nil {
			return 0, eris.Wrap(err, "postgres: probe existing message ids iterate")
		}
	}

	columns := []string{
		"id", "message_id", "conversation_id", "location_id", "contact_id",
		"direction", "channel", "body", "attachments", "date_added",
		"received_at", "processed", "processing_error",
	}
	copyRows := make([][]any, 0, len(msgs))
	now := time.Now().UTC()
	for i := range msgs {
		m := &msgs[i]
		if m.MessageID != nil && existing[*m.MessageID] {
			continue
		}
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.ReceivedAt.IsZero() {
			m.ReceivedAt = now
		}
		attachmentsJSON, err := json.Marshal(m.Attachments)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal attachments")
		}
		if m.Attachments == nil {
			attachmentsJSON = []byte("[]")
		}
		copyRows = append(copyRows, []any{
			m.ID, m.MessageID, m.ConversationID, m.LocationID, m.ContactID,
			string(m.Direction), string(m.Channel), m.Body, attachmentsJSON,
			m.DateAdded, m.ReceivedAt, m.Processed, m.ProcessingError,
		})
	}
	if len(copyRows) == 0 {
		return 0, nil
	}

	return db.CopyFrom(ctx, s.pool, "conversation_messages", columns, copyRows)
}

// CreateUsageEntry inserts the pending half of a usage row: zeroed counters,
// success=false. It must be called before any LLM spend.
func (s *PostgresStore) CreateUsageEntry(ctx context.Context, entry *model.UsageLogEntry) (*model.UsageLogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_log (id, location_id, conversation_id, contact_id, message_record_id, model, input_tokens, output_tokens, cost_estimate, customer_cost, success, response_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, '', 0, 0, 0, 0, false, 0, $6)`,
		entry.ID, entry.LocationID, entry.ConversationID, entry.ContactID,
		entry.MessageRecordID, entry.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert usage entry")
	}
	return entry, nil
}

// FinalizeUsageEntry writes the terminal outcome. The finalized_at guard
// makes finalization single-shot: a second call reports an error instead of
// overwriting the recorded outcome.
func (s *PostgresStore) FinalizeUsageEntry(ctx context.Context, id string, fin model.UsageFinalization) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE usage_log
		 SET model = $1, input_tokens = $2, output_tokens = $3, cost_estimate = $4, customer_cost = $5,
		     success = $6, error_message = NULLIF($7, ''), response_time_ms = $8, finalized_at = $9
		 WHERE id = $10 AND finalized_at IS NULL`,
		fin.Model, fin.InputTokens, fin.OutputTokens, fin.CostEstimate, fin.CustomerCost,
		fin.Success, fin.ErrorMessage, fin.ResponseTimeMS, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize usage entry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("usage entry not found or already finalized: %s", id)
	}
	return nil
}

// SetUsageCharge records the wallet charge. The charge_id guard enforces at
// most one charge per entry.
func (s *PostgresStore) SetUsageCharge(ctx context.Context, id string, chargeID string, meterID string, customerCost float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE usage_log SET charge_id = $1, meter_id = $2, customer_cost = $3 WHERE id = $4 AND charge_id IS NULL`,
		chargeID, meterID, customerCost, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set usage charge %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("usage entry not found or already charged: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetUsageEntry(ctx context.Context, id string) (*model.UsageLogEntry, error) {
	var u model.UsageLogEntry
	err := s.pool.QueryRow(ctx,
		`SELECT id, location_id, conversation_id, contact_id, message_record_id, model, input_tokens, output_tokens, cost_estimate, customer_cost, success, error_message, response_time_ms, charge_id, meter_id, created_at, finalized_at
		 FROM usage_log WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.LocationID, &u.ConversationID, &u.ContactID, &u.MessageRecordID,
		&u.Model, &u.InputTokens, &u.OutputTokens, &u.CostEstimate, &u.CustomerCost,
		&u.Success, &u.ErrorMessage, &u.ResponseTimeMS, &u.ChargeID, &u.MeterID,
		&u.CreatedAt, &u.FinalizedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get usage entry %s", id)
	}
	return &u, nil
}

func (s *PostgresStore) CountMonthlyUsage(ctx context.Context, locationID string, month time.Time) (int, error) {
	start, end := monthBounds(month)
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_log WHERE location_id = $1 AND created_at >= $2 AND created_at < $3`,
		locationID, start, end,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count monthly usage")
}

func (s *PostgresStore) MonthlyUsageSummary(ctx context.Context, locationID string, month time.Time) (*model.MonthlyUsage, error) {
	start, end := monthBounds(month)
	u := model.MonthlyUsage{LocationID: locationID, Month: start}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE success),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(cost_estimate), 0),
		        COALESCE(SUM(customer_cost), 0),
		        COUNT(charge_id)
		 FROM usage_log WHERE location_id = $1 AND created_at >= $2 AND created_at < $3`,
		locationID, start, end,
	).Scan(&u.Attempts, &u.Successes, &u.InputTokens, &u.OutputTokens,
		&u.CostEstimate, &u.CustomerCost, &u.Charges)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: monthly usage summary")
	}
	return &u, nil
}

func (s *PostgresStore) ListMonthlyUsage(ctx context.Context, month time.Time) ([]model.MonthlyUsage, error) {
	start, end := monthBounds(month)

	rows, err := s.pool.Query(ctx,
		`SELECT location_id,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE success),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(cost_estimate), 0),
		        COALESCE(SUM(customer_cost), 0),
		        COUNT(charge_id)
		 FROM usage_log WHERE created_at >= $1 AND created_at < $2
		 GROUP BY location_id
		 ORDER BY location_id`,
		start, end,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list monthly usage")
	}
	defer rows.Close()

	var out []model.MonthlyUsage
	for rows.Next() {
		u := model.MonthlyUsage{Month: start}
		if err := rows.Scan(&u.LocationID, &u.Attempts, &u.Successes, &u.InputTokens,
			&u.OutputTokens, &u.CostEstimate, &u.CustomerCost, &u.Charges); err != nil {
			return nil, eris.Wrap(err, "postgres: scan monthly usage")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list monthly usage iterate")
}

func (s *PostgresStore) GetCredential(ctx context.Context, accountID string) (*model.Credential, error) {
	var c model.Credential
	var scope string

	err := s.pool.QueryRow(ctx,
		`SELECT id, config_id, account_id, scope, access_token, refresh_token, expires_at, active, created_at, updated_at
		 FROM crm_credentials WHERE account_id = $1`,
		accountID,
	).Scan(&c.ID, &c.ConfigID, &c.AccountID, &scope, &c.AccessToken,
		&c.RefreshToken, &c.ExpiresAt, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get credential")
	}
	c.Scope = model.TokenScope(scope)
	return &c, nil
}

// UpdateCredentialTokens swaps in a fresh token pair, guarded by the refresh
// token the caller read. Returns false when another refresher won the race.
func (s *PostgresStore) UpdateCredentialTokens(ctx context.Context, id, prevRefreshToken, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crm_credentials
		 SET access_token = $1, refresh_token = $2, expires_at = $3, updated_at = $4
		 WHERE id = $5 AND refresh_token = $6`,
		accessToken, refreshToken, expiresAt, time.Now().UTC(), id, prevRefreshToken,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update credential tokens %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListActiveCredentials(ctx context.Context) ([]model.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, config_id, account_id, scope, access_token, refresh_token, expires_at, active, created_at, updated_at
		 FROM crm_credentials
		 WHERE active AND access_token <> '' AND refresh_token <> ''
		 ORDER BY expires_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active credentials")
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		var c model.Credential
		var scope string
		if err := rows.Scan(&c.ID, &c.ConfigID, &c.AccountID, &scope, &c.AccessToken,
			&c.RefreshToken, &c.ExpiresAt, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan credential")
		}
		c.Scope = model.TokenScope(scope)
		creds = append(creds, c)
	}
	return creds, eris.Wrap(rows.Err(), "postgres: list active credentials iterate")
}

func (s *PostgresStore) UpsertCredential(ctx context.Context, cred *model.Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO crm_credentials (id, config_id, account_id, scope, access_token, refresh_token, expires_at, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (account_id) DO UPDATE SET
		   config_id = $2, scope = $4, access_token = $5, refresh_token = $6,
		   expires_at = $7, active = $8, updated_at = $10`,
		cred.ID, cred.ConfigID, cred.AccountID, string(cred.Scope), cred.AccessToken,
		cred.RefreshToken, cred.ExpiresAt, cred.Active, cred.CreatedAt, cred.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert credential")
}

func (s *PostgresStore) ListExtractionFields(ctx context.Context, locationID string) ([]model.ExtractionField, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, location_id, field_key, label, field_type, picklist_options, is_required, overwrite_policy, sort_order, instructions, custom_field_id, active
		 FROM extraction_fields
		 WHERE location_id = $1 AND active
		 ORDER BY sort_order ASC, field_key ASC`,
		locationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extraction fields")
	}
	defer rows.Close()

	var fields []model.ExtractionField
	for rows.Next() {
		var f model.ExtractionField
		var optionsJSON []byte
		var fieldType, policy string

		if err := rows.Scan(&f.ID, &f.LocationID, &f.FieldKey, &f.Label, &fieldType,
			&optionsJSON, &f.Required, &policy, &f.SortOrder, &f.Instructions, &f.CustomFieldID, &f.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction field")
		}
		f.FieldType = model.FieldType(fieldType)
		f.OverwritePolicy = model.OverwritePolicy(policy)
		if err := json.Unmarshal(optionsJSON, &f.PicklistOptions); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal picklist options")
		}
		fields = append(fields, f)
	}
	return fields, eris.Wrap(rows.Err(), "postgres: list extraction fields iterate")
}

func (s *PostgresStore) ListContextualRules(ctx context.Context, locationID string) ([]model.ContextualRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, location_id, rule, sort_order, active
		 FROM contextual_rules
		 WHERE location_id = $1 AND active
		 ORDER BY sort_order ASC`,
		locationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contextual rules")
	}
	defer rows.Close()

	var rules []model.ContextualRule
	for rows.Next() {
		var r model.ContextualRule
		if err := rows.Scan(&r.ID, &r.LocationID, &r.Rule, &r.SortOrder, &r.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contextual rule")
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: list contextual rules iterate")
}

func (s *PostgresStore) ListStopTriggers(ctx context.Context, locationID string) ([]model.StopTrigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, location_id, phrase, action, active
		 FROM stop_triggers
		 WHERE location_id = $1 AND active
		 ORDER BY phrase ASC`,
		locationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stop triggers")
	}
	defer rows.Close()

	var triggers []model.StopTrigger
	for rows.Next() {
		var tr model.StopTrigger
		if err := rows.Scan(&tr.ID, &tr.LocationID, &tr.Phrase, &tr.Action, &tr.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stop trigger")
		}
		triggers = append(triggers, tr)
	}
	return triggers, eris.Wrap(rows.Err(), "postgres: list stop triggers iterate")
}

// SeedExtractionFields upserts catalog rows keyed on (location_id, field_key),
// used by fixture loading and admin imports.
func (s *PostgresStore) SeedExtractionFields(ctx context.Context, fields []model.ExtractionField) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	columns := []string{
		"id", "location_id", "field_key", "label", "field_type",
		"picklist_options", "is_required", "overwrite_policy", "sort_order",
		"instructions", "custom_field_id", "active",
	}
	rows := make([][]any, 0, len(fields))
	for i := range fields {
		f := &fields[i]
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		optionsJSON, err := json.Marshal(f.PicklistOptions)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal picklist options")
		}
		if f.PicklistOptions == nil {
			optionsJSON = []byte("[]")
		}
		rows = append(rows, []any{
			f.ID, f.LocationID, f.FieldKey, f.Label, string(f.FieldType),
			optionsJSON, f.Required, string(f.OverwritePolicy), f.SortOrder,
			f.Instructions, f.CustomFieldID, f.Active,
		})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "extraction_fields",
		Columns:      columns,
		ConflictKeys: []string{"location_id", "field_key"},
		UpdateCols: []string{
			"label", "field_type", "picklist_options", "is_required",
			"overwrite_policy", "sort_order", "instructions",
			"custom_field_id", "active",
		},
	}, rows)
}

// SeedContextualRules replaces the location's contextual rules with the given
// set. Fixtures own the whole rule list for a location, so replace-all.
func (s *PostgresStore) SeedContextualRules(ctx context.Context, locationID string, rules []model.ContextualRule) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin seed rules")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM contextual_rules WHERE location_id = $1`, locationID); err != nil {
		return 0, eris.Wrap(err, "postgres: clear contextual rules")
	}

	var count int64
	for i := range rules {
		r := &rules[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.LocationID = locationID
		tag, err := tx.Exec(ctx,
			`INSERT INTO contextual_rules (id, location_id, rule, sort_order, active)
			 VALUES ($1, $2, $3, $4, $5)`,
			r.ID, r.LocationID, r.Rule, r.SortOrder, r.Active)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: insert contextual rule")
		}
		count += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit seed rules")
	}
	return count, nil
}

// SeedStopTriggers replaces the location's stop triggers, defaulting the
// action to escalate when the fixture leaves it blank.
func (s *PostgresStore) SeedStopTriggers(ctx context.Context, locationID string, triggers []model.StopTrigger) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin seed triggers")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM stop_triggers WHERE location_id = $1`, locationID); err != nil {
		return 0, eris.Wrap(err, "postgres: clear stop triggers")
	}

	var count int64
	for i := range triggers {
		t := &triggers[i]
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.Action == "" {
			t.Action = "escalate"
		}
		t.LocationID = locationID
		tag, err := tx.Exec(ctx,
			`INSERT INTO stop_triggers (id, location_id, phrase, action, active)
			 VALUES ($1, $2, $3, $4, $5)`,
			t.ID, t.LocationID, t.Phrase, t.Action, t.Active)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: insert stop trigger")
		}
		count += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit seed triggers")
	}
	return count, nil
}

func (s *PostgresStore) GetLocationPlan(ctx context.Context, locationID string) (*model.LocationPlan, error) {
	var p model.LocationPlan
	var billingType string

	err := s.pool.QueryRow(ctx,
		`SELECT location_id, company_id, billing_type, monthly_quota, business_name, business_context
		 FROM location_plans WHERE location_id = $1`,
		locationID,
	).Scan(&p.LocationID, &p.CompanyID, &billingType, &p.MonthlyQuota,
		&p.BusinessName, &p.BusinessContext)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get location plan")
	}
	p.BillingType = model.BillingType(billingType)
	return &p, nil
}

func (s *PostgresStore) UpsertLocationPlan(ctx context.Context, plan *model.LocationPlan) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO location_plans (location_id, company_id, billing_type, monthly_quota, business_name, business_context)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (location_id) DO UPDATE SET
		   company_id = $2, billing_type = $3, monthly_quota = $4,
		   business_name = $5, business_context = $6`,
		plan.LocationID, plan.CompanyID, string(plan.BillingType), plan.MonthlyQuota,
		plan.BusinessName, plan.BusinessContext,
	)
	return eris.Wrap(err, "postgres: upsert location plan")
}

// monthBounds normalizes any instant to its UTC calendar month window.
func monthBounds(month time.Time) (time.Time, time.Time) {
	m := month.UTC()
	start := time.Date(m.Year(), m.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
