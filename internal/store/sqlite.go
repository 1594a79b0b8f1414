package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadextract/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and single-tenant installs; production uses PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	id               TEXT PRIMARY KEY,
	message_id       TEXT UNIQUE,
	conversation_id  TEXT NOT NULL,
	location_id      TEXT NOT NULL,
	contact_id       TEXT,
	direction        TEXT NOT NULL DEFAULT '',
	channel          TEXT NOT NULL DEFAULT 'unknown',
	body             TEXT,
	attachments      TEXT NOT NULL DEFAULT '[]',
	date_added       DATETIME NOT NULL,
	received_at      DATETIME NOT NULL,
	processed        INTEGER NOT NULL DEFAULT 0,
	processing_error TEXT,
	processed_at     DATETIME
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
	cost_estimate     REAL NOT NULL DEFAULT 0,
	customer_cost     REAL NOT NULL DEFAULT 0,
	success           INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT,
	response_time_ms  INTEGER NOT NULL DEFAULT 0,
	charge_id         TEXT,
	meter_id          TEXT,
	created_at        DATETIME NOT NULL,
	finalized_at      DATETIME
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
	expires_at    DATETIME NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credentials_active_expires ON crm_credentials(active, expires_at);

CREATE TABLE IF NOT EXISTS extraction_fields (
	id               TEXT PRIMARY KEY,
	location_id      TEXT NOT NULL,
	field_key        TEXT NOT NULL,
	label            TEXT NOT NULL DEFAULT '',
	field_type       TEXT NOT NULL DEFAULT 'text',
	picklist_options TEXT NOT NULL DEFAULT '[]',
	is_required      INTEGER NOT NULL DEFAULT 0,
	overwrite_policy TEXT NOT NULL DEFAULT 'if_empty',
	sort_order       INTEGER NOT NULL DEFAULT 0,
	instructions     TEXT NOT NULL DEFAULT '',
	custom_field_id  TEXT NOT NULL DEFAULT '',
	active           INTEGER NOT NULL DEFAULT 1,
	UNIQUE (location_id, field_key)
);

CREATE INDEX IF NOT EXISTS idx_fields_location ON extraction_fields(location_id, sort_order);

CREATE TABLE IF NOT EXISTS contextual_rules (
	id          TEXT PRIMARY KEY,
	location_id TEXT NOT NULL,
	rule        TEXT NOT NULL,
	sort_order  INTEGER NOT NULL DEFAULT 0,
	active      INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_rules_location ON contextual_rules(location_id, sort_order);

CREATE TABLE IF NOT EXISTS stop_triggers (
	id          TEXT PRIMARY KEY,
	location_id TEXT NOT NULL,
	phrase      TEXT NOT NULL,
	action      TEXT NOT NULL DEFAULT 'escalate',
	active      INTEGER NOT NULL DEFAULT 1
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

func (s *SQLiteStore) Ping(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "SELECT 1")
	return eris.Wrap(err, "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *model.ConversationMessage) (*model.ConversationMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	attachmentsJSON, err := json.Marshal(msg.Attachments)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal attachments")
	}
	if msg.Attachments == nil {
		attachmentsJSON = []byte("[]")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages
		 (id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT (message_id) DO NOTHING`,
		msg.ID, msg.MessageID, msg.ConversationID, msg.LocationID, msg.ContactID,
		string(msg.Direction), string(msg.Channel), msg.Body, string(attachmentsJSON),
		msg.DateAdded, msg.ReceivedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert message")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, nil
	}
	return msg, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.ConversationMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed, processing_error, processed_at
		 FROM conversation_messages WHERE id = ?`,
		id,
	)
	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, eris.Errorf("message not found: %s", id)
	}
	return m, nil
}

func (s *SQLiteStore) GetMessageByMessageID(ctx context.Context, messageID string) (*model.ConversationMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed, processing_error, processed_at
		 FROM conversation_messages WHERE message_id = ?`,
		messageID,
	)
	return scanMessage(row)
}

func (s *SQLiteStore) MarkMessageProcessed(ctx context.Context, id string, procErr string) error {
	var errVal any
	if procErr != "" {
		errVal = procErr
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_messages SET processed = 1, processing_error = ?, processed_at = ? WHERE id = ?`,
		errVal, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark message processed %s", id)
	}
	return checkRowsAffected(res, "message", id)
}

func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed, processing_error, processed_at
		 FROM (
		   SELECT * FROM conversation_messages
		   WHERE conversation_id = ? AND body IS NOT NULL AND body <> ''
		   ORDER BY date_added DESC
		   LIMIT ?
		 ) ORDER BY date_added ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent messages")
	}
	defer rows.Close()

	var msgs []model.ConversationMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), "sqlite: list recent messages iterate")
}

func (s *SQLiteStore) ImportMessages(ctx context.Context, msgs []model.ConversationMessage) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	var count int64
	now := time.Now().UTC()
	for i := range msgs {
		m := &msgs[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.ReceivedAt.IsZero() {
			m.ReceivedAt = now
		}
		attachmentsJSON, err := json.Marshal(m.Attachments)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal attachments")
		}
		if m.Attachments == nil {
			attachmentsJSON = []byte("[]")
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_messages
			 (id, message_id, conversation_id, location_id, contact_id, direction, channel, body, attachments, date_added, received_at, processed, processing_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (message_id) DO NOTHING`,
			m.ID, m.MessageID, m.ConversationID, m.LocationID, m.ContactID,
			string(m.Direction), string(m.Channel), m.Body, string(attachmentsJSON),
			m.DateAdded, m.ReceivedAt, m.Processed, m.ProcessingError,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: import message")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		count += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import")
	}
	return count, nil
}

func (s *SQLiteStore) CreateUsageEntry(ctx context.Context, entry *model.UsageLogEntry) (*model.UsageLogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (id, location_id, conversation_id, contact_id, message_record_id, model, input_tokens, output_tokens, cost_estimate, customer_cost, success, response_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, '', 0, 0, 0, 0, 0, 0, ?)`,
		entry.ID, entry.LocationID, entry.ConversationID, entry.ContactID,
		entry.MessageRecordID, entry.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert usage entry")
	}
	return entry, nil
}

func (s *SQLiteStore) FinalizeUsageEntry(ctx context.Context, id string, fin model.UsageFinalization) error {
	var errVal any
	if fin.ErrorMessage != "" {
		errVal = fin.ErrorMessage
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE usage_log
		 SET model = ?, input_tokens = ?, output_tokens = ?, cost_estimate = ?, customer_cost = ?,
		     success = ?, error_message = ?, response_time_ms = ?, finalized_at = ?
		 WHERE id = ? AND finalized_at IS NULL`,
		fin.Model, fin.InputTokens, fin.OutputTokens, fin.CostEstimate, fin.CustomerCost,
		fin.Success, errVal, fin.ResponseTimeMS, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize usage entry %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("usage entry not found or already finalized: %s", id)
	}
	return nil
}

func (s *SQLiteStore) SetUsageCharge(ctx context.Context, id string, chargeID string, meterID string, customerCost float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE usage_log SET charge_id = ?, meter_id = ?, customer_cost = ? WHERE id = ? AND charge_id IS NULL`,
		chargeID, meterID, customerCost, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set usage charge %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("usage entry not found or already charged: %s", id)
	}
	return nil
}

func (s *SQLiteStore) GetUsageEntry(ctx context.Context, id string) (*model.UsageLogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, location_id, conversation_id, contact_id, message_record_id, model, input_tokens, output_tokens, cost_estimate, customer_cost, success, error_message, response_time_ms, charge_id, meter_id, created_at, finalized_at
		 FROM usage_log WHERE id = ?`,
		id,
	)
	u, err := scanUsageEntry(row)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, eris.Errorf("usage entry not found: %s", id)
	}
	return u, nil
}

func (s *SQLiteStore) CountMonthlyUsage(ctx context.Context, locationID string, month time.Time) (int, error) {
	start, end := monthBounds(month)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_log WHERE location_id = ? AND created_at >= ? AND created_at < ?`,
		locationID, start, end,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count monthly usage")
}

func (s *SQLiteStore) MonthlyUsageSummary(ctx context.Context, locationID string, month time.Time) (*model.MonthlyUsage, error) {
	start, end := monthBounds(month)
	u := model.MonthlyUsage{LocationID: locationID, Month: start}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(cost_estimate), 0),
		        COALESCE(SUM(customer_cost), 0),
		        COUNT(charge_id)
		 FROM usage_log WHERE location_id = ? AND created_at >= ? AND created_at < ?`,
		locationID, start, end,
	).Scan(&u.Attempts, &u.Successes, &u.InputTokens, &u.OutputTokens,
		&u.CostEstimate, &u.CustomerCost, &u.Charges)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: monthly usage summary")
	}
	return &u, nil
}

func (s *SQLiteStore) ListMonthlyUsage(ctx context.Context, month time.Time) ([]model.MonthlyUsage, error) {
	start, end := monthBounds(month)

	rows, err := s.db.QueryContext(ctx,
		`SELECT location_id,
		        COUNT(*),
		        COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(cost_estimate), 0),
		        COALESCE(SUM(customer_cost), 0),
		        COUNT(charge_id)
		 FROM usage_log WHERE created_at >= ? AND created_at < ?
		 GROUP BY location_id
		 ORDER BY location_id`,
		start, end,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list monthly usage")
	}
	defer rows.Close()

	var out []model.MonthlyUsage
	for rows.Next() {
		u := model.MonthlyUsage{Month: start}
		if err := rows.Scan(&u.LocationID, &u.Attempts, &u.Successes, &u.InputTokens,
			&u.OutputTokens, &u.CostEstimate, &u.CustomerCost, &u.Charges); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan monthly usage")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list monthly usage iterate")
}

func (s *SQLiteStore) GetCredential(ctx context.Context, accountID string) (*model.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, config_id, account_id, scope, access_token, refresh_token, expires_at, active, created_at, updated_at
		 FROM crm_credentials WHERE account_id = ?`,
		accountID,
	)
	return scanCredential(row)
}

func (s *SQLiteStore) UpdateCredentialTokens(ctx context.Context, id, prevRefreshToken, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crm_credentials
		 SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		 WHERE id = ? AND refresh_token = ?`,
		accessToken, refreshToken, expiresAt, time.Now().UTC(), id, prevRefreshToken,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update credential tokens %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListActiveCredentials(ctx context.Context) ([]model.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, config_id, account_id, scope, access_token, refresh_token, expires_at, active, created_at, updated_at
		 FROM crm_credentials
		 WHERE active = 1 AND access_token <> '' AND refresh_token <> ''
		 ORDER BY expires_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active credentials")
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	return creds, eris.Wrap(rows.Err(), "sqlite: list active credentials iterate")
}

func (s *SQLiteStore) UpsertCredential(ctx context.Context, cred *model.Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crm_credentials (id, config_id, account_id, scope, access_token, refresh_token, expires_at, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account_id) DO UPDATE SET
		   config_id = excluded.config_id, scope = excluded.scope,
		   access_token = excluded.access_token, refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at, active = excluded.active, updated_at = excluded.updated_at`,
		cred.ID, cred.ConfigID, cred.AccountID, string(cred.Scope), cred.AccessToken,
		cred.RefreshToken, cred.ExpiresAt, cred.Active, cred.CreatedAt, cred.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: upsert credential")
}

func (s *SQLiteStore) ListExtractionFields(ctx context.Context, locationID string) ([]model.ExtractionField, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location_id, field_key, label, field_type, picklist_options, is_required, overwrite_policy, sort_order, instructions, custom_field_id, active
		 FROM extraction_fields
		 WHERE location_id = ? AND active = 1
		 ORDER BY sort_order ASC, field_key ASC`,
		locationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extraction fields")
	}
	defer rows.Close()

	var fields []model.ExtractionField
	for rows.Next() {
		var f model.ExtractionField
		var optionsJSON, fieldType, policy string

		if err := rows.Scan(&f.ID, &f.LocationID, &f.FieldKey, &f.Label, &fieldType,
			&optionsJSON, &f.Required, &policy, &f.SortOrder, &f.Instructions, &f.CustomFieldID, &f.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction field")
		}
		f.FieldType = model.FieldType(fieldType)
		f.OverwritePolicy = model.OverwritePolicy(policy)
		if err := json.Unmarshal([]byte(optionsJSON), &f.PicklistOptions); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal picklist options")
		}
		fields = append(fields, f)
	}
	return fields, eris.Wrap(rows.Err(), "sqlite: list extraction fields iterate")
}

func (s *SQLiteStore) ListContextualRules(ctx context.Context, locationID string) ([]model.ContextualRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location_id, rule, sort_order, active
		 FROM contextual_rules
		 WHERE location_id = ? AND active = 1
		 ORDER BY sort_order ASC`,
		locationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contextual rules")
	}
	defer rows.Close()

	var rules []model.ContextualRule
	for rows.Next() {
		var r model.ContextualRule
		if err := rows.Scan(&r.ID, &r.LocationID, &r.Rule, &r.SortOrder, &r.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contextual rule")
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: list contextual rules iterate")
}

func (s *SQLiteStore) ListStopTriggers(ctx context.Context, locationID string) ([]model.StopTrigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location_id, phrase, action, active
		 FROM stop_triggers
		 WHERE location_id = ? AND active = 1
		 ORDER BY phrase ASC`,
		locationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stop triggers")
	}
	defer rows.Close()

	var triggers []model.StopTrigger
	for rows.Next() {
		var tr model.StopTrigger
		if err := rows.Scan(&tr.ID, &tr.LocationID, &tr.Phrase, &tr.Action, &tr.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stop trigger")
		}
		triggers = append(triggers, tr)
	}
	return triggers, eris.Wrap(rows.Err(), "sqlite: list stop triggers iterate")
}

func (s *SQLiteStore) SeedExtractionFields(ctx context.Context, fields []model.ExtractionField) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin seed")
	}
	defer tx.Rollback() //nolint:errcheck

	var count int64
	for i := range fields {
		f := &fields[i]
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		optionsJSON, err := json.Marshal(f.PicklistOptions)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal picklist options")
		}
		if f.PicklistOptions == nil {
			optionsJSON = []byte("[]")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO extraction_fields (id, location_id, field_key, label, field_type, picklist_options, is_required, overwrite_policy, sort_order, instructions, custom_field_id, active)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (location_id, field_key) DO UPDATE SET
			   label = excluded.label, field_type = excluded.field_type,
			   picklist_options = excluded.picklist_options, is_required = excluded.is_required,
			   overwrite_policy = excluded.overwrite_policy,
			   sort_order = excluded.sort_order, instructions = excluded.instructions,
			   custom_field_id = excluded.custom_field_id, active = excluded.active`,
			f.ID, f.LocationID, f.FieldKey, f.Label, string(f.FieldType),
			string(optionsJSON), f.Required, string(f.OverwritePolicy), f.SortOrder, f.Instructions,
			f.CustomFieldID, f.Active,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: seed extraction field")
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit seed")
	}
	return count, nil
}

// SeedContextualRules replaces the location's contextual rules with the given
// set. Fixtures own the whole rule list for a location, so replace-all.
func (s *SQLiteStore) SeedContextualRules(ctx context.Context, locationID string, rules []model.ContextualRule) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin seed rules")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM contextual_rules WHERE location_id = ?`, locationID); err != nil {
		return 0, eris.Wrap(err, "sqlite: clear contextual rules")
	}

	var count int64
	for i := range rules {
		r := &rules[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.LocationID = locationID
		_, err := tx.ExecContext(ctx,
			`INSERT INTO contextual_rules (id, location_id, rule, sort_order, active)
			 VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.LocationID, r.Rule, r.SortOrder, r.Active)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert contextual rule")
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit seed rules")
	}
	return count, nil
}

// SeedStopTriggers replaces the location's stop triggers, defaulting the
// action to escalate when the fixture leaves it blank.
func (s *SQLiteStore) SeedStopTriggers(ctx context.Context, locationID string, triggers []model.StopTrigger) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin seed triggers")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM stop_triggers WHERE location_id = ?`, locationID); err != nil {
		return 0, eris.Wrap(err, "sqlite: clear stop triggers")
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
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stop_triggers (id, location_id, phrase, action, active)
			 VALUES (?, ?, ?, ?, ?)`,
			t.ID, t.LocationID, t.Phrase, t.Action, t.Active)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert stop trigger")
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit seed triggers")
	}
	return count, nil
}

func (s *SQLiteStore) GetLocationPlan(ctx context.Context, locationID string) (*model.LocationPlan, error) {
	var p model.LocationPlan
	var billingType string

	err := s.db.QueryRowContext(ctx,
		`SELECT location_id, company_id, billing_type, monthly_quota, business_name, business_context
		 FROM location_plans WHERE location_id = ?`,
		locationID,
	).Scan(&p.LocationID, &p.CompanyID, &billingType, &p.MonthlyQuota,
		&p.BusinessName, &p.BusinessContext)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get location plan")
	}
	p.BillingType = model.BillingType(billingType)
	return &p, nil
}

func (s *SQLiteStore) UpsertLocationPlan(ctx context.Context, plan *model.LocationPlan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO location_plans (location_id, company_id, billing_type, monthly_quota, business_name, business_context)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (location_id) DO UPDATE SET
		   company_id = excluded.company_id, billing_type = excluded.billing_type,
		   monthly_quota = excluded.monthly_quota, business_name = excluded.business_name,
		   business_context = excluded.business_context`,
		plan.LocationID, plan.CompanyID, string(plan.BillingType), plan.MonthlyQuota,
		plan.BusinessName, plan.BusinessContext,
	)
	return eris.Wrap(err, "sqlite: upsert location plan")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMessage(row scannable) (*model.ConversationMessage, error) {
	var m model.ConversationMessage
	var attachmentsJSON, direction, channel string

	err := row.Scan(&m.ID, &m.MessageID, &m.ConversationID, &m.LocationID, &m.ContactID,
		&direction, &channel, &m.Body, &attachmentsJSON, &m.DateAdded,
		&m.ReceivedAt, &m.Processed, &m.ProcessingError, &m.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan message")
	}

	m.Direction = model.Direction(direction)
	m.Channel = model.Channel(channel)
	if err := json.Unmarshal([]byte(attachmentsJSON), &m.Attachments); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal attachments")
	}
	return &m, nil
}

func scanUsageEntry(row scannable) (*model.UsageLogEntry, error) {
	var u model.UsageLogEntry

	err := row.Scan(&u.ID, &u.LocationID, &u.ConversationID, &u.ContactID, &u.MessageRecordID,
		&u.Model, &u.InputTokens, &u.OutputTokens, &u.CostEstimate, &u.CustomerCost,
		&u.Success, &u.ErrorMessage, &u.ResponseTimeMS, &u.ChargeID, &u.MeterID,
		&u.CreatedAt, &u.FinalizedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan usage entry")
	}
	return &u, nil
}

func scanCredential(row scannable) (*model.Credential, error) {
	var c model.Credential
	var scope string

	err := row.Scan(&c.ID, &c.ConfigID, &c.AccountID, &scope, &c.AccessToken,
		&c.RefreshToken, &c.ExpiresAt, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan credential")
	}
	c.Scope = model.TokenScope(scope)
	return &c, nil
}
