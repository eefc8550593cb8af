package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pandashop/creditsync/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const lastSyncKey = "feed_last_sync"

// PostgresStore owns all persisted state: the feed cache, the status history
// journal, submission audit records, sent messages and sync metadata.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, connString string, l *slog.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		return nil, fmt.Errorf("no response from postgres: %w", err)
	}

	s := &PostgresStore{pool: p, logger: l}
	if err := s.bootstrap(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) bootstrap(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS feed_items (
			order_id           BIGINT PRIMARY KEY,
			order_number       TEXT NOT NULL DEFAULT '',
			application_id     TEXT NOT NULL DEFAULT '',
			credit_company     TEXT NOT NULL DEFAULT '',
			customer_name      TEXT NOT NULL DEFAULT '',
			bank_status        TEXT NOT NULL DEFAULT '',
			document_status    TEXT NOT NULL DEFAULT '',
			crm_status         TEXT NOT NULL DEFAULT '',
			payment_type       TEXT NOT NULL DEFAULT '',
			order_status       TEXT NOT NULL DEFAULT '',
			manager_id         BIGINT NOT NULL DEFAULT 0,
			manager_name       TEXT NOT NULL DEFAULT '',
			conditions_changed BOOLEAN NOT NULL DEFAULT FALSE,
			comparison         JSONB NOT NULL DEFAULT '{}',
			order_created_at   TIMESTAMPTZ,
			last_updated       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS status_history (
			id             BIGSERIAL PRIMARY KEY,
			application_id TEXT NOT NULL,
			status_type    TEXT NOT NULL,
			old_status     TEXT NOT NULL DEFAULT '',
			new_status     TEXT NOT NULL,
			source         TEXT NOT NULL,
			details        TEXT NOT NULL DEFAULT '',
			manager_id     BIGINT NOT NULL DEFAULT 0,
			manager_name   TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_status_history_application
			ON status_history (application_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS application_requests (
			order_id       BIGINT PRIMARY KEY,
			application_id TEXT NOT NULL DEFAULT '',
			credit_company TEXT NOT NULL,
			request_data   JSONB NOT NULL DEFAULT '{}',
			files_count    INT NOT NULL DEFAULT 0,
			file_names     JSONB NOT NULL DEFAULT '[]',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sent_messages (
			id             BIGSERIAL PRIMARY KEY,
			application_id TEXT NOT NULL,
			message_text   TEXT NOT NULL,
			manager_id     BIGINT NOT NULL DEFAULT 0,
			manager_name   TEXT NOT NULL DEFAULT '',
			sent_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sent_messages_application
			ON sent_messages (application_id, sent_at)`,
		`CREATE TABLE IF NOT EXISTS sync_metadata (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertFeedItem(ctx context.Context, item models.FeedItem) error {
	comparison, err := json.Marshal(item.Comparison)
	if err != nil {
		return fmt.Errorf("failed to serialize comparison: %w", err)
	}

	query := `
		INSERT INTO feed_items (
			order_id, order_number, application_id, credit_company, customer_name,
			bank_status, document_status, crm_status, payment_type, order_status,
			manager_id, manager_name, conditions_changed, comparison,
			order_created_at, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		ON CONFLICT (order_id) DO UPDATE SET
			order_number       = EXCLUDED.order_number,
			application_id     = EXCLUDED.application_id,
			credit_company     = EXCLUDED.credit_company,
			customer_name      = EXCLUDED.customer_name,
			bank_status        = EXCLUDED.bank_status,
			document_status    = EXCLUDED.document_status,
			crm_status         = EXCLUDED.crm_status,
			payment_type       = EXCLUDED.payment_type,
			order_status       = EXCLUDED.order_status,
			manager_id         = EXCLUDED.manager_id,
			manager_name       = EXCLUDED.manager_name,
			conditions_changed = EXCLUDED.conditions_changed,
			comparison         = EXCLUDED.comparison,
			order_created_at   = EXCLUDED.order_created_at,
			last_updated       = NOW()
	`
	_, err = s.pool.Exec(ctx, query,
		item.OrderID, item.OrderNumber, item.ApplicationID, item.CreditCompany,
		item.CustomerName, item.BankStatus, item.DocumentStatus, item.CRMStatus,
		item.PaymentType, item.OrderStatus, item.ManagerID, item.ManagerName,
		item.ConditionsChanged, comparison, item.OrderCreatedAt,
	)
	return err
}

// UpsertMany writes items one at a time so a single bad row never blocks the
// rest of the feed. Per-item failures are logged and counted, not returned.
func (s *PostgresStore) UpsertMany(ctx context.Context, items []models.FeedItem) int {
	saved := 0
	for _, item := range items {
		if err := s.UpsertFeedItem(ctx, item); err != nil {
			s.logger.Error("Failed to upsert feed item",
				"order_id", item.OrderID, "error", err)
			continue
		}
		saved++
	}
	return saved
}

func (s *PostgresStore) GetAllFeedItems(ctx context.Context, filter models.FeedFilter) ([]models.FeedItem, error) {
	query := `
		SELECT order_id, order_number, application_id, credit_company, customer_name,
		       bank_status, document_status, crm_status, payment_type, order_status,
		       manager_id, manager_name, conditions_changed, comparison,
		       COALESCE(order_created_at, 'epoch'::timestamptz), last_updated
		FROM feed_items
		WHERE ($1 = '' OR bank_status = $1)
		  AND ($2 = '' OR credit_company = $2)
		  AND ($3 OR NOT (order_status = ANY($4)))
		ORDER BY order_created_at DESC NULLS LAST
	`
	rows, err := s.pool.Query(ctx, query,
		filter.BankStatus, filter.CreditCompany,
		filter.IncludeArchived, models.ArchivedOrderStatuses(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query feed items: %w", err)
	}
	defer rows.Close()

	var items []models.FeedItem
	for rows.Next() {
		item, err := scanFeedItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteFeedItem(ctx context.Context, orderID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM feed_items WHERE order_id = $1`, orderID)
	return err
}

func scanFeedItem(row pgx.Row) (*models.FeedItem, error) {
	var item models.FeedItem
	var comparison []byte
	err := row.Scan(
		&item.OrderID, &item.OrderNumber, &item.ApplicationID, &item.CreditCompany,
		&item.CustomerName, &item.BankStatus, &item.DocumentStatus, &item.CRMStatus,
		&item.PaymentType, &item.OrderStatus, &item.ManagerID, &item.ManagerName,
		&item.ConditionsChanged, &comparison, &item.OrderCreatedAt, &item.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	if len(comparison) > 0 {
		if err := json.Unmarshal(comparison, &item.Comparison); err != nil {
			return nil, fmt.Errorf("failed to decode comparison: %w", err)
		}
	}
	return &item, nil
}

func (s *PostgresStore) SaveStatusHistory(ctx context.Context, h models.StatusHistory) error {
	query := `
		INSERT INTO status_history (
			application_id, status_type, old_status, new_status,
			source, details, manager_id, manager_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		h.ApplicationID, h.StatusType, h.OldStatus, h.NewStatus,
		h.Source, h.Details, h.ManagerID, h.ManagerName,
	)
	return err
}

func (s *PostgresStore) GetStatusHistory(ctx context.Context, applicationID string) ([]models.StatusHistory, error) {
	query := `
		SELECT id, application_id, status_type, old_status, new_status,
		       source, details, manager_id, manager_name, created_at
		FROM status_history
		WHERE application_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var entries []models.StatusHistory
	for rows.Next() {
		var h models.StatusHistory
		err := rows.Scan(
			&h.ID, &h.ApplicationID, &h.StatusType, &h.OldStatus, &h.NewStatus,
			&h.Source, &h.Details, &h.ManagerID, &h.ManagerName, &h.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) SaveApplicationRequest(ctx context.Context, r models.ApplicationRequest) error {
	fileNames, err := json.Marshal(r.FileNames)
	if err != nil {
		return fmt.Errorf("failed to serialize file names: %w", err)
	}

	query := `
		INSERT INTO application_requests (
			order_id, application_id, credit_company, request_data, files_count, file_names
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO UPDATE SET
			application_id = EXCLUDED.application_id,
			credit_company = EXCLUDED.credit_company,
			request_data   = EXCLUDED.request_data,
			files_count    = EXCLUDED.files_count,
			file_names     = EXCLUDED.file_names,
			created_at     = NOW()
	`
	_, err = s.pool.Exec(ctx, query,
		r.OrderID, r.ApplicationID, r.CreditCompany,
		r.RequestData, r.FilesCount, fileNames,
	)
	return err
}

func (s *PostgresStore) GetApplicationRequest(ctx context.Context, orderID int64) (*models.ApplicationRequest, error) {
	query := `
		SELECT order_id, application_id, credit_company, request_data,
		       files_count, file_names, created_at
		FROM application_requests
		WHERE order_id = $1
	`
	var r models.ApplicationRequest
	var fileNames []byte
	err := s.pool.QueryRow(ctx, query, orderID).Scan(
		&r.OrderID, &r.ApplicationID, &r.CreditCompany, &r.RequestData,
		&r.FilesCount, &fileNames, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(fileNames) > 0 {
		if err := json.Unmarshal(fileNames, &r.FileNames); err != nil {
			return nil, fmt.Errorf("failed to decode file names: %w", err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) SaveSentMessage(ctx context.Context, m models.SentMessage) error {
	query := `
		INSERT INTO sent_messages (application_id, message_text, manager_id, manager_name)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.pool.Exec(ctx, query,
		m.ApplicationID, m.MessageText, m.ManagerID, m.ManagerName,
	)
	return err
}

func (s *PostgresStore) GetSentMessages(ctx context.Context, applicationID string) ([]models.SentMessage, error) {
	query := `
		SELECT id, application_id, message_text, manager_id, manager_name, sent_at
		FROM sent_messages
		WHERE application_id = $1
		ORDER BY sent_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sent messages: %w", err)
	}
	defer rows.Close()

	var messages []models.SentMessage
	for rows.Next() {
		var m models.SentMessage
		err := rows.Scan(
			&m.ID, &m.ApplicationID, &m.MessageText,
			&m.ManagerID, &m.ManagerName, &m.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sent message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) GetSyncMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM sync_metadata WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (s *PostgresStore) SaveSyncMetadata(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO sync_metadata (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query, key, value)
	return err
}

// GetLastSyncTime returns the zero time when no sync has been recorded yet.
func (s *PostgresStore) GetLastSyncTime(ctx context.Context) (time.Time, error) {
	value, err := s.GetSyncMetadata(ctx, lastSyncKey)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid last sync timestamp %q: %w", value, err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateLastSyncTime(ctx context.Context, t time.Time) error {
	return s.SaveSyncMetadata(ctx, lastSyncKey, t.UTC().Format(time.RFC3339))
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
