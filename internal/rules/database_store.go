package rules

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mohamedkhairy/price-alerts/internal/config"
	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS alert_rules (
	id                TEXT PRIMARY KEY,
	symbol            TEXT NOT NULL,
	stock_name        TEXT NOT NULL DEFAULT '',
	condition         JSONB NOT NULL,
	base_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_recurring      BOOLEAN NOT NULL DEFAULT FALSE,
	status            TEXT NOT NULL,
	disabled_by_firing BOOLEAN NOT NULL DEFAULT FALSE,
	last_triggered_at TIMESTAMPTZ,
	trigger_count     BIGINT NOT NULL DEFAULT 0,
	last_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_price_at     TIMESTAMPTZ,
	note              TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alert_rules_symbol_idx ON alert_rules (symbol);
ALTER TABLE alert_rules ADD COLUMN IF NOT EXISTS disabled_by_firing BOOLEAN NOT NULL DEFAULT FALSE;

CREATE TABLE IF NOT EXISTS alert_notifications (
	id         TEXT PRIMARY KEY,
	rule_id    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL,
	symbol     TEXT NOT NULL DEFAULT '',
	price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	route      TEXT NOT NULL DEFAULT '',
	sound      BOOLEAN NOT NULL DEFAULT FALSE,
	is_read    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alert_notifications_created_idx ON alert_notifications (created_at DESC);
`

// DatabaseRepository persists rules and notification history in PostgreSQL
type DatabaseRepository struct {
	db *sql.DB
}

// NewDatabaseRepository opens a PostgreSQL connection and ensures the schema exists
func NewDatabaseRepository(dbConfig config.DatabaseConfig) (*DatabaseRepository, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := NewDatabaseRepositoryFromDB(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Database rule repository initialized",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return repo, nil
}

// NewDatabaseRepositoryFromDB wraps an open connection pool
func NewDatabaseRepositoryFromDB(db *sql.DB) *DatabaseRepository {
	return &DatabaseRepository{db: db}
}

// EnsureSchema creates the tables if they do not exist
func (r *DatabaseRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// LoadRules retrieves all rules
func (r *DatabaseRepository) LoadRules(ctx context.Context) ([]*models.AlertRule, error) {
	query := `
		SELECT id, symbol, stock_name, condition, base_price, is_recurring, status,
		       disabled_by_firing, last_triggered_at, trigger_count, last_price, last_price_at, note,
		       created_at, updated_at
		FROM alert_rules
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		var rule models.AlertRule
		var conditionJSON []byte
		var status string
		var lastTriggeredAt, lastPriceAt sql.NullTime

		if err := rows.Scan(
			&rule.ID,
			&rule.Symbol,
			&rule.StockName,
			&conditionJSON,
			&rule.BasePrice,
			&rule.IsRecurring,
			&status,
			&rule.DisabledByFiring,
			&lastTriggeredAt,
			&rule.TriggerCount,
			&rule.LastPrice,
			&lastPriceAt,
			&rule.Note,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		cond, err := models.UnmarshalCondition(conditionJSON)
		if err != nil {
			logger.Warn("Skipping rule with unreadable condition",
				logger.String("rule_id", rule.ID),
				logger.ErrorField(err),
			)
			continue
		}
		rule.Condition = cond
		rule.Status = models.RuleStatus(status)
		rule.LastTriggeredAt = nullTimePtr(lastTriggeredAt)
		rule.LastPriceAt = nullTimePtr(lastPriceAt)

		rules = append(rules, &rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return rules, nil
}

// SaveRule inserts or replaces a rule
func (r *DatabaseRepository) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	conditionJSON, err := models.MarshalCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}

	query := `
		INSERT INTO alert_rules (id, symbol, stock_name, condition, base_price, is_recurring, status,
		                         disabled_by_firing, last_triggered_at, trigger_count, last_price,
		                         last_price_at, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE
		SET stock_name = EXCLUDED.stock_name,
		    condition = EXCLUDED.condition,
		    base_price = EXCLUDED.base_price,
		    is_recurring = EXCLUDED.is_recurring,
		    status = EXCLUDED.status,
		    disabled_by_firing = EXCLUDED.disabled_by_firing,
		    last_triggered_at = EXCLUDED.last_triggered_at,
		    trigger_count = EXCLUDED.trigger_count,
		    last_price = EXCLUDED.last_price,
		    last_price_at = EXCLUDED.last_price_at,
		    note = EXCLUDED.note,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Symbol,
		rule.StockName,
		conditionJSON,
		rule.BasePrice,
		rule.IsRecurring,
		string(rule.Status),
		rule.DisabledByFiring,
		timePtrValue(rule.LastTriggeredAt),
		rule.TriggerCount,
		rule.LastPrice,
		timePtrValue(rule.LastPriceAt),
		rule.Note,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	return nil
}

// DeleteRule deletes a rule by ID; a missing rule is not an error
func (r *DatabaseRepository) DeleteRule(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

// LoadNotifications returns the newest notifications, newest first
func (r *DatabaseRepository) LoadNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, rule_id, type, title, message, symbol, price, route, sound, is_read, created_at
		FROM alert_notifications
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var typ string
		if err := rows.Scan(
			&n.ID,
			&n.RuleID,
			&typ,
			&n.Title,
			&n.Message,
			&n.Symbol,
			&n.Price,
			&n.Route,
			&n.Sound,
			&n.IsRead,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = models.NotificationType(typ)
		out = append(out, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// AppendNotification stores a notification and prunes everything past limit
func (r *DatabaseRepository) AppendNotification(ctx context.Context, n *models.Notification, limit int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertNotification(ctx, tx, n); err != nil {
		return err
	}

	prune := `
		DELETE FROM alert_notifications
		WHERE id NOT IN (
			SELECT id FROM alert_notifications ORDER BY created_at DESC LIMIT $1
		)
	`
	if _, err := tx.ExecContext(ctx, prune, limit); err != nil {
		return fmt.Errorf("failed to prune notifications: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notification: %w", err)
	}
	return nil
}

// ReplaceNotifications overwrites the stored history with items
func (r *DatabaseRepository) ReplaceNotifications(ctx context.Context, items []*models.Notification) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_notifications`); err != nil {
		return fmt.Errorf("failed to clear notifications: %w", err)
	}
	for _, n := range items {
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notifications: %w", err)
	}
	return nil
}

func insertNotification(ctx context.Context, tx *sql.Tx, n *models.Notification) error {
	query := `
		INSERT INTO alert_notifications (id, rule_id, type, title, message, symbol, price, route, sound, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET is_read = EXCLUDED.is_read
	`
	_, err := tx.ExecContext(ctx, query,
		n.ID,
		n.RuleID,
		string(n.Type),
		n.Title,
		n.Message,
		n.Symbol,
		n.Price,
		n.Route,
		n.Sound,
		n.IsRead,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *DatabaseRepository) Close() error {
	return r.db.Close()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timePtrValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
