package output

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/chrisdamba/foodcart/internal/models"
)

const postgresMaxRetries = 3

var archiveSchema = []string{
	`CREATE TABLE IF NOT EXISTS fact_order_receipt (
		order_id           TEXT PRIMARY KEY,
		provisional_id     TEXT NOT NULL,
		customer_id        TEXT,
		restaurant_id      TEXT,
		restaurant_name    TEXT,
		payment_method     TEXT,
		payment_status     TEXT,
		transaction_id     TEXT,
		coupon_code        TEXT,
		item_count         INTEGER,
		subtotal           NUMERIC(12,2),
		taxes              NUMERIC(12,2),
		delivery_fee       NUMERIC(12,2),
		discount           NUMERIC(12,2),
		total              NUMERIC(12,2),
		loyalty_points     BIGINT,
		cashback           NUMERIC(12,2),
		delivery_city      TEXT,
		delivery_postcode  TEXT,
		estimated_delivery BIGINT,
		timestamp          BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fact_order_status_change (
		id          BIGSERIAL PRIMARY KEY,
		order_id    TEXT NOT NULL,
		from_status TEXT,
		to_status   TEXT NOT NULL,
		sequence    BIGINT,
		timestamp   BIGINT NOT NULL
	)`,
}

type PostgresOutput struct {
	db *sql.DB
}

func NewPostgresOutput(dsn string) (*PostgresOutput, error) {
	if dsn == "" {
		return nil, errors.New("postgres_dsn is required for the postgres output")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	p := &PostgresOutput{db: db}
	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresOutput) EnsureSchema(ctx context.Context) error {
	for _, stmt := range archiveSchema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create archive schema: %w", err)
		}
	}
	return nil
}

// WriteMessage inserts the record into the table of its topic. A receipt
// written twice keeps the first row.
func (p *PostgresOutput) WriteMessage(topic string, msg []byte) error {
	var event map[string]interface{}
	if err := json.Unmarshal(msg, &event); err != nil {
		return err
	}

	table := topicToTable(topic)
	cols, vals, placeholders := buildInsertComponents(event)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", pq.QuoteIdentifier(table), cols, placeholders)
	if topic == models.TopicOrderReceipts {
		query += " ON CONFLICT (order_id) DO NOTHING"
	}

	return p.execTxWithRetry(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(query, vals...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		return nil
	}, postgresMaxRetries)
}

func (p *PostgresOutput) execTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %v, rollback failed: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresOutput) execTxWithRetry(ctx context.Context, fn func(*sql.Tx) error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = p.execTx(ctx, fn)
		if err == nil || !isRetryableError(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, err)
}

func (p *PostgresOutput) Close() error {
	return p.db.Close()
}

// isRetryableError reports serialization failures, deadlocks and lock
// timeouts.
func isRetryableError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

func topicToTable(topic string) string {
	switch topic {
	case models.TopicOrderReceipts:
		return "fact_order_receipt"
	case models.TopicOrderStatusChanges:
		return "fact_order_status_change"
	}
	return "fact_" + strings.TrimSuffix(topic, "_events")
}

// buildInsertComponents returns quoted columns, values and placeholders in
// key order so equal events produce equal statements.
func buildInsertComponents(event map[string]interface{}) (string, []interface{}, string) {
	keys := make([]string, 0, len(event))
	for k := range event {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]string, 0, len(keys))
	values := make([]interface{}, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	for i, key := range keys {
		switch v := event[key].(type) {
		case []interface{}, map[string]interface{}:
			b, _ := json.Marshal(v)
			values = append(values, string(b))
		case float64:
			if v == float64(int64(v)) {
				values = append(values, int64(v))
			} else {
				values = append(values, v)
			}
		default:
			values = append(values, v)
		}
		columns = append(columns, pq.QuoteIdentifier(key))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	return strings.Join(columns, ", "), values, strings.Join(placeholders, ", ")
}
