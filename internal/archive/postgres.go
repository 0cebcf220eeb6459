// Package archive provides an optional append-only SQL archive of
// committed usage records, alongside (not instead of) the durable
// ledger. Enabled when DATABASE_URL is set.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/felipepmaragno/tokenmeter/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	cost_usd DOUBLE PRECISION NOT NULL,
	latency_ms BIGINT NOT NULL,
	status INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

type PostgresArchive struct {
	db *sql.DB
}

// Open connects and ensures the usage_records table exists.
func Open(ctx context.Context, databaseURL string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create usage_records table: %w", err)
	}

	return &PostgresArchive{db: db}, nil
}

// Record inserts one proxied request's usage row.
func (a *PostgresArchive) Record(ctx context.Context, entry domain.ProxyRequestLog) error {
	query := `
		INSERT INTO usage_records (request_id, provider, model, input_tokens, output_tokens, cost_usd, latency_ms, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := a.db.ExecContext(ctx, query,
		entry.ID,
		entry.Provider,
		entry.Model,
		entry.InputTokens,
		entry.OutputTokens,
		entry.Cost,
		entry.LatencyMs,
		entry.Status,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// TotalCostSince sums archived cost from a point in time.
func (a *PostgresArchive) TotalCostSince(ctx context.Context, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE created_at >= $1
	`

	var total float64
	if err := a.db.QueryRowContext(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("query total cost: %w", err)
	}
	return total, nil
}

func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
