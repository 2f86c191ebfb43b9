package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
)

// ClickHouseRepository implements both StatisticsPersistence and EventPersistence
// using ClickHouse. It is the analytical store for decision events and the
// durable copy of the windowed fraud statistics.
type ClickHouseRepository struct {
	conn driver.Conn
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

func NewClickHouseRepository(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseRepository, error) {
	database := cfg.Database
	if database == "" {
		database = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.Timeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := createTablesIfNotExist(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &ClickHouseRepository{conn: conn}, nil
}

var (
	_ repository.StatisticsPersistence = (*ClickHouseRepository)(nil)
	_ repository.EventPersistence      = (*ClickHouseRepository)(nil)
)

func createTablesIfNotExist(ctx context.Context, conn driver.Conn) error {
	err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS decision_events (
			correlation_id String,
			transaction_id String,
			transaction_type LowCardinality(String),
			sender_account String,
			receiver_account String,
			amount Float64,
			timestamp DateTime64(3, 'UTC'),
			status LowCardinality(String),
			fraud_probability Float64,
			is_fraud Bool,
			threshold Float64,
			confidence LowCardinality(String),
			model_version String,
			processed_at DateTime DEFAULT now()
		) ENGINE = MergeTree()
		ORDER BY (transaction_type, timestamp)
	`)
	if err != nil {
		return err
	}

	return conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fraud_statistics (
			transaction_type LowCardinality(String),
			scored_5m UInt32,
			scored_1h UInt32,
			scored_24h UInt32,
			flagged_5m UInt32,
			flagged_1h UInt32,
			flagged_24h UInt32,
			flagged_amount_24h Float64,
			updated_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY transaction_type
	`)
}

func (r *ClickHouseRepository) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

func (r *ClickHouseRepository) Close() error {
	return r.conn.Close()
}

// SaveDecisionEvent stores one decision. Events without a decision are kept
// with zeroed decision columns and their scoring_failed status.
func (r *ClickHouseRepository) SaveDecisionEvent(ctx context.Context, event *model.DecisionEvent) error {
	query := `
		INSERT INTO decision_events (
			correlation_id, transaction_id, transaction_type, sender_account, receiver_account,
			amount, timestamp, status, fraud_probability, is_fraud, threshold, confidence, model_version
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		)
	`

	var d model.ScoringDecision
	if event.Decision != nil {
		d = *event.Decision
	}

	return r.conn.AsyncInsert(ctx, query, false,
		event.CorrelationID,
		event.TransactionID,
		string(event.TransactionType),
		event.SenderAccount,
		event.ReceiverAccount,
		event.Amount,
		event.Timestamp,
		string(event.Status),
		d.FraudProbability,
		d.IsFraud,
		d.Threshold,
		string(d.Confidence),
		d.ModelVersion,
	)
}

// GetDecisionEventsSince retrieves decision events at or after the given unix time.
func (r *ClickHouseRepository) GetDecisionEventsSince(ctx context.Context, since int64) ([]*model.DecisionEvent, error) {
	query := `
		SELECT correlation_id, transaction_id, transaction_type, sender_account, receiver_account,
			amount, timestamp, status, fraud_probability, is_fraud, threshold, confidence, model_version
		FROM decision_events
		WHERE timestamp >= fromUnixTimestamp64Milli(?)
		ORDER BY timestamp
	`

	rows, err := r.conn.Query(ctx, query, since*1000)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.DecisionEvent
	for rows.Next() {
		var (
			event                      model.DecisionEvent
			txType, status, confidence string
			d                          model.ScoringDecision
		)
		if err := rows.Scan(
			&event.CorrelationID,
			&event.TransactionID,
			&txType,
			&event.SenderAccount,
			&event.ReceiverAccount,
			&event.Amount,
			&event.Timestamp,
			&status,
			&d.FraudProbability,
			&d.IsFraud,
			&d.Threshold,
			&confidence,
			&d.ModelVersion,
		); err != nil {
			return nil, err
		}

		event.TransactionType = model.TransactionType(txType)
		event.Status = model.HistoryStatus(status)
		if event.Status == model.StatusScored {
			d.Confidence = model.Confidence(confidence)
			event.Decision = &d
		}
		results = append(results, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (r *ClickHouseRepository) SaveStatistics(ctx context.Context, stats *model.Statistics) error {
	query := `
		INSERT INTO fraud_statistics (
			transaction_type, scored_5m, scored_1h, scored_24h,
			flagged_5m, flagged_1h, flagged_24h, flagged_amount_24h, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?
		)
	`

	return r.conn.AsyncInsert(ctx, query, false,
		string(stats.TransactionType),
		uint32(stats.Scored5Min),
		uint32(stats.Scored1H),
		uint32(stats.Scored24H),
		uint32(stats.Flagged5Min),
		uint32(stats.Flagged1H),
		uint32(stats.Flagged24H),
		stats.FlaggedAmount24H,
		stats.LastUpdate,
	)
}

// GetStatistics returns the latest statistics row for txType, or nil, nil.
func (r *ClickHouseRepository) GetStatistics(ctx context.Context, txType model.TransactionType) (*model.Statistics, error) {
	query := `
		SELECT transaction_type, scored_5m, scored_1h, scored_24h,
			flagged_5m, flagged_1h, flagged_24h, flagged_amount_24h, updated_at
		FROM fraud_statistics
		WHERE transaction_type = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`

	stats, err := scanStatistics(r.conn.QueryRow(ctx, query, string(txType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return stats, err
}

// GetAllStatistics returns the latest row per transaction type.
func (r *ClickHouseRepository) GetAllStatistics(ctx context.Context) ([]*model.Statistics, error) {
	query := `
		SELECT transaction_type,
			argMax(scored_5m, updated_at), argMax(scored_1h, updated_at), argMax(scored_24h, updated_at),
			argMax(flagged_5m, updated_at), argMax(flagged_1h, updated_at), argMax(flagged_24h, updated_at),
			argMax(flagged_amount_24h, updated_at), max(updated_at)
		FROM fraud_statistics
		GROUP BY transaction_type
		ORDER BY transaction_type
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.Statistics
	for rows.Next() {
		stats, err := scanStatistics(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, stats)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatistics(row scanner) (*model.Statistics, error) {
	var (
		txType                           string
		scored5m, scored1h, scored24h    uint32
		flagged5m, flagged1h, flagged24h uint32
		stats                            model.Statistics
	)
	if err := row.Scan(
		&txType,
		&scored5m, &scored1h, &scored24h,
		&flagged5m, &flagged1h, &flagged24h,
		&stats.FlaggedAmount24H,
		&stats.LastUpdate,
	); err != nil {
		return nil, err
	}

	stats.TransactionType = model.TransactionType(txType)
	stats.Scored5Min, stats.Scored1H, stats.Scored24H = int(scored5m), int(scored1h), int(scored24h)
	stats.Flagged5Min, stats.Flagged1H, stats.Flagged24H = int(flagged5m), int(flagged1h), int(flagged24h)
	return &stats, nil
}
