package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
)

// PostgresMetadataStore reads and writes the single ml_configs row that
// holds the decision threshold.
type PostgresMetadataStore struct {
	db *sql.DB
}

func NewPostgresMetadataStore(db *sql.DB) *PostgresMetadataStore {
	return &PostgresMetadataStore{db: db}
}

var (
	_ repository.MetadataSource = (*PostgresMetadataStore)(nil)
	_ repository.ThresholdAdmin = (*PostgresMetadataStore)(nil)
)

func (s *PostgresMetadataStore) GetThreshold(ctx context.Context) (float64, error) {
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.Threshold, nil
}

func (s *PostgresMetadataStore) GetConfig(ctx context.Context) (*model.ThresholdConfig, error) {
	var cfg model.ThresholdConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT threshold::float8, updated_at FROM ml_configs WHERE id = 1`,
	).Scan(&cfg.Threshold, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ml_configs has no row", model.ErrThresholdFetch)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrThresholdFetch, err)
	}
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}

// SetThreshold upserts the single config row. Values outside [0,1] or with
// more than model.ThresholdDecimals decimals are rejected before reaching
// the database.
func (s *PostgresMetadataStore) SetThreshold(ctx context.Context, threshold float64) error {
	if err := (model.ThresholdConfig{Threshold: threshold}).Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ml_configs (id, threshold, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET threshold = EXCLUDED.threshold, updated_at = EXCLUDED.updated_at`,
		threshold,
	)
	if err != nil {
		return fmt.Errorf("%w: set threshold: %w", model.ErrPersistenceFailure, err)
	}
	return nil
}

func (s *PostgresMetadataStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
