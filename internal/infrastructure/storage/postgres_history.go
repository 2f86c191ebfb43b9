package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/metrics"
	"fraudScoringApp/internal/traces"
)

const uniqueViolation = "23505"

// PostgresHistoryStore persists history records in transactions_history.
// Uniqueness of transaction_id is enforced by a unique index, so concurrent
// inserts of the same id resolve in the database.
type PostgresHistoryStore struct {
	db *sql.DB
}

func NewPostgresHistoryStore(db *sql.DB) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

var _ repository.HistoryStore = (*PostgresHistoryStore)(nil)

func (s *PostgresHistoryStore) Insert(ctx context.Context, rec *model.TransactionHistoryRecord) error {
	ctx, span := traces.StartSpan(ctx, "history.insert",
		traces.CorrelationID(rec.CorrelationID),
		traces.TransactionID(rec.TransactionID),
	)
	defer span.End()

	if err := rec.Validate(); err != nil {
		metrics.HistoryInsertTotal.WithLabelValues("invalid").Inc()
		traces.RecordError(span, err)
		return err
	}

	d := decisionColumns(rec.Decision)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions_history (
			transaction_id, correlation_id, occurred_at,
			sender_account, receiver_account, amount, transaction_type,
			merchant_category, location, device_used, payment_channel,
			ip_address, device_hash,
			time_since_last_transaction, spending_deviation_score, velocity_score, geo_anomaly_score,
			status, fraud_probability, is_fraud, threshold, confidence,
			model_version, features_used, prediction_time, created_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26
		)`,
		rec.TransactionID, rec.CorrelationID, rec.Timestamp.UTC(),
		rec.SenderAccount, rec.ReceiverAccount, rec.Amount, string(rec.TransactionType),
		rec.MerchantCategory, rec.Location, rec.DeviceUsed, rec.PaymentChannel,
		rec.IPAddress, rec.DeviceHash,
		nullFloat(rec.TimeSinceLastTransaction), nullFloat(rec.SpendingDeviationScore),
		nullFloat(rec.VelocityScore), nullFloat(rec.GeoAnomalyScore),
		string(rec.Status), d.probability, d.isFraud, d.threshold, d.confidence,
		d.modelVersion, d.featuresUsed, d.predictionTime, rec.CreatedAt.UTC(),
	)
	if err != nil {
		err = classifyInsertError(rec.TransactionID, err)
		if errors.Is(err, model.ErrDuplicateTransaction) {
			metrics.HistoryInsertTotal.WithLabelValues("duplicate").Inc()
		} else {
			metrics.HistoryInsertTotal.WithLabelValues("failure").Inc()
		}
		traces.RecordError(span, err)
		return err
	}

	metrics.HistoryInsertTotal.WithLabelValues("success").Inc()
	return nil
}

func (s *PostgresHistoryStore) Get(ctx context.Context, transactionID string) (*model.TransactionHistoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, correlation_id, occurred_at,
		       sender_account, receiver_account, amount, transaction_type,
		       merchant_category, location, device_used, payment_channel,
		       host(ip_address), device_hash,
		       time_since_last_transaction, spending_deviation_score, velocity_score, geo_anomaly_score,
		       status, fraud_probability, is_fraud, threshold, confidence,
		       model_version, features_used, prediction_time, created_at
		FROM transactions_history WHERE transaction_id = $1`, transactionID)

	var (
		rec                      model.TransactionHistoryRecord
		txType, status           string
		tslt, sds, vel, geo      sql.NullFloat64
		probability, threshold   sql.NullFloat64
		isFraud                  sql.NullBool
		confidence, modelVersion sql.NullString
		featuresUsed             sql.NullInt64
		predictionTime           sql.NullTime
	)
	err := row.Scan(
		&rec.TransactionID, &rec.CorrelationID, &rec.Timestamp,
		&rec.SenderAccount, &rec.ReceiverAccount, &rec.Amount, &txType,
		&rec.MerchantCategory, &rec.Location, &rec.DeviceUsed, &rec.PaymentChannel,
		&rec.IPAddress, &rec.DeviceHash,
		&tslt, &sds, &vel, &geo,
		&status, &probability, &isFraud, &threshold, &confidence,
		&modelVersion, &featuresUsed, &predictionTime, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", model.ErrPersistenceFailure, transactionID, err)
	}

	rec.Timestamp = rec.Timestamp.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.TransactionType = model.TransactionType(txType)
	rec.Status = model.HistoryStatus(status)
	rec.TimeSinceLastTransaction = floatPtr(tslt)
	rec.SpendingDeviationScore = floatPtr(sds)
	rec.VelocityScore = floatPtr(vel)
	rec.GeoAnomalyScore = floatPtr(geo)

	if probability.Valid {
		rec.Decision = &model.ScoringDecision{
			FraudProbability: probability.Float64,
			IsFraud:          isFraud.Bool,
			Threshold:        threshold.Float64,
			Confidence:       model.Confidence(confidence.String),
			ModelVersion:     modelVersion.String,
			FeaturesUsed:     int(featuresUsed.Int64),
			PredictionTime:   predictionTime.Time.UTC(),
		}
	}

	return &rec, nil
}

func (s *PostgresHistoryStore) Health(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: health check: %w", model.ErrPersistenceFailure, err)
	}
	return nil
}

func classifyInsertError(transactionID string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: transaction_id %s", model.ErrDuplicateTransaction, transactionID)
	}
	return fmt.Errorf("%w: insert %s: %w", model.ErrPersistenceFailure, transactionID, err)
}

type decisionRow struct {
	probability, threshold sql.NullFloat64
	isFraud                sql.NullBool
	confidence             sql.NullString
	modelVersion           sql.NullString
	featuresUsed           sql.NullInt64
	predictionTime         sql.NullTime
}

func decisionColumns(d *model.ScoringDecision) decisionRow {
	if d == nil {
		return decisionRow{}
	}
	return decisionRow{
		probability:    sql.NullFloat64{Float64: d.FraudProbability, Valid: true},
		threshold:      sql.NullFloat64{Float64: d.Threshold, Valid: true},
		isFraud:        sql.NullBool{Bool: d.IsFraud, Valid: true},
		confidence:     sql.NullString{String: string(d.Confidence), Valid: true},
		modelVersion:   sql.NullString{String: d.ModelVersion, Valid: true},
		featuresUsed:   sql.NullInt64{Int64: int64(d.FeaturesUsed), Valid: true},
		predictionTime: sql.NullTime{Time: d.PredictionTime.UTC(), Valid: true},
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
