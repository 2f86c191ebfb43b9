package model

import (
	"fmt"
	"math"
	"time"
)

// Confidence is the band a fraud probability falls into.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ScoringDecision is the outcome of scoring one queued transaction.
type ScoringDecision struct {
	FraudProbability float64    `json:"fraud_probability"`
	IsFraud          bool       `json:"is_fraud"`
	Threshold        float64    `json:"threshold"`
	Confidence       Confidence `json:"confidence"`
	ModelVersion     string     `json:"model_version"`
	FeaturesUsed     int        `json:"features_used"`
	PredictionTime   time.Time  `json:"prediction_time"`
}

// ThresholdConfig is the single decision threshold row owned by the metadata store.
type ThresholdConfig struct {
	Threshold float64
	UpdatedAt time.Time
}

// ThresholdDecimals is the precision the metadata store keeps (NUMERIC(5,3)).
const ThresholdDecimals = 3

// ValidThreshold reports whether v is usable as a decision threshold.
func ValidThreshold(v float64) bool {
	return v >= 0 && v <= 1
}

// StorableThreshold reports whether v survives the store without rounding.
func StorableThreshold(v float64) bool {
	scaled := v * math.Pow10(ThresholdDecimals)
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

// Validate checks the [0,1] range and the stored precision.
func (c ThresholdConfig) Validate() error {
	msg := ""
	switch {
	case math.IsNaN(c.Threshold) || !ValidThreshold(c.Threshold):
		msg = "must be between 0 and 1"
	case !StorableThreshold(c.Threshold):
		msg = fmt.Sprintf("must have at most %d decimal places", ThresholdDecimals)
	default:
		return nil
	}
	return &ValidationError{Errors: []FieldError{{Field: "threshold", Message: msg}}}
}

// DecisionEvent is published after a decision has been persisted.
type DecisionEvent struct {
	CorrelationID   string           `json:"correlation_id"`
	TransactionID   string           `json:"transaction_id"`
	TransactionType TransactionType  `json:"transaction_type"`
	SenderAccount   string           `json:"sender_account"`
	ReceiverAccount string           `json:"receiver_account"`
	Amount          float64          `json:"amount"`
	Timestamp       time.Time        `json:"timestamp"`
	Status          HistoryStatus    `json:"status"`
	Decision        *ScoringDecision `json:"decision,omitempty"`
}

// NewDecisionEvent builds the event for a persisted history record.
func NewDecisionEvent(rec *TransactionHistoryRecord) *DecisionEvent {
	return &DecisionEvent{
		CorrelationID:   rec.CorrelationID,
		TransactionID:   rec.TransactionID,
		TransactionType: rec.TransactionType,
		SenderAccount:   rec.SenderAccount,
		ReceiverAccount: rec.ReceiverAccount,
		Amount:          rec.Amount,
		Timestamp:       rec.Timestamp,
		Status:          rec.Status,
		Decision:        rec.Decision,
	}
}

// Flagged reports whether the event carries a positive fraud decision.
func (e *DecisionEvent) Flagged() bool {
	return e.Decision != nil && e.Decision.IsFraud
}
