package model

import "time"

// TransactionType is the closed set of transaction kinds accepted at ingestion.
type TransactionType string

const (
	TransactionTransfer   TransactionType = "transfer"
	TransactionPayment    TransactionType = "payment"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionDeposit    TransactionType = "deposit"
)

// TransactionTypes lists every accepted TransactionType.
var TransactionTypes = []TransactionType{
	TransactionTransfer,
	TransactionPayment,
	TransactionWithdrawal,
	TransactionDeposit,
}

// Valid reports whether t belongs to the accepted enumeration.
func (t TransactionType) Valid() bool {
	for _, known := range TransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RiskSignals are optional upstream risk scores attached to a transaction.
// A nil signal is imputed by the scoring engine.
type RiskSignals struct {
	TimeSinceLastTransaction *float64 `json:"time_since_last_transaction,omitempty"`
	SpendingDeviationScore   *float64 `json:"spending_deviation_score,omitempty"`
	VelocityScore            *float64 `json:"velocity_score,omitempty"`
	GeoAnomalyScore          *float64 `json:"geo_anomaly_score,omitempty"`
}

// TransactionRequest is the canonical, validated form of an inbound transaction.
// It is built once by the validator and never mutated afterwards.
type TransactionRequest struct {
	TransactionID    string          `json:"transaction_id"`
	Timestamp        time.Time       `json:"timestamp"`
	SenderAccount    string          `json:"sender_account"`
	ReceiverAccount  string          `json:"receiver_account"`
	Amount           float64         `json:"amount"`
	TransactionType  TransactionType `json:"transaction_type"`
	MerchantCategory string          `json:"merchant_category"`
	Location         string          `json:"location"`
	DeviceUsed       string          `json:"device_used"`
	PaymentChannel   string          `json:"payment_channel"`
	IPAddress        string          `json:"ip_address"`
	DeviceHash       string          `json:"device_hash"`
	RiskSignals
}

// QueuedTransaction is a TransactionRequest tagged with the correlation id
// assigned at ingestion. It only exists inside the queue encoding.
type QueuedTransaction struct {
	TransactionRequest
	CorrelationID string    `json:"correlation_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Accepted acknowledges that a transaction was handed to the channel for
// asynchronous scoring. It does not confirm the enqueue.
type Accepted struct {
	CorrelationID string `json:"correlation_id"`
}
