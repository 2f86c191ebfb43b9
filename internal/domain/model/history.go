package model

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// HistoryStatus records how far a transaction got through scoring.
type HistoryStatus string

const (
	StatusScored        HistoryStatus = "scored"
	StatusScoringFailed HistoryStatus = "scoring_failed"
)

// Storage-level minimums shared by the validator and the history schema.
const (
	MinAccountLength    = 5
	MinDeviceHashLength = 8
)

// TransactionHistoryRecord is the append-only persisted projection of a
// scored (or unscorable) transaction.
type TransactionHistoryRecord struct {
	TransactionRequest
	CorrelationID string
	Status        HistoryStatus
	Decision      *ScoringDecision
	CreatedAt     time.Time
}

// NewHistoryRecord projects a queued transaction and its decision. A nil
// decision yields a StatusScoringFailed record.
func NewHistoryRecord(tx *QueuedTransaction, decision *ScoringDecision) *TransactionHistoryRecord {
	status := StatusScored
	if decision == nil {
		status = StatusScoringFailed
	}
	return &TransactionHistoryRecord{
		TransactionRequest: tx.TransactionRequest,
		CorrelationID:      tx.CorrelationID,
		Status:             status,
		Decision:           decision,
		CreatedAt:          time.Now().UTC(),
	}
}

// Validate enforces the record invariants the storage layer also checks.
func (r *TransactionHistoryRecord) Validate() error {
	switch {
	case r.TransactionID == "":
		return fmt.Errorf("%w: empty transaction_id", ErrPersistenceFailure)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrPersistenceFailure)
	case utf8.RuneCountInString(r.SenderAccount) < MinAccountLength:
		return fmt.Errorf("%w: sender_account shorter than %d", ErrPersistenceFailure, MinAccountLength)
	case utf8.RuneCountInString(r.ReceiverAccount) < MinAccountLength:
		return fmt.Errorf("%w: receiver_account shorter than %d", ErrPersistenceFailure, MinAccountLength)
	case utf8.RuneCountInString(r.DeviceHash) < MinDeviceHashLength:
		return fmt.Errorf("%w: device_hash shorter than %d", ErrPersistenceFailure, MinDeviceHashLength)
	}
	return nil
}
