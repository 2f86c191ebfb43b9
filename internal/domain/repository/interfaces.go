// Package repository defines the storage and transport contracts the domain
// services depend on. Infrastructure packages provide the implementations.
package repository

import (
	"context"
	"time"

	"fraudScoringApp/internal/domain/model"
)

// TransactionQueue is the durable FIFO channel between ingestion and scoring.
//
// Pop removes the oldest message atomically, so a message is handed to at
// most one concurrent popper. There is no acknowledgment: once Pop returns
// a message the queue has forgotten it.
type TransactionQueue interface {
	// Push appends a message at the producer end and returns the new length.
	Push(ctx context.Context, tx *model.QueuedTransaction) (int64, error)

	// Pop blocks up to timeout (0 waits indefinitely) for the oldest message.
	// A nil message with a nil error means the queue stayed empty.
	// Undecodable payloads are reported with model.ErrDecodeFailure.
	Pop(ctx context.Context, timeout time.Duration) (*model.QueuedTransaction, error)

	Length(ctx context.Context) (int64, error)

	// Peek returns up to n of the oldest messages, oldest first, without removing them.
	Peek(ctx context.Context, n int) ([]*model.QueuedTransaction, error)

	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// HistoryStore persists finalized transaction records.
type HistoryStore interface {
	// Insert stores rec atomically. A second insert of the same transaction
	// id fails with model.ErrDuplicateTransaction and leaves the first intact;
	// any other failure wraps model.ErrPersistenceFailure.
	Insert(ctx context.Context, rec *model.TransactionHistoryRecord) error

	// Get returns the record stored for transactionID or model.ErrNotFound.
	Get(ctx context.Context, transactionID string) (*model.TransactionHistoryRecord, error)

	// Health performs a trivial round trip.
	Health(ctx context.Context) error
}

// MetadataSource is the remote source of the decision threshold.
type MetadataSource interface {
	GetThreshold(ctx context.Context) (float64, error)
	HealthCheck(ctx context.Context) error
}

// ThresholdAdmin is the out-of-band administrative write path for the threshold.
type ThresholdAdmin interface {
	GetConfig(ctx context.Context) (*model.ThresholdConfig, error)
	SetThreshold(ctx context.Context, threshold float64) error
}

// DecisionPublisher emits decision events after persistence.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, event *model.DecisionEvent) error
	Close() error
}

// DecisionCache keeps recent decisions for status lookup by correlation id.
type DecisionCache interface {
	SaveDecision(ctx context.Context, event *model.DecisionEvent) error

	// GetDecision returns model.ErrNotFound when nothing is cached for the id.
	GetDecision(ctx context.Context, correlationID string) (*model.DecisionEvent, error)
}

// StatisticsCache defines the interface for caching statistics
// This is used for high-performance, in-memory or near-memory storage
// Implementations should prioritize speed over durability
type StatisticsCache interface {
	SaveStatistics(ctx context.Context, stats *model.Statistics) error
	GetStatistics(ctx context.Context, txType model.TransactionType) (*model.Statistics, error)
	GetAllStatistics(ctx context.Context) ([]*model.Statistics, error)
}

// StatisticsPersistence defines the interface for persistent statistics storage
// Implementations should prioritize durability and consistency over speed
type StatisticsPersistence interface {
	SaveStatistics(ctx context.Context, stats *model.Statistics) error
	GetStatistics(ctx context.Context, txType model.TransactionType) (*model.Statistics, error)
	GetAllStatistics(ctx context.Context) ([]*model.Statistics, error)
}

// EventPersistence stores individual decision events for analytics and audit.
type EventPersistence interface {
	SaveDecisionEvent(ctx context.Context, event *model.DecisionEvent) error

	// GetDecisionEventsSince returns events whose transaction timestamp is at
	// or after the given unix time.
	GetDecisionEventsSince(ctx context.Context, since int64) ([]*model.DecisionEvent, error)
}
