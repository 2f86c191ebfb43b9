package useCases

import (
	"context"
	"net/http"

	"fraudScoringApp/internal/domain/model"
)

// TransactionValidator turns untrusted input into a canonical transaction.
// Rejections are returned as *model.ValidationError.
type TransactionValidator interface {
	Validate(raw *model.RawTransaction) (*model.TransactionRequest, error)
}

// Ingestor accepts transactions for asynchronous scoring. Rejections are
// returned as *model.ValidationError.
type Ingestor interface {
	Accept(ctx context.Context, raw *model.RawTransaction) (*model.Accepted, error)
}

// ThresholdProvider serves the current decision threshold.
type ThresholdProvider interface {
	// Current never blocks and always returns a value in [0,1].
	Current() float64

	// Refresh fetches the remote value. On failure it returns the cached
	// value with fresh == false.
	Refresh(ctx context.Context) (threshold float64, fresh bool)
}

// Scorer computes a fraud decision for one queued transaction.
type Scorer interface {
	Score(ctx context.Context, tx *model.QueuedTransaction, threshold float64) (*model.ScoringDecision, error)
}

// StatisticsService defines the interface for fraud statistics calculation and querying.
type StatisticsService interface {
	ProcessDecision(ctx context.Context, event *model.DecisionEvent) error
	GetStatistics(ctx context.Context, txType model.TransactionType) (*model.Statistics, error)
	GetAllStatistics(ctx context.Context) ([]*model.Statistics, error)
}

// Broadcaster defines an interface for pushing fraud alerts to WebSocket/API layers.
type Broadcaster interface {
	BroadcastAlert(event *model.DecisionEvent)
	Handler() http.HandlerFunc
}

// Classifier is a loaded fraud model. Predict receives exactly NumFeatures
// values in the order of the model's feature list.
type Classifier interface {
	Predict(features []float64) (float64, error)
	NumFeatures() int
}
