package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/useCases"
	"fraudScoringApp/internal/metrics"
	"fraudScoringApp/internal/traces"
)

// ScoringEngine turns a queued transaction into a ScoringDecision using a
// classifier and its fixed, ordered feature list.
type ScoringEngine struct {
	classifier   useCases.Classifier
	featureNames []string
	modelVersion string
	now          Clock
}

// NewScoringEngine checks the feature list against the classifier's input
// width. A mismatch is a deployment error and fails construction.
func NewScoringEngine(classifier useCases.Classifier, featureNames []string, modelVersion string) (*ScoringEngine, error) {
	if classifier == nil {
		return nil, fmt.Errorf("scoring engine: classifier is required")
	}
	if len(featureNames) == 0 {
		return nil, fmt.Errorf("scoring engine: empty feature list")
	}
	if n := classifier.NumFeatures(); n != len(featureNames) {
		return nil, fmt.Errorf("scoring engine: classifier expects %d features, feature list has %d", n, len(featureNames))
	}

	names := make([]string, len(featureNames))
	copy(names, featureNames)

	return &ScoringEngine{
		classifier:   classifier,
		featureNames: names,
		modelVersion: modelVersion,
		now:          time.Now,
	}, nil
}

var _ useCases.Scorer = (*ScoringEngine)(nil)

// FeatureNames returns a copy of the ordered feature list.
func (e *ScoringEngine) FeatureNames() []string {
	names := make([]string, len(e.featureNames))
	copy(names, e.featureNames)
	return names
}

func (e *ScoringEngine) Score(ctx context.Context, tx *model.QueuedTransaction, threshold float64) (*model.ScoringDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", model.ErrScoringFailure)
	}

	_, span := traces.StartSpan(ctx, "scoring.score",
		traces.CorrelationID(tx.CorrelationID),
		traces.TransactionID(tx.TransactionID),
	)
	defer span.End()

	vec := ExtractFeatures(e.featureNames, FeatureSource(&tx.TransactionRequest))

	start := time.Now()
	raw, err := e.classifier.Predict(vec)
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		err = fmt.Errorf("%w: %w", model.ErrScoringFailure, err)
		traces.RecordError(span, err)
		return nil, err
	}
	if math.IsNaN(raw) || raw < 0 || raw > 1 {
		err = fmt.Errorf("%w: classifier returned probability %v", model.ErrScoringFailure, raw)
		traces.RecordError(span, err)
		return nil, err
	}

	// The raw probability decides; only the reported value is rounded.
	p := RoundProbability(raw)
	decision := &model.ScoringDecision{
		FraudProbability: p,
		IsFraud:          raw >= threshold,
		Threshold:        threshold,
		Confidence:       ConfidenceBand(raw),
		ModelVersion:     e.modelVersion,
		FeaturesUsed:     len(vec),
		PredictionTime:   e.now().UTC(),
	}

	span.SetAttributes(traces.Probability(p))
	metrics.FraudProbability.Observe(p)
	metrics.DecisionsTotal.WithLabelValues(strconv.FormatBool(decision.IsFraud), string(decision.Confidence)).Inc()

	return decision, nil
}

// RoundProbability rounds to 4 decimal digits.
func RoundProbability(p float64) float64 {
	return math.Round(p*1e4) / 1e4
}

// ConfidenceBand classifies a probability. Bands are checked in order and
// the boundaries are inclusive.
func ConfidenceBand(p float64) model.Confidence {
	switch {
	case p >= 0.9 || p <= 0.1:
		return model.ConfidenceHigh
	case p >= 0.7 || p <= 0.3:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
