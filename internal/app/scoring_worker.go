package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/domain/useCases"
	"fraudScoringApp/internal/lib/logger"
	"fraudScoringApp/internal/lib/logger/sl"
	"fraudScoringApp/internal/metrics"
	"fraudScoringApp/internal/traces"
)

// Worker outcomes, also used as metric labels.
const (
	OutcomeScored             = "scored"
	OutcomeScoringFailed      = "scoring_failed"
	OutcomeDuplicate          = "duplicate"
	OutcomePersistenceFailure = "persistence_failure"
	OutcomeDecodeFailure      = "decode_failure"
)

// ThresholdSource hands out the threshold for one scoring request.
type ThresholdSource interface {
	ForRequest(ctx context.Context) float64
}

type WorkerConfig struct {
	Concurrency    int
	PopTimeout     time.Duration
	MaxRetries     uint64 // scoring attempts after the first one
	RetryInterval  time.Duration
	ProcessTimeout time.Duration
	PublishTimeout time.Duration // bound on one decision event publish
}

func (c *WorkerConfig) setDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 50 * time.Millisecond
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 30 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 500 * time.Millisecond
	}
}

// ScoringWorker drains the transaction channel: pop, score, persist, publish.
// Every instance is an independent consumer, so running N of them (in one
// process or many) scales scoring horizontally.
type ScoringWorker struct {
	queue      repository.TransactionQueue
	thresholds ThresholdSource
	scorer     useCases.Scorer
	history    repository.HistoryStore
	publisher  repository.DecisionPublisher // may be nil
	cfg        WorkerConfig
	log        *slog.Logger
}

func NewScoringWorker(
	queue repository.TransactionQueue,
	thresholds ThresholdSource,
	scorer useCases.Scorer,
	history repository.HistoryStore,
	publisher repository.DecisionPublisher,
	cfg WorkerConfig,
	log *slog.Logger,
) *ScoringWorker {
	cfg.setDefaults()
	return &ScoringWorker{
		queue:      queue,
		thresholds: thresholds,
		scorer:     scorer,
		history:    history,
		publisher:  publisher,
		cfg:        cfg,
		log:        log.With(sl.Component("worker")),
	}
}

// Run starts cfg.Concurrency consumer loops and blocks until ctx is done.
// A loop that is processing a message finishes it before returning.
func (w *ScoringWorker) Run(ctx context.Context) error {
	w.log.Info("scoring workers starting", slog.Int("concurrency", w.cfg.Concurrency))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			return w.loop(ctx, id)
		})
	}
	err := g.Wait()

	w.log.Info("scoring workers stopped")
	return err
}

func (w *ScoringWorker) loop(ctx context.Context, id int) error {
	log := w.log.With(slog.Int("worker_id", id))

	for {
		if ctx.Err() != nil {
			return nil
		}

		tx, err := w.queue.Pop(ctx, w.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, model.ErrDecodeFailure) {
				// The message already left the channel; nothing identifies it.
				metrics.WorkerOutcomes.WithLabelValues(OutcomeDecodeFailure).Inc()
				log.Error("dropping undecodable message", sl.Err(err))
				continue
			}
			log.Warn("channel pop failed", sl.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.PopTimeout):
			}
			continue
		}
		if tx == nil {
			continue
		}

		w.Process(ctx, tx)
	}
}

// Process handles one popped transaction and returns its outcome. The
// caller's cancellation does not interrupt a message once popped; the work
// is bounded by cfg.ProcessTimeout instead.
func (w *ScoringWorker) Process(ctx context.Context, tx *model.QueuedTransaction) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ProcessTimeout)
	defer cancel()

	ctx = logger.WithCorrelationID(ctx, tx.CorrelationID)
	ctx, span := traces.StartSpan(ctx, "worker.process",
		traces.CorrelationID(tx.CorrelationID),
		traces.TransactionID(tx.TransactionID),
	)
	defer span.End()

	log := w.log.With(
		slog.String("correlation_id", tx.CorrelationID),
		slog.String("transaction_id", tx.TransactionID),
	)

	outcome := w.process(ctx, tx, log)
	metrics.WorkerOutcomes.WithLabelValues(outcome).Inc()
	return outcome
}

func (w *ScoringWorker) process(ctx context.Context, tx *model.QueuedTransaction, log *slog.Logger) string {
	threshold := w.thresholds.ForRequest(ctx)

	decision, err := w.score(ctx, tx, threshold)
	if err != nil {
		log.Error("scoring failed, recording transaction as unscored", sl.Err(err))
	}

	rec := model.NewHistoryRecord(tx, decision)
	if err := w.history.Insert(ctx, rec); err != nil {
		if errors.Is(err, model.ErrDuplicateTransaction) {
			log.Info("transaction already recorded, skipping duplicate")
			return OutcomeDuplicate
		}
		log.Error("failed to persist history record", sl.Err(err))
		return OutcomePersistenceFailure
	}

	if decision != nil {
		log.Info("transaction scored",
			slog.Float64("fraud_probability", decision.FraudProbability),
			slog.Bool("is_fraud", decision.IsFraud),
			slog.Float64("threshold", decision.Threshold),
			slog.String("confidence", string(decision.Confidence)),
		)
	}

	w.publish(ctx, rec, log)

	if decision == nil {
		return OutcomeScoringFailed
	}
	return OutcomeScored
}

// publish hands the decision event to the sink. The record is already
// persisted, so a slow or failing sink only loses the event.
func (w *ScoringWorker) publish(ctx context.Context, rec *model.TransactionHistoryRecord, log *slog.Logger) {
	if w.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.PublishTimeout)
	defer cancel()

	if err := w.publisher.PublishDecision(ctx, model.NewDecisionEvent(rec)); err != nil {
		log.Warn("failed to publish decision event", sl.Err(err))
	}
}

// score retries the scorer up to cfg.MaxRetries extra times.
func (w *ScoringWorker) score(ctx context.Context, tx *model.QueuedTransaction, threshold float64) (*model.ScoringDecision, error) {
	var (
		decision *model.ScoringDecision
		attempts int
	)

	op := func() error {
		attempts++
		d, err := w.scorer.Score(ctx, tx, threshold)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		decision = d
		return nil
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(w.cfg.RetryInterval),
		backoff.WithMaxElapsedTime(0),
	)
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, w.cfg.MaxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return decision, nil
}
