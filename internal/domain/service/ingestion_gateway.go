package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/domain/useCases"
	"fraudScoringApp/internal/lib/logger"
	"fraudScoringApp/internal/lib/logger/sl"
	"fraudScoringApp/internal/metrics"
	"fraudScoringApp/internal/traces"
)

const DefaultPushTimeout = 5 * time.Second

// IngestionGateway validates transactions and hands them to the channel.
// Accept answers before the push completes: an accepted transaction is
// accepted for processing, not durably queued. Push failures after the
// answer are logged and counted.
type IngestionGateway struct {
	validator   useCases.TransactionValidator
	queue       repository.TransactionQueue
	pushTimeout time.Duration
	log         *slog.Logger

	inflight sync.WaitGroup
}

func NewIngestionGateway(
	validator useCases.TransactionValidator,
	queue repository.TransactionQueue,
	pushTimeout time.Duration,
	log *slog.Logger,
) *IngestionGateway {
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	return &IngestionGateway{
		validator:   validator,
		queue:       queue,
		pushTimeout: pushTimeout,
		log:         log.With(sl.Component("gateway")),
	}
}

var _ useCases.Ingestor = (*IngestionGateway)(nil)

func (g *IngestionGateway) Accept(ctx context.Context, raw *model.RawTransaction) (*model.Accepted, error) {
	ctx, span := traces.StartSpan(ctx, "gateway.accept")
	defer span.End()

	tx, err := g.validator.Validate(raw)
	if err != nil {
		metrics.IngestedTotal.WithLabelValues("rejected").Inc()
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			g.log.Debug("transaction rejected", slog.Int("field_errors", len(verr.Errors)))
		}
		traces.RecordError(span, err)
		return nil, err
	}

	queued := &model.QueuedTransaction{
		TransactionRequest: *tx,
		CorrelationID:      uuid.NewString(),
		EnqueuedAt:         time.Now().UTC(),
	}
	span.SetAttributes(
		traces.CorrelationID(queued.CorrelationID),
		traces.TransactionID(queued.TransactionID),
	)

	// The push outlives the request that triggered it.
	pushCtx := logger.WithCorrelationID(context.WithoutCancel(ctx), queued.CorrelationID)
	g.inflight.Add(1)
	go g.push(pushCtx, queued)

	metrics.IngestedTotal.WithLabelValues("accepted").Inc()
	return &model.Accepted{CorrelationID: queued.CorrelationID}, nil
}

func (g *IngestionGateway) push(ctx context.Context, tx *model.QueuedTransaction) {
	defer g.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, g.pushTimeout)
	defer cancel()

	log := g.log.With(
		slog.String("correlation_id", tx.CorrelationID),
		slog.String("transaction_id", tx.TransactionID),
	)

	length, err := g.queue.Push(ctx, tx)
	if err != nil {
		metrics.QueuePushFailures.Inc()
		log.Error("enqueue failed after acceptance", sl.Err(err))
		return
	}
	log.Debug("transaction enqueued", slog.Int64("queue_length", length))
}

// Wait blocks until every in-flight push has finished or ctx is done.
func (g *IngestionGateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
