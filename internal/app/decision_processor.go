package app

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/domain/useCases"
	"fraudScoringApp/internal/infrastructure/queue"
	"fraudScoringApp/internal/lib/logger/sl"
)

const (
	dedupTTL             = 10 * time.Minute
	dedupCleanupInterval = time.Minute
)

// DecisionProcessor consumes decision events and fans them out: decision
// cache, windowed statistics, analytics store and fraud alerts. Each sink is
// optional and its failures are logged without stopping the others.
type DecisionProcessor struct {
	consumer    queue.DecisionConsumer
	decisions   repository.DecisionCache    // may be nil
	stats       useCases.StatisticsService  // may be nil
	events      repository.EventPersistence // may be nil
	broadcaster useCases.Broadcaster        // may be nil
	dedup       *gocache.Cache
	log         *slog.Logger
}

func NewDecisionProcessor(
	consumer queue.DecisionConsumer,
	decisions repository.DecisionCache,
	stats useCases.StatisticsService,
	events repository.EventPersistence,
	broadcaster useCases.Broadcaster,
	log *slog.Logger,
) *DecisionProcessor {
	return &DecisionProcessor{
		consumer:    consumer,
		decisions:   decisions,
		stats:       stats,
		events:      events,
		broadcaster: broadcaster,
		dedup:       gocache.New(dedupTTL, dedupCleanupInterval),
		log:         log.With(sl.Component("processor")),
	}
}

// Run consumes until ctx is done or the consumer's channel closes.
func (p *DecisionProcessor) Run(ctx context.Context) error {
	events, err := p.consumer.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event == nil {
				continue
			}

			p.Handle(ctx, event)

			if err := p.consumer.Commit(ctx, event); err != nil && ctx.Err() == nil {
				p.log.Warn("failed to commit decision event",
					slog.String("correlation_id", event.CorrelationID), sl.Err(err))
			}
		}
	}
}

// Handle processes one event. It reports false for a repeated correlation id.
func (p *DecisionProcessor) Handle(ctx context.Context, event *model.DecisionEvent) bool {
	if err := p.dedup.Add(event.CorrelationID, struct{}{}, gocache.DefaultExpiration); err != nil {
		return false
	}

	log := p.log.With(
		slog.String("correlation_id", event.CorrelationID),
		slog.String("transaction_id", event.TransactionID),
	)

	if p.decisions != nil {
		if err := p.decisions.SaveDecision(ctx, event); err != nil {
			log.Warn("failed to cache decision", sl.Err(err))
		}
	}

	if p.stats != nil {
		if err := p.stats.ProcessDecision(ctx, event); err != nil {
			log.Warn("failed to update statistics", sl.Err(err))
		}
	}

	if p.events != nil {
		if err := p.events.SaveDecisionEvent(ctx, event); err != nil {
			log.Warn("failed to store decision event", sl.Err(err))
		}
	}

	if p.broadcaster != nil && event.Flagged() {
		p.broadcaster.BroadcastAlert(event)
	}

	return true
}
