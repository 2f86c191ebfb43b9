package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/domain/useCases"
	"fraudScoringApp/internal/lib/logger/sl"
)

const (
	window5Min = 5 * time.Minute
	window1H   = time.Hour
	window24H  = 24 * time.Hour

	DefaultStatisticsCleanupInterval = time.Minute
)

// observation is one scored decision as seen by the statistics service.
// Windows are measured from the time the decision was observed, not from
// the transaction timestamp, which may be arbitrarily old.
type observation struct {
	correlationID string
	observedAt    time.Time
	flagged       bool
	amount        float64
}

// FraudStatisticsService keeps per transaction type counts of scored and
// flagged decisions over sliding windows. Results are mirrored to a fast
// cache and, when configured, to durable storage.
type FraudStatisticsService struct {
	mu           sync.RWMutex
	stats        map[model.TransactionType]*model.Statistics
	observations map[model.TransactionType][]observation
	seen         map[string]struct{}

	cache           repository.StatisticsCache       // may be nil
	storage         repository.StatisticsPersistence // may be nil
	cleanupInterval time.Duration
	now             Clock
	log             *slog.Logger
}

type StatisticsOption func(*FraudStatisticsService)

func WithStatisticsClock(now Clock) StatisticsOption {
	return func(s *FraudStatisticsService) { s.now = now }
}

func WithCleanupInterval(d time.Duration) StatisticsOption {
	return func(s *FraudStatisticsService) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

func NewFraudStatisticsService(
	cache repository.StatisticsCache,
	storage repository.StatisticsPersistence,
	log *slog.Logger,
	opts ...StatisticsOption,
) *FraudStatisticsService {
	s := &FraudStatisticsService{
		stats:           make(map[model.TransactionType]*model.Statistics),
		observations:    make(map[model.TransactionType][]observation),
		seen:            make(map[string]struct{}),
		cache:           cache,
		storage:         storage,
		cleanupInterval: DefaultStatisticsCleanupInterval,
		now:             time.Now,
		log:             log.With(sl.Component("statistics")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ useCases.StatisticsService = (*FraudStatisticsService)(nil)

// Run expires old observations every cleanup interval until ctx is done.
func (s *FraudStatisticsService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ExpireOld(ctx)
		}
	}
}

// ExpireOld drops observations older than the widest window and recomputes
// every type's figures.
func (s *FraudStatisticsService) ExpireOld(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	updated := make([]*model.Statistics, 0, len(s.observations))
	for txType, list := range s.observations {
		kept := list[:0]
		for _, o := range list {
			if now.Sub(o.observedAt) < window24H {
				kept = append(kept, o)
			} else {
				delete(s.seen, o.correlationID)
			}
		}
		s.observations[txType] = kept

		stats := compute(txType, kept, now)
		s.stats[txType] = stats
		cp := *stats
		updated = append(updated, &cp)
	}
	s.mu.Unlock()

	for _, stats := range updated {
		if err := s.mirror(ctx, stats); err != nil {
			s.log.Warn("failed to mirror expired statistics",
				slog.String("transaction_type", string(stats.TransactionType)), sl.Err(err))
		}
	}
}

// ProcessDecision folds one decision event into the windows. Events without
// a decision and repeated correlation ids are ignored.
func (s *FraudStatisticsService) ProcessDecision(ctx context.Context, event *model.DecisionEvent) error {
	if event == nil || event.Decision == nil || event.Status != model.StatusScored {
		return nil
	}

	now := s.now().UTC()

	s.mu.Lock()
	if _, dup := s.seen[event.CorrelationID]; dup {
		s.mu.Unlock()
		return nil
	}
	s.seen[event.CorrelationID] = struct{}{}

	list := append(s.observations[event.TransactionType], observation{
		correlationID: event.CorrelationID,
		observedAt:    now,
		flagged:       event.Decision.IsFraud,
		amount:        event.Amount,
	})
	s.observations[event.TransactionType] = list

	stats := compute(event.TransactionType, list, now)
	s.stats[event.TransactionType] = stats
	cp := *stats
	s.mu.Unlock()

	return s.mirror(ctx, &cp)
}

func (s *FraudStatisticsService) mirror(ctx context.Context, stats *model.Statistics) error {
	var err error
	if s.cache != nil {
		err = s.cache.SaveStatistics(ctx, stats)
	}
	if s.storage != nil {
		if storageErr := s.storage.SaveStatistics(ctx, stats); storageErr != nil && err == nil {
			err = storageErr
		}
	}
	return err
}

func compute(txType model.TransactionType, list []observation, now time.Time) *model.Statistics {
	stats := &model.Statistics{TransactionType: txType, LastUpdate: now}
	for _, o := range list {
		age := now.Sub(o.observedAt)
		if age >= window24H {
			continue
		}
		stats.Scored24H++
		if o.flagged {
			stats.Flagged24H++
			stats.FlaggedAmount24H += o.amount
		}
		if age < window1H {
			stats.Scored1H++
			if o.flagged {
				stats.Flagged1H++
			}
		}
		if age < window5Min {
			stats.Scored5Min++
			if o.flagged {
				stats.Flagged5Min++
			}
		}
	}
	return stats
}

// GetStatistics looks in memory first, then the cache, then storage.
// It returns nil, nil when the type has never been seen.
func (s *FraudStatisticsService) GetStatistics(ctx context.Context, txType model.TransactionType) (*model.Statistics, error) {
	s.mu.RLock()
	inMemory, ok := s.stats[txType]
	var cp model.Statistics
	if ok {
		cp = *inMemory
	}
	s.mu.RUnlock()

	if ok {
		return &cp, nil
	}

	if s.cache != nil {
		cached, err := s.cache.GetStatistics(ctx, txType)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	if s.storage != nil {
		stored, err := s.storage.GetStatistics(ctx, txType)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			if s.cache != nil {
				_ = s.cache.SaveStatistics(ctx, stored)
			}
			return stored, nil
		}
	}

	return nil, nil
}

// GetAllStatistics merges memory, cache and storage with that precedence,
// one entry per transaction type, ordered like model.TransactionTypes.
func (s *FraudStatisticsService) GetAllStatistics(ctx context.Context) ([]*model.Statistics, error) {
	merged := make(map[model.TransactionType]*model.Statistics)

	s.mu.RLock()
	for txType, stats := range s.stats {
		cp := *stats
		merged[txType] = &cp
	}
	s.mu.RUnlock()

	if s.cache != nil {
		if cached, err := s.cache.GetAllStatistics(ctx); err == nil {
			for _, stats := range cached {
				if _, ok := merged[stats.TransactionType]; !ok {
					merged[stats.TransactionType] = stats
				}
			}
		} else {
			s.log.Debug("statistics cache unavailable", sl.Err(err))
		}
	}

	if s.storage != nil {
		if stored, err := s.storage.GetAllStatistics(ctx); err == nil {
			for _, stats := range stored {
				if _, ok := merged[stats.TransactionType]; !ok {
					merged[stats.TransactionType] = stats
				}
			}
		} else {
			s.log.Debug("statistics storage unavailable", sl.Err(err))
		}
	}

	result := make([]*model.Statistics, 0, len(merged))
	for _, txType := range model.TransactionTypes {
		if stats, ok := merged[txType]; ok {
			result = append(result, stats)
		}
	}
	return result, nil
}
