package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
)

const (
	decisionKeyPrefix = "decision:"
	statsKeyPrefix    = "fraud_stats:"

	DefaultDecisionTTL = 24 * time.Hour
)

// RedisRepository caches decision events by correlation id and the windowed
// fraud statistics. Decisions expire after the configured TTL; statistics
// are overwritten on every update.
type RedisRepository struct {
	client      *redis.Client
	decisionTTL time.Duration
}

func NewRedisRepository(client *redis.Client, decisionTTL time.Duration) *RedisRepository {
	if decisionTTL <= 0 {
		decisionTTL = DefaultDecisionTTL
	}
	return &RedisRepository{client: client, decisionTTL: decisionTTL}
}

var (
	_ repository.StatisticsCache = (*RedisRepository)(nil)
	_ repository.DecisionCache   = (*RedisRepository)(nil)
)

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) SaveDecision(ctx context.Context, event *model.DecisionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	return r.client.Set(ctx, decisionKeyPrefix+event.CorrelationID, data, r.decisionTTL).Err()
}

func (r *RedisRepository) GetDecision(ctx context.Context, correlationID string) (*model.DecisionEvent, error) {
	data, err := r.client.Get(ctx, decisionKeyPrefix+correlationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	var event model.DecisionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	return &event, nil
}

func (r *RedisRepository) SaveStatistics(ctx context.Context, stats *model.Statistics) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}
	return r.client.Set(ctx, statsKeyPrefix+string(stats.TransactionType), data, 0).Err()
}

// GetStatistics returns nil, nil when nothing is cached for txType.
func (r *RedisRepository) GetStatistics(ctx context.Context, txType model.TransactionType) (*model.Statistics, error) {
	data, err := r.client.Get(ctx, statsKeyPrefix+string(txType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var stats model.Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal statistics: %w", err)
	}
	return &stats, nil
}

// GetAllStatistics reads every known transaction type in one pipeline.
// Missing or malformed entries are skipped.
func (r *RedisRepository) GetAllStatistics(ctx context.Context) ([]*model.Statistics, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(model.TransactionTypes))
	for i, t := range model.TransactionTypes {
		cmds[i] = pipe.Get(ctx, statsKeyPrefix+string(t))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	result := make([]*model.Statistics, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}

		var stats model.Statistics
		if err := json.Unmarshal(data, &stats); err != nil {
			continue
		}
		result = append(result, &stats)
	}

	return result, nil
}
