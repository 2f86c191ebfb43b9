package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/infrastructure/cache"
)

func newRepo(t *testing.T, ttl time.Duration) (*cache.RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisRepository(client, ttl), mr
}

func TestDecisionCache(t *testing.T) {
	repo, mr := newRepo(t, time.Minute)
	ctx := context.Background()

	event := &model.DecisionEvent{
		CorrelationID:   "corr-1",
		TransactionID:   "TXN001",
		TransactionType: model.TransactionTransfer,
		Amount:          100,
		Status:          model.StatusScored,
		Decision: &model.ScoringDecision{
			FraudProbability: 0.91,
			IsFraud:          true,
			Threshold:        0.5,
			Confidence:       model.ConfidenceHigh,
		},
	}
	require.NoError(t, repo.SaveDecision(ctx, event))

	got, err := repo.GetDecision(ctx, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "TXN001", got.TransactionID)
	require.NotNil(t, got.Decision)
	assert.Equal(t, 0.91, got.Decision.FraudProbability)

	mr.FastForward(2 * time.Minute)
	_, err = repo.GetDecision(ctx, "corr-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDecisionCacheUnknown(t *testing.T) {
	repo, _ := newRepo(t, 0)
	_, err := repo.GetDecision(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStatisticsCache(t *testing.T) {
	repo, _ := newRepo(t, 0)
	ctx := context.Background()

	stats := &model.Statistics{
		TransactionType:  model.TransactionPayment,
		Scored5Min:       10,
		Scored1H:         50,
		Scored24H:        100,
		Flagged5Min:      1,
		Flagged1H:        4,
		Flagged24H:       9,
		FlaggedAmount24H: 1234.5,
		LastUpdate:       time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.SaveStatistics(ctx, stats))

	got, err := repo.GetStatistics(ctx, model.TransactionPayment)
	require.NoError(t, err)
	assert.Equal(t, stats, got)

	missing, err := repo.GetStatistics(ctx, model.TransactionDeposit)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.SaveStatistics(ctx, &model.Statistics{TransactionType: model.TransactionTransfer, Scored24H: 3}))
	all, err := repo.GetAllStatistics(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
