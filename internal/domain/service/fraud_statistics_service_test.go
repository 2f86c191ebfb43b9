package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/service"
	"fraudScoringApp/internal/lib/logger"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memStatsStore struct {
	mu    sync.Mutex
	saved map[model.TransactionType]model.Statistics
	err   error
}

func newMemStatsStore() *memStatsStore {
	return &memStatsStore{saved: make(map[model.TransactionType]model.Statistics)}
}

func (m *memStatsStore) SaveStatistics(_ context.Context, stats *model.Statistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved[stats.TransactionType] = *stats
	return nil
}

func (m *memStatsStore) GetStatistics(_ context.Context, txType model.TransactionType) (*model.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.saved[txType]
	if !ok {
		return nil, nil
	}
	return &stats, nil
}

func (m *memStatsStore) GetAllStatistics(_ context.Context) ([]*model.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Statistics, 0, len(m.saved))
	for _, stats := range m.saved {
		cp := stats
		out = append(out, &cp)
	}
	return out, nil
}

func decisionEvent(id string, txType model.TransactionType, amount float64, fraud bool) *model.DecisionEvent {
	return &model.DecisionEvent{
		CorrelationID:   id,
		TransactionID:   "TXN-" + id,
		TransactionType: txType,
		Amount:          amount,
		Status:          model.StatusScored,
		Decision:        &model.ScoringDecision{FraudProbability: 0.5, IsFraud: fraud},
	}
}

func TestFraudStatisticsWindows(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
	cache := newMemStatsStore()
	svc := service.NewFraudStatisticsService(cache, nil, logger.Discard(),
		service.WithStatisticsClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, svc.ProcessDecision(ctx, decisionEvent("a", model.TransactionTransfer, 100, true)))
	clock.Advance(10 * time.Minute)
	require.NoError(t, svc.ProcessDecision(ctx, decisionEvent("b", model.TransactionTransfer, 50, false)))
	require.NoError(t, svc.ProcessDecision(ctx, decisionEvent("c", model.TransactionTransfer, 25, true)))

	stats, err := svc.GetStatistics(ctx, model.TransactionTransfer)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scored5Min)
	assert.Equal(t, 1, stats.Flagged5Min)
	assert.Equal(t, 3, stats.Scored1H)
	assert.Equal(t, 2, stats.Flagged1H)
	assert.Equal(t, 3, stats.Scored24H)
	assert.Equal(t, 125.0, stats.FlaggedAmount24H)

	mirrored, err := cache.GetStatistics(ctx, model.TransactionTransfer)
	require.NoError(t, err)
	assert.Equal(t, 3, mirrored.Scored24H)

	clock.Advance(2 * time.Hour)
	svc.ExpireOld(ctx)
	stats, err = svc.GetStatistics(ctx, model.TransactionTransfer)
	require.NoError(t, err)
	assert.Zero(t, stats.Scored1H)
	assert.Equal(t, 3, stats.Scored24H)

	clock.Advance(23 * time.Hour)
	svc.ExpireOld(ctx)
	stats, err = svc.GetStatistics(ctx, model.TransactionTransfer)
	require.NoError(t, err)
	assert.Zero(t, stats.Scored24H)
	assert.Zero(t, stats.FlaggedAmount24H)

	mirrored, err = cache.GetStatistics(ctx, model.TransactionTransfer)
	require.NoError(t, err)
	assert.Zero(t, mirrored.Scored24H)
}

func TestFraudStatisticsIgnoresDuplicatesAndFailures(t *testing.T) {
	svc := service.NewFraudStatisticsService(nil, nil, logger.Discard())
	ctx := context.Background()

	require.NoError(t, svc.ProcessDecision(ctx, decisionEvent("a", model.TransactionPayment, 10, true)))
	require.NoError(t, svc.ProcessDecision(ctx, decisionEvent("a", model.TransactionPayment, 10, true)))
	require.NoError(t, svc.ProcessDecision(ctx, &model.DecisionEvent{
		CorrelationID:   "failed",
		TransactionType: model.TransactionPayment,
		Status:          model.StatusScoringFailed,
	}))
	require.NoError(t, svc.ProcessDecision(ctx, nil))

	stats, err := svc.GetStatistics(ctx, model.TransactionPayment)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scored24H)
	assert.Equal(t, 1, stats.Flagged24H)

	missing, err := svc.GetStatistics(ctx, model.TransactionDeposit)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFraudStatisticsFallsBackToStores(t *testing.T) {
	cache := newMemStatsStore()
	storage := newMemStatsStore()
	ctx := context.Background()

	require.NoError(t, cache.SaveStatistics(ctx, &model.Statistics{TransactionType: model.TransactionPayment, Scored24H: 4}))
	require.NoError(t, storage.SaveStatistics(ctx, &model.Statistics{TransactionType: model.TransactionPayment, Scored24H: 99}))
	require.NoError(t, storage.SaveStatistics(ctx, &model.Statistics{TransactionType: model.TransactionDeposit, Scored24H: 7}))

	svc := service.NewFraudStatisticsService(cache, storage, logger.Discard())
	require.NoError(t, svc.ProcessDecision(ctx, decisionEvent("x", model.TransactionTransfer, 1, false)))

	deposit, err := svc.GetStatistics(ctx, model.TransactionDeposit)
	require.NoError(t, err)
	assert.Equal(t, 7, deposit.Scored24H)

	// storage hits warm the cache
	warmed, err := cache.GetStatistics(ctx, model.TransactionDeposit)
	require.NoError(t, err)
	require.NotNil(t, warmed)

	all, err := svc.GetAllStatistics(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.TransactionTransfer, all[0].TransactionType)
	assert.Equal(t, model.TransactionPayment, all[1].TransactionType)
	assert.Equal(t, 4, all[1].Scored24H)
	assert.Equal(t, model.TransactionDeposit, all[2].TransactionType)
}

func TestFraudStatisticsReportsMirrorFailure(t *testing.T) {
	storage := newMemStatsStore()
	storage.err = errors.New("clickhouse down")
	svc := service.NewFraudStatisticsService(nil, storage, logger.Discard())

	err := svc.ProcessDecision(context.Background(), decisionEvent("a", model.TransactionDeposit, 5, false))
	assert.Error(t, err)

	// the in-memory figures are still updated
	stats, err := svc.GetStatistics(context.Background(), model.TransactionDeposit)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scored24H)
}

func TestFraudStatisticsRunStopsOnCancel(t *testing.T) {
	svc := service.NewFraudStatisticsService(nil, nil, logger.Discard(),
		service.WithCleanupInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
