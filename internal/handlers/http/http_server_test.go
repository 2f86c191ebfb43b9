package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudScoringApp/internal/app/dto"
	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/service"
	httpserver "fraudScoringApp/internal/handlers/http"
	"fraudScoringApp/internal/health"
	"fraudScoringApp/internal/infrastructure/cache"
	"fraudScoringApp/internal/infrastructure/queue"
	"fraudScoringApp/internal/lib/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminSecret = "test-secret"

type memThresholdAdmin struct {
	mu  sync.Mutex
	cfg model.ThresholdConfig
	err error
}

func (m *memThresholdAdmin) GetThreshold(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Threshold, m.err
}

func (m *memThresholdAdmin) HealthCheck(context.Context) error { return m.err }

func (m *memThresholdAdmin) GetConfig(context.Context) (*model.ThresholdConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cfg := m.cfg
	return &cfg, nil
}

func (m *memThresholdAdmin) SetThreshold(_ context.Context, v float64) error {
	if err := (model.ThresholdConfig{Threshold: v}).Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = model.ThresholdConfig{Threshold: v, UpdatedAt: time.Now().UTC()}
	return nil
}

type fixture struct {
	server    *httpserver.Server
	queue     *queue.RedisQueue
	gateway   *service.IngestionGateway
	decisions *cache.RedisRepository
	admin     *memThresholdAdmin
	provider  *service.CachingThresholdProvider
	registry  *health.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	log := logger.Discard()

	q := queue.NewRedisQueue(&redis.Options{Addr: mr.Addr()}, "", log)
	t.Cleanup(func() { _ = q.Close() })

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	decisions := cache.NewRedisRepository(client, time.Hour)

	admin := &memThresholdAdmin{cfg: model.ThresholdConfig{Threshold: 0.5}}
	provider, err := service.NewThresholdProvider(admin, service.ThresholdProviderConfig{
		Default: 0.5,
		Policy:  service.RefreshOnDemand,
	}, log)
	require.NoError(t, err)

	gw := service.NewIngestionGateway(service.NewTransactionValidator(), q, time.Second, log)
	registry := health.NewRegistry(time.Second)
	registry.RegisterPing("queue", q.Ping)

	srv := httpserver.NewServer(":0", httpserver.Dependencies{
		Ingestor:       gw,
		Decisions:      decisions,
		Stats:          service.NewFraudStatisticsService(nil, nil, log),
		Thresholds:     provider,
		ThresholdAdmin: admin,
		Queue:          q,
		QueueName:      q.Name(),
		Health:         registry,
		AdminSecret:    adminSecret,
	}, log)

	return &fixture{
		server:    srv,
		queue:     q,
		gateway:   gw,
		decisions: decisions,
		admin:     admin,
		provider:  provider,
		registry:  registry,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func validBody() map[string]any {
	return map[string]any{
		"transaction_id":   "TXN001",
		"timestamp":        time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
		"sender_account":   "ACC12345",
		"receiver_account": "ACC54321",
		"amount":           100.0,
		"transaction_type": "transfer",
		"ip_address":       "127.0.0.1",
		"device_hash":      "abcdef12345678",
	}
}

func TestSubmitAccepted(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/transactions", "/post"} {
		w := f.do(t, http.MethodPost, path, validBody(), nil)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		var resp dto.AcceptedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "accepted", resp.Status)
		assert.NotEmpty(t, resp.CorrelationID)
	}

	require.NoError(t, f.gateway.Wait(context.Background()))
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSubmitRejected(t *testing.T) {
	f := newFixture(t)

	body := validBody()
	body["amount"] = -5
	body["receiver_account"] = "ACC12345"
	delete(body, "device_hash")

	w := f.do(t, http.MethodPost, "/transactions", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp dto.RejectedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rejected", resp.Status)

	fields := map[string]bool{}
	for _, fe := range resp.Detail {
		fields[fe.Field] = true
	}
	assert.True(t, fields["amount"])
	assert.True(t, fields["device_hash"])

	require.NoError(t, f.gateway.Wait(context.Background()))
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitTypeMismatchIsFieldError(t *testing.T) {
	f := newFixture(t)

	body := validBody()
	body["amount"] = "lots"
	w := f.do(t, http.MethodPost, "/transactions", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp dto.RejectedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Detail, 1)
	assert.Equal(t, "amount", resp.Detail[0].Field)
}

func TestSubmitMalformedJSON(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/transactions", `{"transaction_id":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/transactions", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitOversizedBody(t *testing.T) {
	f := newFixture(t)

	body := `{"transaction_id":"` + strings.Repeat("a", 1<<20) + `"}`
	w := f.do(t, http.MethodPost, "/transactions", body, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "payload_too_large")

	require.NoError(t, f.gateway.Wait(context.Background()))
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDecisionLookup(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/transactions/unknown/decision", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, f.decisions.SaveDecision(context.Background(), &model.DecisionEvent{
		CorrelationID: "corr-1",
		TransactionID: "TXN001",
		Status:        model.StatusScored,
		Decision: &model.ScoringDecision{
			FraudProbability: 0.42,
			Threshold:        0.5,
			Confidence:       model.ConfidenceLow,
		},
	}))

	w = f.do(t, http.MethodGet, "/transactions/corr-1/decision", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.DecisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "TXN001", resp.TransactionID)
	require.NotNil(t, resp.IsFraud)
	assert.False(t, *resp.IsFraud)
	assert.Equal(t, "low", resp.Confidence)
}

func TestAdminThreshold(t *testing.T) {
	f := newFixture(t)
	auth := map[string]string{"X-Admin-Secret": adminSecret}

	w := f.do(t, http.MethodGet, "/admin/threshold", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/admin/threshold", nil, map[string]string{"X-Admin-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPut, "/admin/threshold", map[string]any{"threshold": 0.8}, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.ThresholdResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0.8, resp.Threshold)
	assert.Equal(t, 0.8, resp.Cached)
	assert.Equal(t, 0.8, f.provider.Current())

	w = f.do(t, http.MethodPut, "/admin/threshold", map[string]any{"threshold": 1.2}, auth)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 0.8, f.provider.Current())

	w = f.do(t, http.MethodPut, "/admin/threshold", map[string]any{}, auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/admin/threshold", `{"note":"`+strings.Repeat("a", 1<<20)+`"}`, auth)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = f.do(t, http.MethodGet, "/admin/threshold", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdminThresholdRejectsUnstorablePrecision(t *testing.T) {
	f := newFixture(t)
	auth := map[string]string{"X-Admin-Secret": adminSecret}

	w := f.do(t, http.MethodPut, "/admin/threshold", map[string]any{"threshold": 0.125}, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPut, "/admin/threshold", map[string]any{"threshold": 0.1234}, auth)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp dto.RejectedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Detail, 1)
	assert.Equal(t, "threshold", resp.Detail[0].Field)
	assert.Contains(t, resp.Detail[0].Message, "3 decimal places")

	assert.Equal(t, 0.125, f.provider.Current())
	cfg, err := f.admin.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.125, cfg.Threshold)
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	log := logger.Discard()
	srv := httpserver.NewServer(":0", httpserver.Dependencies{
		Health: health.NewRegistry(time.Second),
	}, log)

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	req.Header.Set("X-Admin-Secret", "")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestQueueInspection(t *testing.T) {
	f := newFixture(t)
	auth := map[string]string{"X-Admin-Secret": adminSecret}

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/transactions", validBody(), nil).Code)
		// keep push order deterministic
		require.NoError(t, f.gateway.Wait(context.Background()))
	}

	w := f.do(t, http.MethodGet, "/queue?peek=2", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.QueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, queue.DefaultQueueName, resp.Name)
	assert.EqualValues(t, 3, resp.Length)
	assert.Len(t, resp.Oldest, 2)

	w = f.do(t, http.MethodGet, "/queue?peek=abc", nil, auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, "/queue", nil, auth)
	assert.Equal(t, http.StatusNoContent, w.Code)
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.registry.RegisterPing("history", func(context.Context) error { return errors.New("db down") })
	w = f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestStatsAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/stats", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/stats/transfer", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/stats/refund", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fraud_")
}
