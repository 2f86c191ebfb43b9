package queue_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/infrastructure/queue"
	"fraudScoringApp/internal/lib/logger"
)

// Runs only against a live broker: KAFKA_BROKERS=localhost:9092 go test ./...
func TestKafkaRoundTrip(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}

	cfg := queue.KafkaConfig{
		Brokers:       strings.Split(brokers, ","),
		Topic:         "fraud-decisions-test",
		ConsumerGroup: "fraud-test-" + uuid.NewString(),
		BatchSize:     10,
		BatchTimeout:  100 * time.Millisecond,
	}

	producer := queue.NewKafkaProducer(cfg, logger.Discard())
	defer producer.Close()
	consumer := queue.NewKafkaConsumer(cfg, logger.Discard())
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event := &model.DecisionEvent{
		CorrelationID: uuid.NewString(),
		TransactionID: "TXN-KAFKA",
		Status:        model.StatusScored,
		Decision:      &model.ScoringDecision{FraudProbability: 0.93, IsFraud: true, Threshold: 0.5},
	}
	require.NoError(t, producer.PublishDecision(ctx, event))

	events, err := consumer.Subscribe(ctx)
	require.NoError(t, err)

	for got := range events {
		if got.CorrelationID != event.CorrelationID {
			continue
		}
		assert.True(t, got.Flagged())
		assert.NoError(t, consumer.Commit(ctx, got))
		return
	}
	t.Fatal("event not received")
}
