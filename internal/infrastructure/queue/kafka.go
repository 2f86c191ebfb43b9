package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/lib/logger/sl"
	"fraudScoringApp/internal/metrics"
)

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	BatchSize     int
	BatchTimeout  time.Duration
}

// DecisionConsumer delivers decision events to the processor. Commit marks
// an event handled; implementations may batch the acknowledgment.
type DecisionConsumer interface {
	Subscribe(ctx context.Context) (<-chan *model.DecisionEvent, error)
	Commit(ctx context.Context, event *model.DecisionEvent) error
	Close() error
}

// KafkaProducer publishes decision events to Kafka. Writes are
// asynchronous: PublishDecision only enqueues into the writer's batch, and
// delivery failures are logged and counted from the completion callback.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(config KafkaConfig, log *slog.Logger) *KafkaProducer {
	log = log.With(sl.Component("kafka_producer"), slog.String("topic", config.Topic))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{}, // events of one transaction id land on one partition
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			metrics.DecisionEventsDropped.WithLabelValues("kafka").Add(float64(len(messages)))
			log.Error("failed to deliver decision events", slog.Int("count", len(messages)), sl.Err(err))
		},
	}

	return &KafkaProducer{writer: writer}
}

var _ repository.DecisionPublisher = (*KafkaProducer)(nil)

// PublishDecision queues a decision event keyed by transaction id.
func (p *KafkaProducer) PublishDecision(ctx context.Context, event *model.DecisionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: data,
		Time:  time.Now(),
	})
}

// Close flushes buffered events.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads decision events from Kafka. Offsets are committed only
// for events acknowledged through Commit, in batches of batchSize or every
// batchTimeout. Events are expected to be acknowledged in delivery order,
// since a Kafka commit covers every earlier offset of the partition.
type KafkaConsumer struct {
	reader *kafka.Reader
	commit func(ctx context.Context, msgs ...kafka.Message) error
	log    *slog.Logger

	mu       sync.Mutex
	inflight map[string]kafka.Message // correlation id -> fetched, not yet acknowledged
	acked    []kafka.Message          // acknowledged, not yet committed

	batchSize    int
	batchTimeout time.Duration
}

func NewKafkaConsumer(config KafkaConfig, log *slog.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commits are explicit
		StartOffset:    kafka.FirstOffset,
	})

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}

	return &KafkaConsumer{
		reader:       reader,
		commit:       reader.CommitMessages,
		log:          log.With(sl.Component("kafka_consumer"), slog.String("topic", config.Topic)),
		inflight:     make(map[string]kafka.Message),
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
	}
}

var _ DecisionConsumer = (*KafkaConsumer)(nil)

// Subscribe returns a channel of decision events. It is closed when ctx is
// done or the reader fails.
func (c *KafkaConsumer) Subscribe(ctx context.Context) (<-chan *model.DecisionEvent, error) {
	eventCh := make(chan *model.DecisionEvent, 1000)

	go c.startBatchCommitter(ctx)

	go func() {
		defer close(eventCh)

		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Error("error fetching message", sl.Err(err))
				}
				return
			}

			event, ok := c.decode(msg)
			if !ok {
				// nothing will ever acknowledge it
				c.ack(msg)
				continue
			}
			c.track(event.CorrelationID, msg)

			select {
			case <-ctx.Done():
				return
			case eventCh <- event:
			}
		}
	}()

	return eventCh, nil
}

func (c *KafkaConsumer) decode(msg kafka.Message) (*model.DecisionEvent, bool) {
	var event model.DecisionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.CorrelationID == "" {
		c.log.Error("dropping undecodable decision event",
			sl.Err(err), slog.Int("partition", msg.Partition), slog.Int64("offset", msg.Offset))
		return nil, false
	}
	return &event, true
}

func (c *KafkaConsumer) track(correlationID string, msg kafka.Message) {
	c.mu.Lock()
	c.inflight[correlationID] = msg
	n := len(c.inflight)
	c.mu.Unlock()

	if n > c.batchSize*10 {
		c.log.Warn("large number of unacknowledged messages",
			slog.Int("inflight", n), slog.Int("batch_size", c.batchSize))
	}
}

func (c *KafkaConsumer) ack(msg kafka.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg)
	return len(c.acked)
}

func (c *KafkaConsumer) startBatchCommitter(ctx context.Context) {
	ticker := time.NewTicker(c.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// the original context is already cancelled
			if err := c.flush(context.Background()); err != nil {
				c.log.Error("error committing on shutdown", sl.Err(err))
			}
			return
		case <-ticker.C:
			if err := c.flush(ctx); err != nil {
				c.log.Error("error committing batch", sl.Err(err))
			}
		}
	}
}

// flush commits every acknowledged message. On failure they stay queued for
// the next attempt.
func (c *KafkaConsumer) flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.acked) == 0 {
		return nil
	}
	if err := c.commit(ctx, c.acked...); err != nil {
		return fmt.Errorf("commit %d messages: %w", len(c.acked), err)
	}

	c.log.Debug("committed batch", slog.Int("count", len(c.acked)))
	c.acked = nil
	return nil
}

// Commit acknowledges that an event has been handled. The offset is written
// with the next batch.
func (c *KafkaConsumer) Commit(ctx context.Context, event *model.DecisionEvent) error {
	if event == nil || event.CorrelationID == "" {
		return fmt.Errorf("cannot commit nil event or event with empty correlation id")
	}

	c.mu.Lock()
	msg, exists := c.inflight[event.CorrelationID]
	if exists {
		delete(c.inflight, event.CorrelationID)
	}
	c.mu.Unlock()
	if !exists {
		return fmt.Errorf("message for event %s not in flight", event.CorrelationID)
	}

	if c.ack(msg) >= c.batchSize {
		return c.flush(ctx)
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	if err := c.flush(context.Background()); err != nil {
		c.log.Error("error committing on close", sl.Err(err))
	}
	return c.reader.Close()
}
