package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/lib/logger/sl"
	"fraudScoringApp/internal/metrics"
	"fraudScoringApp/internal/traces"
)

const DefaultQueueName = "transactions:queue"

// RedisQueue is the transaction channel backed by a single Redis list.
// Producers LPUSH, consumers BRPOP, so the list tail always holds the oldest
// message. BRPOP is atomic on the server, which gives exclusive hand-off
// between concurrent poppers.
type RedisQueue struct {
	name string
	opts *redis.Options
	log  *slog.Logger

	maxRetries     uint64
	initialBackoff time.Duration

	mu     sync.Mutex
	client *redis.Client
}

// RedisQueueOption configures a RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithRetry sets how many times a connection-level failure is retried and
// the first backoff interval.
func WithRetry(maxRetries uint64, initial time.Duration) RedisQueueOption {
	return func(q *RedisQueue) {
		q.maxRetries = maxRetries
		q.initialBackoff = initial
	}
}

// NewRedisQueue returns a queue that connects lazily on first use.
func NewRedisQueue(opts *redis.Options, name string, log *slog.Logger, options ...RedisQueueOption) *RedisQueue {
	if name == "" {
		name = DefaultQueueName
	}
	q := &RedisQueue{
		name:           name,
		opts:           opts,
		log:            log.With(sl.Component("queue"), slog.String("queue", name)),
		maxRetries:     3,
		initialBackoff: 100 * time.Millisecond,
	}
	for _, o := range options {
		o(q)
	}
	return q
}

// NewRedisQueueFromURL parses a redis:// URL.
func NewRedisQueueFromURL(url, name string, log *slog.Logger, options ...RedisQueueOption) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisQueue(opts, name, log, options...), nil
}

var _ repository.TransactionQueue = (*RedisQueue)(nil)

// Name returns the list key.
func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) Push(ctx context.Context, tx *model.QueuedTransaction) (int64, error) {
	ctx, span := traces.StartSpan(ctx, "queue.push", traces.CorrelationID(tx.CorrelationID))
	defer span.End()

	data, err := json.Marshal(tx)
	if err != nil {
		return 0, fmt.Errorf("encode queued transaction: %w", err)
	}

	var length int64
	err = q.do(ctx, func(c *redis.Client) error {
		n, err := c.LPush(ctx, q.name, data).Result()
		length = n
		return err
	})
	if err != nil {
		traces.RecordError(span, err)
		return 0, err
	}

	metrics.QueueLength.Set(float64(length))
	return length, nil
}

// Pop waits up to timeout for the oldest message. Redis counts blocking
// timeouts in whole seconds, so sub-second timeouts wait one second.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*model.QueuedTransaction, error) {
	var payload string
	err := q.do(ctx, func(c *redis.Client) error {
		res, err := c.BRPop(ctx, timeout, q.name).Result()
		if err != nil {
			return err
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			return backoff.Permanent(fmt.Errorf("%w: unexpected BRPOP reply of %d elements", model.ErrDecodeFailure, len(res)))
		}
		payload = res[1]
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return decode(payload)
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	var n int64
	err := q.do(ctx, func(c *redis.Client) error {
		var err error
		n, err = c.LLen(ctx, q.name).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.QueueLength.Set(float64(n))
	return n, nil
}

// Peek returns up to n of the oldest messages, oldest first. Entries that do
// not decode are logged and left out.
func (q *RedisQueue) Peek(ctx context.Context, n int) ([]*model.QueuedTransaction, error) {
	if n <= 0 {
		return []*model.QueuedTransaction{}, nil
	}

	var raw []string
	err := q.do(ctx, func(c *redis.Client) error {
		var err error
		raw, err = c.LRange(ctx, q.name, int64(-n), -1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*model.QueuedTransaction, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		tx, err := decode(raw[i])
		if err != nil {
			q.log.Warn("skipping undecodable message in peek", sl.Err(err))
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (q *RedisQueue) Clear(ctx context.Context) error {
	err := q.do(ctx, func(c *redis.Client) error {
		return c.Del(ctx, q.name).Err()
	})
	if err == nil {
		metrics.QueueLength.Set(0)
	}
	return err
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.do(ctx, func(c *redis.Client) error {
		return c.Ping(ctx).Err()
	})
}

func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.client == nil {
		return nil
	}
	err := q.client.Close()
	q.client = nil
	return err
}

// do runs op on the shared client, creating it on first use. Connection
// level failures drop the client and are retried with exponential backoff;
// everything else is returned as is.
func (q *RedisQueue) do(ctx context.Context, op func(c *redis.Client) error) error {
	var b backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(q.initialBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	b = backoff.WithContext(backoff.WithMaxRetries(b, q.maxRetries), ctx)

	return backoff.RetryNotify(func() error {
		c := q.conn()
		err := op(c)
		if err == nil || errors.Is(err, redis.Nil) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !isConnectionError(err) {
			return backoff.Permanent(err)
		}
		q.reset(c)
		return fmt.Errorf("%w: %w", model.ErrChannelUnavailable, err)
	}, b, func(err error, next time.Duration) {
		q.log.Warn("redis unavailable, retrying", sl.Err(err), slog.Duration("backoff", next))
	})
}

func (q *RedisQueue) conn() *redis.Client {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.client == nil {
		q.client = redis.NewClient(q.opts)
	}
	return q.client
}

// reset drops c if it is still the shared client, forcing a fresh dial.
func (q *RedisQueue) reset(c *redis.Client) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.client == c {
		_ = q.client.Close()
		q.client = nil
	}
}

// isConnectionError reports whether err came from the transport rather than
// from a Redis error reply.
func isConnectionError(err error) bool {
	var reply redis.Error
	if errors.As(err, &reply) {
		return false
	}
	return !errors.Is(err, model.ErrDecodeFailure)
}

func decode(payload string) (*model.QueuedTransaction, error) {
	var tx model.QueuedTransaction
	if err := json.Unmarshal([]byte(payload), &tx); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrDecodeFailure, err)
	}
	if tx.TransactionID == "" || tx.CorrelationID == "" {
		return nil, fmt.Errorf("%w: message lacks transaction_id or correlation_id", model.ErrDecodeFailure)
	}
	return &tx, nil
}
