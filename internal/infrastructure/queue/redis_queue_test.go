package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/infrastructure/queue"
	"fraudScoringApp/internal/lib/logger"
)

func newTestQueue(t *testing.T) (*queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q := queue.NewRedisQueue(&redis.Options{Addr: mr.Addr()}, "test:queue", logger.Discard(),
		queue.WithRetry(2, 10*time.Millisecond))
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func queued(id string) *model.QueuedTransaction {
	return &model.QueuedTransaction{
		TransactionRequest: model.TransactionRequest{
			TransactionID:   id,
			Timestamp:       time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			SenderAccount:   "ACC12345",
			ReceiverAccount: "ACC54321",
			Amount:          100,
			TransactionType: model.TransactionTransfer,
			IPAddress:       "127.0.0.1",
			DeviceHash:      "abcdef12345678",
		},
		CorrelationID: "corr-" + id,
		EnqueuedAt:    time.Date(2025, 1, 2, 3, 4, 6, 0, time.UTC),
	}
}

func TestRedisQueueFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i, id := range []string{"A", "B", "C"} {
		n, err := q.Push(ctx, queued(id))
		require.NoError(t, err)
		assert.EqualValues(t, i+1, n)
	}

	for _, want := range []string{"A", "B", "C"} {
		got, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, got.TransactionID)
		assert.Equal(t, "corr-"+want, got.CorrelationID)
	}
}

func TestRedisQueuePreservesPayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	in := queued("TXN001")
	score := 0.42
	in.VelocityScore = &score
	_, err := q.Push(ctx, in)
	require.NoError(t, err)

	out, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRedisQueuePopEmptyTimesOut(t *testing.T) {
	q, _ := newTestQueue(t)

	start := time.Now()
	got, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestRedisQueueDecodeFailureIsDistinct(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	_, err := mr.Lpush("test:queue", "{not json")
	require.NoError(t, err)
	_, err = mr.Lpush("test:queue", `{"transaction_id": "X"}`)
	require.NoError(t, err)

	_, err = q.Pop(ctx, time.Second)
	assert.ErrorIs(t, err, model.ErrDecodeFailure)

	_, err = q.Pop(ctx, time.Second)
	assert.ErrorIs(t, err, model.ErrDecodeFailure)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "undecodable messages are consumed by the pop")
}

func TestRedisQueueExclusiveDelivery(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	const total = 100
	for i := 0; i < total; i++ {
		_, err := q.Push(ctx, queued(fmt.Sprintf("TX%03d", i)))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tx, err := q.Pop(ctx, time.Second)
				if err != nil {
					t.Errorf("pop: %v", err)
					return
				}
				if tx == nil {
					return
				}
				mu.Lock()
				seen[tx.TransactionID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s delivered %d times", id, n)
	}
}

func TestRedisQueuePeekClearLength(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := q.Push(ctx, queued(id))
		require.NoError(t, err)
	}

	peeked, err := q.Peek(ctx, 2)
	require.NoError(t, err)
	require.Len(t, peeked, 2)
	assert.Equal(t, "A", peeked[0].TransactionID)
	assert.Equal(t, "B", peeked[1].TransactionID)

	all, err := q.Peek(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n, "peek must not remove messages")

	require.NoError(t, q.Clear(ctx))
	n, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	empty, err := q.Peek(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisQueueChannelUnavailable(t *testing.T) {
	q, mr := newTestQueue(t)
	mr.Close()

	_, err := q.Push(context.Background(), queued("A"))
	assert.ErrorIs(t, err, model.ErrChannelUnavailable)

	_, err = q.Pop(context.Background(), time.Second)
	assert.ErrorIs(t, err, model.ErrChannelUnavailable)

	assert.ErrorIs(t, q.Ping(context.Background()), model.ErrChannelUnavailable)
}

func TestRedisQueueReconnects(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Ping(ctx))
	mr.Close()
	require.Error(t, q.Ping(ctx))

	require.NoError(t, mr.Restart())
	_, err := q.Push(ctx, queued("A"))
	require.NoError(t, err)

	got, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.TransactionID)
}

func TestNewRedisQueueFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := queue.NewRedisQueueFromURL("redis://"+mr.Addr()+"/0", "", logger.Discard())
	require.NoError(t, err)
	defer q.Close()

	assert.Equal(t, queue.DefaultQueueName, q.Name())
	assert.NoError(t, q.Ping(context.Background()))

	_, err = queue.NewRedisQueueFromURL("http://nope", "", logger.Discard())
	assert.Error(t, err)
}
