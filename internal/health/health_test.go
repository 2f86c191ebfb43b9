package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAllHealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.RegisterPing("queue", func(context.Context) error { return nil })
	r.RegisterPing("history", func(context.Context) error { return nil })

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "queue", statuses[0].Name)
}

func TestCheckAllReportsFailure(t *testing.T) {
	r := NewRegistry(time.Second)
	r.RegisterPing("queue", func(context.Context) error { return nil })
	r.RegisterPing("metadata", func(context.Context) error { return errors.New("connection refused") })

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "connection refused", statuses[1].Detail)
}

func TestCheckRunsUnderTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.RegisterPing("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	healthy, _ := r.CheckAll(context.Background())
	assert.False(t, healthy)
}

func TestEmptyRegistryIsHealthy(t *testing.T) {
	healthy, statuses := NewRegistry(0).CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}
