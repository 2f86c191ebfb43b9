package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckServiceHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","checks":[{"name":"queue","healthy":true}]}`))
	}))
	defer healthy.Close()

	resp, err := checkServiceHealth(context.Background(), healthy.URL)
	require.NoError(t, err)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "queue", resp.Checks[0].Name)
}

func TestCheckServiceHealthDegraded(t *testing.T) {
	degraded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded","checks":[{"name":"history","healthy":false,"detail":"connection refused"}]}`))
	}))
	defer degraded.Close()

	resp, err := checkServiceHealth(context.Background(), degraded.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	require.NotNil(t, resp)
	assert.False(t, resp.Checks[0].Healthy)
	assert.Equal(t, "connection refused", resp.Checks[0].Detail)
}
