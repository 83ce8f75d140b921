package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:8100/", "secret123", 0)

	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:8100", c.baseURL)
	assert.Equal(t, "secret123", c.apiKey)
	assert.Equal(t, 10*time.Second, c.httpClient.Timeout)
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthcheck", r.URL.Path)
		assert.Equal(t, "s3cret", r.URL.Query().Get("secret"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "s3cret", time.Second)
	assert.NoError(t, c.Healthcheck(context.Background()))
}

func TestHealthcheck_NoSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, New(server.URL, "", time.Second).Healthcheck(context.Background()))
}

func TestHealthcheck_ServerDown(t *testing.T) {
	c := New("http://127.0.0.1:1", "", time.Second)
	assert.Error(t, c.Healthcheck(context.Background()))
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := New(server.URL, "", time.Second).Healthcheck(context.Background())
	assert.ErrorContains(t, err, "500")
}

func TestHealthcheck_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, New(server.URL, "", time.Second).Healthcheck(ctx), context.Canceled)
}
