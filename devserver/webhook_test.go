package devserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAlertWebhook_Delivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received AlertEvent
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewAlertWebhook(srv.URL, "Authorization: Bearer hook-secret", quietLogger())
	wh.Notify(AlertEvent{Type: AlertRefreshReuse, Message: "reuse", Count: 1})
	wh.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, AlertRefreshReuse, received.Type)
	assert.Equal(t, "Bearer hook-secret", auth)
}

func TestAlertWebhook_RetriesServerErrorOnce(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewAlertWebhook(srv.URL, "", quietLogger())
	wh.retryDelay = time.Millisecond
	wh.Notify(AlertEvent{Type: AlertLoginFailureSpike})
	wh.Close()
	assert.Equal(t, int32(2), attempts.Load())
}

func TestAlertWebhook_NoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewAlertWebhook(srv.URL, "", quietLogger())
	wh.retryDelay = time.Millisecond
	wh.Notify(AlertEvent{Type: AlertLoginFailureSpike})
	wh.Close()
	assert.Equal(t, int32(1), attempts.Load())
}

func TestAlertWebhook_CloseIsIdempotent(t *testing.T) {
	wh := NewAlertWebhook("http://127.0.0.1:0", "", quietLogger())
	wh.Close()
	assert.NotPanics(t, wh.Close)
}
