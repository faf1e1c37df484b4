package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadiness(t *testing.T) {
	t.Run("all checks up", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("database", func(context.Context) error { return nil })
		h.RegisterCheck("ledger", func(context.Context) error { return nil })

		w := serve(h, "/health/ready")
		require.Equal(t, http.StatusOK, w.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, map[string]string{"database": "up", "ledger": "up"}, resp.Checks)
	})

	t.Run("one failing check makes the service unready", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("database", func(context.Context) error { return nil })
		h.RegisterCheck("kafka", func(context.Context) error { return errors.New("no brokers reachable") })

		w := serve(h, "/health/ready")
		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "down: no brokers reachable", resp.Checks["kafka"])
	})

	t.Run("slow checks are cut off", func(t *testing.T) {
		h := New("test")
		h.checkTimeout = 20 * time.Millisecond
		h.RegisterCheck("redis", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		w := serve(h, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "deadline exceeded")
	})
}

func TestLivenessAndStatus(t *testing.T) {
	h := New("staging")

	w := serve(h, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())

	w = serve(h, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "staging", status.Environment)
	assert.Equal(t, Version, status.Version)
}
