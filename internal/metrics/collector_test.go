package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
)

func TestObserveStageCountsErrorsByKind(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.ObserveStage("transcribe", 10*time.Millisecond, nil)
	c.ObserveStage("transcribe", 10*time.Millisecond, apperror.RateLimited("slow", nil))
	c.ObserveStage("generate", time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageErrors.WithLabelValues("transcribe", string(apperror.KindRateLimited))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageErrors.WithLabelValues("generate", "unknown")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.stageDuration))
}

func TestConnectionGaugeAndExpiredCounter(t *testing.T) {
	c := NewCollector("test", nil)

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.wsActiveConnections))

	c.SessionsExpired(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.sessionsExpired))

	c.RecordWSMessage("ping")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.wsMessagesTotal.WithLabelValues("ping")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	c := NewCollector("test", nil)

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", c.Handler())

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/sessions/{id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_http_requests_total"))
}
