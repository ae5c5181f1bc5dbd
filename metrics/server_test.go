package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	Replies.WithLabelValues("250").Add(3)
	Deliveries.WithLabelValues("relay").Inc()

	server := httptest.NewServer(NewRouter(discardLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `maildrop_replies_total{code="250"}`)
	assert.Contains(t, string(body), `maildrop_deliveries_total{destination="relay"}`)
}

func TestHealthz(t *testing.T) {
	server := httptest.NewServer(NewRouter(discardLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestRouterRejectsOtherMethods(t *testing.T) {
	router := NewRouter(discardLogger())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", strings.NewReader("")))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(SessionTimeouts)
	SessionTimeouts.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SessionTimeouts))

	beforeWorker := testutil.ToFloat64(WorkerAssignments.WithLabelValues("2"))
	WorkerAssignments.WithLabelValues("2").Inc()
	assert.Equal(t, beforeWorker+1, testutil.ToFloat64(WorkerAssignments.WithLabelValues("2")))
}
