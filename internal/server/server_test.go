package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapay-ai/usage-sentinel/internal/metrics"
	"github.com/yapay-ai/usage-sentinel/internal/server"
	"github.com/yapay-ai/usage-sentinel/pkg/channel"
	"github.com/yapay-ai/usage-sentinel/pkg/dispatch"
	"github.com/yapay-ai/usage-sentinel/pkg/engine"
	"github.com/yapay-ai/usage-sentinel/pkg/history"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
	"github.com/yapay-ai/usage-sentinel/pkg/threshold"
)

func setupServer(t *testing.T) (*server.Server, *engine.Engine) {
	t.Helper()

	reg := threshold.NewRegistry()
	_, err := reg.Configure("daily_cost", model.ScopeDaily, model.CompareAbsolute, 70, 100, 0)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	disp := dispatch.NewDispatcher(dispatch.Config{}, logger)
	require.NoError(t, disp.Register("terminal", channel.NewTerminalWriter(io.Discard), 1))

	eng := engine.NewEngine(reg, history.NewMemory(), disp, engine.Config{}, logger, nil)
	t.Cleanup(func() { _ = eng.Close() })

	return server.NewServer(eng, nil, nil, logger), eng
}

// seedBreach pushes one warning breach through the engine and returns its
// history record.
func seedBreach(t *testing.T, eng *engine.Engine) model.HistoryRecord {
	t.Helper()

	require.NoError(t, eng.Ingest(context.Background(), model.Sample{
		Metric: "daily_cost", Value: 85.0, Timestamp: time.Now().UTC(),
	}))
	records, err := eng.Query(context.Background(), model.HistoryFilter{}, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	return records[0]
}

func doJSON(t *testing.T, srv *server.Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	srv, _ := setupServer(t)

	w := doJSON(t, srv, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestServer_IngestSingle(t *testing.T) {
	srv, eng := setupServer(t)

	w := doJSON(t, srv, "POST", "/api/v1/samples", `{"metric":"daily_cost","value":85.0}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]int
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp["accepted"])

	records, err := eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestServer_IngestBatch(t *testing.T) {
	srv, eng := setupServer(t)

	body := `{"samples":[{"metric":"daily_cost","value":20},{"metric":"daily_cost","value":85}]}`
	w := doJSON(t, srv, "POST", "/api/v1/samples", body)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]int
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp["accepted"])

	records, err := eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestServer_IngestValidation(t *testing.T) {
	srv, _ := setupServer(t)

	w := doJSON(t, srv, "POST", "/api/v1/samples", `{"metric":"unknown_metric","value":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, "POST", "/api/v1/samples", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ListAlerts(t *testing.T) {
	srv, eng := setupServer(t)
	seedBreach(t, eng)

	w := doJSON(t, srv, "GET", "/api/v1/alerts", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var records []model.HistoryRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "daily_cost", records[0].Metric)

	w = doJSON(t, srv, "GET", "/api/v1/alerts?severity=critical", "")
	assert.Equal(t, http.StatusOK, w.Code)
	records = records[:0]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
	assert.Empty(t, records)
}

func TestServer_ListAlerts_BadParams(t *testing.T) {
	srv, _ := setupServer(t)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, srv, "GET", "/api/v1/alerts?severity=bogus", "").Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, srv, "GET", "/api/v1/alerts?since=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, srv, "GET", "/api/v1/alerts?limit=many", "").Code)
}

func TestServer_AcknowledgeAndResolve(t *testing.T) {
	srv, eng := setupServer(t)
	rec := seedBreach(t, eng)

	assert.Equal(t, http.StatusOK, doJSON(t, srv, "POST", "/api/v1/alerts/"+rec.ID+"/ack", "").Code)
	assert.Equal(t, http.StatusOK, doJSON(t, srv, "POST", "/api/v1/alerts/"+rec.ID+"/resolve", "").Code)

	updated, err := eng.Alert(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, updated.Acknowledged)
	assert.NotNil(t, updated.ResolvedAt)

	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, "POST", "/api/v1/alerts/missing/ack", "").Code)
}

func TestServer_Redispatch(t *testing.T) {
	srv, eng := setupServer(t)
	rec := seedBreach(t, eng)

	w := doJSON(t, srv, "POST", "/api/v1/alerts/"+rec.ID+"/redispatch", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var report dispatch.DeliveryReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.True(t, report.OverallSuccess)
	assert.Equal(t, rec.ID, report.AlertID)

	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, "POST", "/api/v1/alerts/missing/redispatch", "").Code)
}

func TestServer_Thresholds(t *testing.T) {
	srv, _ := setupServer(t)

	w := doJSON(t, srv, "GET", "/api/v1/thresholds", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var listed []model.Threshold
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listed))
	require.Len(t, listed, 1)

	body := `{"metric":"weekly_tokens","scope":"weekly","critical_value":1000000}`
	w = doJSON(t, srv, "POST", "/api/v1/thresholds", body)
	assert.Equal(t, http.StatusCreated, w.Code)
	var created model.Threshold
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "weekly_tokens:weekly", created.ID)
	assert.Equal(t, model.CompareAbsolute, created.ComparisonMode)

	w = doJSON(t, srv, "POST", "/api/v1/thresholds", `{"metric":"x","scope":"hourly","critical_value":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusOK, doJSON(t, srv, "DELETE", "/api/v1/thresholds/weekly_tokens:weekly", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, "DELETE", "/api/v1/thresholds/weekly_tokens:weekly", "").Code)
}

func TestServer_Suppressions(t *testing.T) {
	srv, eng := setupServer(t)

	body := `{"alert_key":"daily_cost:daily","duration_seconds":3600}`
	assert.Equal(t, http.StatusOK, doJSON(t, srv, "POST", "/api/v1/suppressions", body).Code)
	assert.True(t, eng.IsSuppressed("daily_cost:daily"))

	assert.Equal(t, http.StatusBadRequest, doJSON(t, srv, "POST", "/api/v1/suppressions", `{"alert_key":"k","duration_seconds":0}`).Code)

	assert.Equal(t, http.StatusOK, doJSON(t, srv, "DELETE", "/api/v1/suppressions/daily_cost:daily", "").Code)
	assert.False(t, eng.IsSuppressed("daily_cost:daily"))
}

func TestServer_Channels(t *testing.T) {
	srv, _ := setupServer(t)

	w := doJSON(t, srv, "GET", "/api/v1/channels", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var channels []dispatch.RegisteredChannel
	require.NoError(t, json.NewDecoder(w.Body).Decode(&channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "terminal", channels[0].Name)

	w = doJSON(t, srv, "POST", "/api/v1/channels/terminal/test", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, true, resp["healthy"])

	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, "POST", "/api/v1/channels/missing/test", "").Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := threshold.NewRegistry()
	_, err := reg.Configure("daily_cost", model.ScopeDaily, model.CompareAbsolute, 70, 100, 0)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	disp := dispatch.NewDispatcher(dispatch.Config{}, logger)
	require.NoError(t, disp.Register("terminal", channel.NewTerminalWriter(io.Discard), 1))
	eng := engine.NewEngine(reg, history.NewMemory(), disp, engine.Config{}, logger, nil)
	t.Cleanup(func() { _ = eng.Close() })

	promReg := prometheus.NewRegistry()
	srv := server.NewServer(eng, metrics.Handler(promReg), metrics.NewServerMetrics(promReg), logger)

	// Drive one instrumented request so a counter exists to scrape.
	assert.Equal(t, http.StatusOK, doJSON(t, srv, "GET", "/healthz", "").Code)

	w := doJSON(t, srv, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sentinel_http_requests_total")
}
