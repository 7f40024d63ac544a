package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/miradorstack/mirador-anomaly/internal/engine"
	"github.com/miradorstack/mirador-anomaly/internal/models"
)

func newTestAPI(t *testing.T) (*engine.Engine, http.Handler) {
	t.Helper()
	eng := engine.New(engine.Config{}, engine.Deps{})
	t.Cleanup(eng.Close)
	return eng, NewRouter(NewHandlers(eng, nil))
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDetectEndpoint(t *testing.T) {
	_, h := newTestAPI(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/detect", map[string]any{
		"snapshots": []models.MetricSnapshot{
			{ServerID: "web-1", CPUUsage: 95, MemoryUsage: 40, DiskUsage: 40, ResponseTimeMs: 80},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Alerts []models.AnomalyAlert `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// A single hot server is also 100% of the batch, so the composite detector fires too.
	if len(resp.Alerts) != 2 {
		t.Fatalf("expected cpu_spike and composite alerts, got %+v", resp.Alerts)
	}
	if resp.Alerts[0].PatternID != models.PatternCPUSpike || resp.Alerts[1].ServerID != models.SystemServerID {
		t.Fatalf("unexpected alerts: %+v", resp.Alerts)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestDetectRejectsBadBody(t *testing.T) {
	_, h := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/detect", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Op != "detect" {
		t.Fatalf("unexpected error body %q (%v)", rec.Body.String(), err)
	}
}

func TestPredictEndpoint(t *testing.T) {
	_, h := newTestAPI(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/predict", map[string]any{
		"snapshots": []models.MetricSnapshot{{ServerID: "db-1", CPUUsage: 72, MemoryUsage: 30}},
		"horizon":   "2h",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var resp struct {
		Predictions []models.AnomalyAlert `json:"predictions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Predictions) != 1 || resp.Predictions[0].Severity != models.SeverityMedium {
		t.Fatalf("unexpected predictions: %+v", resp.Predictions)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/predict", map[string]any{"horizon": "soon"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad horizon, got %d", rec.Code)
	}
}

func TestPatternToggleEndpoint(t *testing.T) {
	eng, h := newTestAPI(t)

	rec := doRequest(t, h, http.MethodPut, "/api/v1/patterns/cpu_spike", map[string]bool{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	for _, p := range eng.Patterns() {
		if p.ID == models.PatternCPUSpike && p.Enabled {
			t.Fatalf("pattern not disabled")
		}
	}

	rec = doRequest(t, h, http.MethodPut, "/api/v1/patterns/unknown", map[string]bool{"enabled": true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodPut, "/api/v1/patterns/cpu_spike", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without enabled, got %d", rec.Code)
	}
}

func TestLearningEndpoints(t *testing.T) {
	eng, h := newTestAPI(t)
	rec := doRequest(t, h, http.MethodPut, "/api/v1/learning", map[string]bool{"enabled": false})
	if rec.Code != http.StatusOK || eng.LearningMode() {
		t.Fatalf("learning mode not disabled (status %d)", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/api/v1/learning", nil)
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"enabled":false`)) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	eng, h := newTestAPI(t)
	alerts := eng.Detect(context.Background(), []models.MetricSnapshot{{ServerID: "web-1", CPUUsage: 95}})
	if len(alerts) == 0 {
		t.Fatalf("expected an alert to give feedback on")
	}

	rec := doRequest(t, h, http.MethodPost, "/api/v1/feedback", map[string]any{"alertId": alerts[0].ID, "confirmed": false})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if got := eng.Statistics().Measured.FalsePositives; got != 1 {
		t.Fatalf("expected one false positive, got %d", got)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/feedback", map[string]any{"alertId": "missing", "confirmed": true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown alert, got %d", rec.Code)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	_, h := newTestAPI(t)
	rec := doRequest(t, h, http.MethodGet, "/api/v1/statistics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var stats models.AnomalyStatistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.DeclaredAccuracy == 0 {
		t.Fatalf("expected declared accuracy in %s", rec.Body.String())
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected caller request id to be echoed, got %q", got)
	}
}
