package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CronCat-Agent/internal/agent"
	"CronCat-Agent/internal/ledger"
	"CronCat-Agent/internal/observability/metrics"
	"CronCat-Agent/internal/storage/mysql"
)

type stubStatus struct{ snap agent.Snapshot }

func (s stubStatus) Snapshot() agent.Snapshot { return s.snap }

type stubCache struct {
	size int
	at   time.Time
}

func (c stubCache) Len() int               { return c.size }
func (c stubCache) RefreshedAt() time.Time { return c.at }

type stubHistory struct {
	records []mysql.ExecutionRecord
	err     error
	limit   int
}

func (h *stubHistory) ListLatest(_ context.Context, limit int) ([]mysql.ExecutionRecord, error) {
	h.limit = limit
	return h.records, h.err
}

func newTestServer(history HistoryReader) (*Server, *metrics.Registry) {
	registry := metrics.NewRegistry()
	status := stubStatus{snap: agent.Snapshot{
		AgentID: "0xagent",
		Network: "local",
		Status:  ledger.StatusActive,
		Tasks:   agent.TaskPollState{ClaimableTasks: 3, CurrentSlot: 50},
	}}
	opts := []Option{
		WithMetrics(registry),
		WithTriggerCache(stubCache{size: 4, at: time.Unix(1700000000, 0).UTC()}),
	}
	if history != nil {
		opts = append(opts, WithHistory(history))
	}
	return NewServer(":0", status, opts...), registry
}

func TestHandleStatus(t *testing.T) {
	server, registry := newTestServer(nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var got struct {
		AgentID  string `json:"agent_id"`
		Status   string `json:"status"`
		Tasks    agent.TaskPollState
		Triggers triggerCacheView `json:"triggers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.AgentID != "0xagent" || got.Status != "Active" || got.Tasks.ClaimableTasks != 3 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if got.Triggers.Size != 4 || got.Triggers.RefreshedAt == nil {
		t.Fatalf("unexpected trigger view %+v", got.Triggers)
	}
	if !strings.Contains(registry.Render(), `croncat_http_requests_total{handler="status",method="GET",code="200"} 1`) {
		t.Fatalf("request should be counted:\n%s", registry.Render())
	}
}

func TestHandleStatusMethod(t *testing.T) {
	server, _ := newTestServer(nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"agent_status":"Active"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleHistory(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		server, _ := newTestServer(nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status code: %d", rec.Code)
		}
	})
	t.Run("limit", func(t *testing.T) {
		history := &stubHistory{records: []mysql.ExecutionRecord{{ID: 1, Kind: "execution", Status: mysql.StatusSucceeded}}}
		server, _ := newTestServer(history)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=5", nil))
		if rec.Code != http.StatusOK || history.limit != 5 {
			t.Fatalf("unexpected response %d limit=%d", rec.Code, history.limit)
		}
		var got []mysql.ExecutionRecord
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || len(got) != 1 {
			t.Fatalf("decode response: %v %s", err, rec.Body.String())
		}
	})
	t.Run("store error", func(t *testing.T) {
		server, _ := newTestServer(&stubHistory{err: errors.New("boom")})
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("unexpected status code: %d", rec.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server, registry := newTestServer(nil)
	registry.ObserveTick("executed")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `croncat_task_ticks_total{outcome="executed"} 1`) {
		t.Fatalf("unexpected metrics body:\n%s", rec.Body.String())
	}
}

func TestWithContextRejectsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := withContext(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
}

func TestRequireToken(t *testing.T) {
	server, _ := newTestServer(nil)
	WithToken(" s3cret ")(server)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "missing", path: "/api/v1/status", want: http.StatusUnauthorized},
		{name: "wrong", path: "/api/v1/status", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/api/v1/status", header: "Basic s3cret", want: http.StatusUnauthorized},
		{name: "valid", path: "/api/v1/status", header: "Bearer s3cret", want: http.StatusOK},
		{name: "health stays open", path: "/healthz", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
