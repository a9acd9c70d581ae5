package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"CronCat-Agent/internal/agent"
	"CronCat-Agent/internal/observability/metrics"
	"CronCat-Agent/internal/storage/mysql"
)

// StatusSource 提供 agent 会话快照。
type StatusSource interface {
	Snapshot() agent.Snapshot
}

// TriggerCache 提供 trigger 缓存的概况。
type TriggerCache interface {
	Len() int
	RefreshedAt() time.Time
}

// HistoryReader 读取最近的执行历史。
type HistoryReader interface {
	ListLatest(ctx context.Context, limit int) ([]mysql.ExecutionRecord, error)
}

// Server 负责暴露状态接口。
type Server struct {
	addr     string
	status   StatusSource
	triggers TriggerCache
	history  HistoryReader
	metrics  *metrics.Registry
	token    string
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithTriggerCache 在状态中附带 trigger 缓存信息。
func WithTriggerCache(c TriggerCache) Option {
	return func(s *Server) { s.triggers = c }
}

// WithHistory 启用 /api/v1/history。
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics 指定 /metrics 输出的注册表。
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer 构造状态服务实例。
func NewServer(addr string, status StatusSource, opts ...Option) *Server {
	s := &Server{addr: addr, status: status, metrics: metrics.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回带指标统计的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/api/v1/status", s.instrument("status", s.requireToken(http.HandlerFunc(s.handleStatus))))
	mux.Handle("/api/v1/history", s.instrument("history", s.requireToken(http.HandlerFunc(s.handleHistory))))
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。上下文取消时返回 nil。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	AgentStatus string `json:"agent_status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Status: "ok"}
	if s.status != nil {
		resp.AgentStatus = string(s.status.Snapshot().Status)
	}
	writeJSON(w, http.StatusOK, resp)
}

type triggerCacheView struct {
	Size        int        `json:"size"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

type statusResponse struct {
	agent.Snapshot
	Triggers *triggerCacheView `json:"triggers,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.status == nil {
		http.Error(w, "agent 未初始化", http.StatusServiceUnavailable)
		return
	}
	resp := statusResponse{Snapshot: s.status.Snapshot()}
	if s.triggers != nil {
		view := &triggerCacheView{Size: s.triggers.Len()}
		if at := s.triggers.RefreshedAt(); !at.IsZero() {
			view.RefreshedAt = &at
		}
		resp.Triggers = view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		http.Error(w, "未配置执行历史", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.history.ListLatest(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []mysql.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
