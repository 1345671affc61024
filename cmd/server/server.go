package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/terrama-collector/pkg/app"
	"github.com/terrama-collector/pkg/config"
	"github.com/terrama-collector/pkg/processlog"
	"github.com/terrama-collector/pkg/schedule"
)

// Version 由构建参数注入
var Version = "dev"

// Backend is what the HTTP layer needs from the running collector.
type Backend interface {
	Resources() []app.ResourceStatus
	Trigger(id string) (bool, error)
	ProcessLog() processlog.Logger
	Registry() *prometheus.Registry
	Ping(ctx context.Context) error
}

// Server HTTP服务实例，封装核心依赖和配置
type Server struct {
	cfg     config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	router  chi.Router
	backend Backend
	started time.Time
}

// NewHTTPServer 创建HTTP服务实例
func NewHTTPServer(cfg config.ServerConfig, logger *zap.Logger, backend Backend) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		started: time.Now(),
	}
	srv.router = srv.routes()
	srv.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return srv
}

// Handler exposes the router (used by tests).
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.index)
	r.Get("/health", s.health)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.backend.Registry(), promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	}))
	r.Route("/resources", func(r chi.Router) {
		r.Get("/", s.listResources)
		r.Get("/{id}", s.getResource)
		r.Get("/{id}/logs", s.resourceLogs)
		r.Post("/{id}/collect", s.collect)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})
	return r
}

// logMiddleware 统一日志记录
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="zh-CN">
<head><meta charset="UTF-8"><title>TerraMA Collector</title></head>
<body>
	<h1>TerraMA Collector</h1>
	<p>Version: <code>%s</code></p>
	<a href="/health">/health - 健康检查</a><br>
	<a href="/status">/status - 进程状态</a><br>
	<a href="/resources">/resources - 采集资源</a><br>
	<a href="/metrics">/metrics - Prometheus 指标暴露</a>
</body>
</html>
`, Version)
}

// health 数据库不可达时返回 503
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.backend.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	Version    string  `json:"version"`
	Uptime     string  `json:"uptime"`
	PID        int     `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	Resources  int     `json:"resources"`
	Scheduled  int     `json:"scheduled"`
	InFlight   int     `json:"in_flight"`
	Rejected   int     `json:"rejected"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		PID:     os.Getpid(),
	}
	// 进程指标获取失败不影响其余字段
	if p, err := process.NewProcessWithContext(r.Context(), int32(resp.PID)); err == nil {
		if mem, err := p.MemoryInfoWithContext(r.Context()); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := p.CPUPercentWithContext(r.Context()); err == nil {
			resp.CPUPercent = cpu
		}
		if n, err := p.NumThreadsWithContext(r.Context()); err == nil {
			resp.Threads = n
		}
	} else {
		s.logger.Debug("process stats unavailable", zap.Error(err))
	}
	for _, st := range s.backend.Resources() {
		resp.Resources++
		switch {
		case st.Error != "":
			resp.Rejected++
		case st.Scheduled:
			resp.Scheduled++
		}
		if st.InFlight {
			resp.InFlight++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.backend.Resources()})
}

func (s *Server) find(id string) (app.ResourceStatus, bool) {
	for _, st := range s.backend.Resources() {
		if st.ID == id {
			return st, true
		}
	}
	return app.ResourceStatus{}, false
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.find(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource "+id)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// resourceLogs 仅内存过程日志可查询
func (s *Server) resourceLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.find(id); !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource "+id)
		return
	}
	mem, ok := s.backend.ProcessLog().(*processlog.MemoryLogger)
	if !ok {
		writeError(w, http.StatusNotImplemented, "not_supported", "process log is not kept in memory; query the database table instead")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mem.Entries(id)})
}

func (s *Server) collect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	accepted, err := s.backend.Trigger(id)
	switch {
	case errors.Is(err, app.ErrUnknownResource):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, schedule.ErrNotActive), errors.Is(err, schedule.ErrClosed):
		writeError(w, http.StatusConflict, "not_scheduled", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	case !accepted:
		writeError(w, http.StatusConflict, "in_flight", "a collection of "+id+" is already running")
	default:
		s.logger.Info("manual collection requested", zap.String("resource", id))
		writeJSON(w, http.StatusAccepted, map[string]any{"resource": id, "accepted": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// Run 阻塞运行HTTP服务，正常关闭时返回 nil
func (s *Server) Run() error {
	var routes []string
	_ = chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+route)
		return nil
	})
	s.logger.Info("starting HTTP server",
		zap.String("listen_addr", s.cfg.Addr),
		zap.Strings("routes", routes),
	)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("HTTP shutdown timeout exceeded")
			return nil
		}
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP server shutdown successfully")
	return nil
}
