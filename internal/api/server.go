package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "PluginHost/internal/errors"
	"PluginHost/pkg/plugin"
)

// Host 是管理接口依赖的插件宿主能力，*plugin.Manager 满足该接口。
type Host interface {
	States(ctx context.Context) []plugin.PluginState
	Plans() map[string]*plugin.LoadPlan
	Lookup(category, name string) (*plugin.Entry, *plugin.Pipeline, bool)
	StartPlugin(ctx context.Context, category, name string) *plugin.Completion
	StopPlugin(ctx context.Context, category, name string) *plugin.Completion
}

// RequestObserver 记录请求指标。
type RequestObserver interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
}

// MusicSourceLister 列出已注册的音乐源插件。
type MusicSourceLister interface {
	List() []plugin.MusicSource
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	host     Host
	sources  MusicSourceLister
	observer RequestObserver
	tokens   [][]byte
	logger   *slog.Logger
	// hookTimeout 限制单次启动或停止请求等待钩子完成的时间。
	hookTimeout time.Duration
}

// NewServer 构造 API 服务实例。observer 可以为 nil。
func NewServer(addr string, host Host, observer RequestObserver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, host: host, observer: observer, logger: logger, hookTimeout: 30 * time.Second}
}

// WithMusicSources 启用 /api/v1/music-sources 路由。
func (s *Server) WithMusicSources(sources MusicSourceLister) *Server {
	s.sources = sources
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/plugins", s.instrument("plugins", s.handleListPlugins))
	mux.Handle("GET /api/v1/plugins/{category}/{name}", s.instrument("plugin", s.handlePluginDetail))
	mux.Handle("POST /api/v1/plugins/{category}/{name}/start", s.instrument("plugin_start", s.requireToken(s.handleStart)))
	mux.Handle("POST /api/v1/plugins/{category}/{name}/stop", s.instrument("plugin_stop", s.requireToken(s.handleStop)))
	mux.Handle("GET /api/v1/plan", s.instrument("plan", s.handlePlan))
	if s.sources != nil {
		mux.Handle("GET /api/v1/music-sources", s.instrument("music_sources", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.sources.List())
		}))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
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
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	states := s.host.States(r.Context())
	if pipeline := r.URL.Query().Get("pipeline"); pipeline != "" {
		filtered := states[:0]
		for _, st := range states {
			if st.Pipeline == pipeline {
				filtered = append(filtered, st)
			}
		}
		states = filtered
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handlePluginDetail(w http.ResponseWriter, r *http.Request) {
	state, err := s.state(r.Context(), r.PathValue("category"), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.runHook(w, r, s.host.StartPlugin)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.runHook(w, r, s.host.StopPlugin)
}

func (s *Server) runHook(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) *plugin.Completion) {
	category, name := r.PathValue("category"), r.PathValue("name")
	if _, _, ok := s.host.Lookup(category, name); !ok {
		writeError(w, notFound(category, name))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.hookTimeout)
	defer cancel()
	// 钩子可能在返回完成信号之前就阻塞，放到独立协程中以保证超时生效。
	hook := plugin.Go(func() error { return fn(ctx, category, name).Wait(ctx) })
	if err := hook.Wait(ctx); err != nil {
		code := apperrors.CodeUnknown
		if errors.Is(err, context.DeadlineExceeded) {
			code = apperrors.CodeTimeout
		}
		s.logger.Warn("插件钩子执行失败",
			slog.String("category", category), slog.String("name", name), slog.Any("error", err))
		writeError(w, apperrors.Wrap(code, err, "plugin hook failed",
			apperrors.WithMetadata("plugin", plugin.Key(category, name))))
		return
	}

	state, err := s.state(r.Context(), category, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePlan(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Plans())
}

func (s *Server) state(ctx context.Context, category, name string) (plugin.PluginState, error) {
	for _, st := range s.host.States(ctx) {
		if st.Category == category && st.Name == name {
			return st, nil
		}
	}
	return plugin.PluginState{}, notFound(category, name)
}

func notFound(category, name string) error {
	return apperrors.New(apperrors.CodeNotFound, "plugin not registered",
		apperrors.WithMetadata("plugin", plugin.Key(category, name)))
}

type errorBody struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: apperrors.CodeUnknown, Message: err.Error()}
	if e, ok := apperrors.From(err); ok {
		body = errorBody{Code: e.Code(), Message: err.Error(), Metadata: e.Metadata()}
	}
	writeJSON(w, statusFor(body.Code), body)
}

func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeConflict:
		return http.StatusConflict
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器记录请求指标。
func (s *Server) instrument(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if s.observer != nil {
			s.observer.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
		}
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
