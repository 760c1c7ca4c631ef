package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"

	"github.com/skobkin/regsampler/internal/api"
	"github.com/skobkin/regsampler/internal/config"
	"github.com/skobkin/regsampler/internal/sampler"
	"github.com/skobkin/regsampler/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// RunStatus is the view of a run the HTTP surface reads from.
type RunStatus interface {
	Stats() sampler.Stats
	Summary() (sampler.Summary, bool)
	Subscribe() (<-chan sampler.Stats, func())
	Done() <-chan struct{}
}

// SiteStats reports disassembly cache usage.
type SiteStats interface {
	Len() int
	Hits() uint64
	Misses() uint64
}

// Server wraps the HTTP surface area of a sampling run.
type Server struct {
	cfg        config.HTTPConfig
	logger     *slog.Logger
	httpServer *http.Server
	info       api.RunInfo
	run        RunStatus
	sites      SiteStats

	failMu  sync.RWMutex
	failure string

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsConnIDs    atomic.Uint64
	requestIDs   atomic.Uint64
}

// New assembles a Server with its handlers.
func New(cfg config.HTTPConfig, logger *slog.Logger, info api.RunInfo, run RunStatus, siteStats SiteStats) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		info:   info,
		run:    run,
		sites:  siteStats,
	}

	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.withRequestLogging(s.routes()),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)

	if s.cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if s.cfg.EnablePprof {
		registerPprof(mux)
	}
	return mux
}

// Handler exposes the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// MarkFailed records a fatal run error for readiness reporting.
func (s *Server) MarkFailed(err error) {
	if err == nil {
		return
	}
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failure = err.Error()
}

func (s *Server) failed() string {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return s.failure
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	info := s.readiness()
	logger := s.loggerFromContext(r.Context())

	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Error("failed to encode readyz response", "err", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, r, version.Current())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.run == nil {
		http.Error(w, "run unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := api.StatusResponse{
		Run:   s.info,
		Stats: s.run.Stats(),
	}
	if summary, ok := s.run.Summary(); ok {
		resp.Summary = &summary
	}
	if s.sites != nil {
		resp.Sites = api.SiteStats{Entries: s.sites.Len(), Hits: s.sites.Hits(), Misses: s.sites.Misses()}
	}
	s.writeJSON(w, r, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, payload any) {
	logger := s.loggerFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if !allowGet(w, r) {
		return
	}
	if s.run == nil {
		http.Error(w, "run unavailable", http.StatusServiceUnavailable)
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer closeWebsocket(reqLogger, conn)

	connID := s.wsConnIDs.Add(1)
	s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	hello := api.NewHelloMessage(int(s.cfg.StatusInterval/time.Millisecond), s.info)
	if err := s.writeMessage(ctx, conn, hello); err != nil {
		logger.Debug("websocket hello failed", "err", err)
		return
	}

	updates, unsubscribe := s.run.Subscribe()
	defer unsubscribe()

	interval := s.cfg.StatusInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("websocket closed by client", "reason", ctx.Err())
			return
		case stats, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := s.writeMessage(ctx, conn, api.NewStatusMessage(stats)); err != nil {
				logger.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := s.writeMessage(ctx, conn, api.NewStatusMessage(s.run.Stats())); err != nil {
				logger.Debug("websocket write failed", "err", err)
				return
			}
		case <-s.run.Done():
			summary, _ := s.run.Summary()
			if err := s.writeMessage(ctx, conn, api.NewFinishedMessage(summary)); err != nil {
				logger.Debug("websocket write failed", "err", err)
			}
			return
		}
	}
}

func (s *Server) writeMessage(ctx context.Context, conn *websocket.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx := ctx
	if s.cfg.WS.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
		defer cancel()
	}
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return err
	}
	s.wsSent.Add(1)
	return nil
}

func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}

	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "regsampler",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "regsampler",
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "regsampler",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "regsampler",
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
	}

	if runCollector := newRunMetricsCollector(s.info.ID, s.run); runCollector != nil {
		collectors = append(collectors, runCollector)
	}
	collectors = append(collectors, siteCollectors(s.sites)...)

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// originPatterns converts configured origins into host patterns; "*"
// accepts any origin.
func originPatterns(origins []string) []string {
	dst := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			return []string{"*"}
		}
		origin = strings.TrimPrefix(origin, "https://")
		origin = strings.TrimPrefix(origin, "http://")
		dst = append(dst, strings.TrimSuffix(origin, "/"))
	}
	return dst
}

func (s *Server) readiness() readyResponse {
	if reason := s.failed(); reason != "" {
		return readyResponse{Status: "failed", Reason: reason}
	}
	if s.run == nil {
		return readyResponse{Status: "degraded", Reason: "run_not_configured"}
	}
	return readyResponse{Status: "ok", State: s.run.Stats().State.String()}
}

type readyResponse struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
}
