package httpserver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

type contextKey string

const requestLoggerKey contextKey = "httpserver.request.logger"

// Probe and scrape endpoints are polled often; they log at debug level.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// responseRecorder captures the status and body size of a reply.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rec *responseRecorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

func (rec *responseRecorder) code() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rec *responseRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// Hijack hands the connection to the WebSocket upgrade; the reply is then
// logged as 101.
func (rec *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("httpserver: %T cannot be hijacked", rec.ResponseWriter)
	}
	if rec.status == 0 {
		rec.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

// Response headers tying a reply to the run and to its log lines.
const (
	headerRequestID = "X-Request-Id"
	headerRunID     = "X-Regsampler-Run"
)

// withRequestLogging tags every request with a sequential id and the run
// id, and logs the outcome together with the run state at reply time.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strconv.FormatUint(s.requestIDs.Add(1), 10)
		logger := s.logger.With(
			"run_id", s.info.ID,
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)

		w.Header().Set(headerRequestID, reqID)
		if s.info.ID != "" {
			w.Header().Set(headerRunID, s.info.ID)
		}

		ctx := context.WithValue(r.Context(), requestLoggerKey, logger)
		rec := &responseRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		level := slog.LevelInfo
		if quietPaths[r.URL.Path] {
			level = slog.LevelDebug
		}
		attrs := []any{
			"status", rec.code(),
			"duration", time.Since(start),
			"bytes", rec.written,
			"remote_addr", r.RemoteAddr,
		}
		if s.run != nil {
			attrs = append(attrs, "run_state", s.run.Stats().State.String())
		}
		logger.Log(r.Context(), level, "request complete", attrs...)
	})
}

func (s *Server) loggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(requestLoggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return s.logger
}
