package server

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobmail-hq/governor/pkg/security/auth"
	"jobmail-hq/governor/pkg/telemetry/logging"
)

const (
	// RequestIDHeader carries the request ID. A client-supplied value is
	// kept.
	RequestIDHeader = "X-Request-ID"

	// ActorHeader names the operator performing a mutating call.
	ActorHeader = "X-Actor"
)

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// requireActor puts the actor of a mutating call on the context for
// handlers and log lines. An authenticated caller acts as its identity and
// X-Actor, when sent, must name the same actor; otherwise X-Actor is
// required.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if id, ok := auth.FromContext(r.Context()); ok {
			if actor != "" && actor != id.Actor {
				writeErrorMessage(w, r, http.StatusForbidden, "actor_mismatch",
					ActorHeader+" does not match the authenticated actor "+id.Actor)
				return
			}
			actor = id.Actor
		}
		if actor == "" {
			writeErrorMessage(w, r, http.StatusBadRequest, "missing_actor", ActorHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithActor(r.Context(), actor)))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="governor"`)
	writeErrorMessage(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
}

func actorOf(r *http.Request) string {
	return logging.GetActor(r.Context())
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := s.logger.InfoContext
		if sw.status >= http.StatusInternalServerError {
			level = s.logger.ErrorContext
		} else if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
			level = s.logger.DebugContext
		}
		level(r.Context(), "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"latency_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.ErrorContext(r.Context(), "panic in handler",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeErrorMessage(w, r, http.StatusInternalServerError, "internal", "an internal error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
