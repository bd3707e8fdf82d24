package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	pgmcp "github.com/rickchristie/postgres-mcp-gateway"
)

// SessionHeader carries the session ID issued by initialize.
const SessionHeader = "Mcp-Session-Id"

const (
	defaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
)

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	HealthCheckEnabled bool
	HealthCheckPath    string

	// RateLimit is the sustained request rate per second across all
	// sessions. Zero disables limiting.
	RateLimit float64
	RateBurst int

	MaxBodyBytes int64

	// IdleTimeout closes sessions that have seen no request for this long.
	// Zero keeps sessions until DELETE or shutdown.
	IdleTimeout time.Duration
}

type httpSession struct {
	mu       sync.Mutex
	session  *pgmcp.Session
	lastSeen atomic.Int64 // unix nanoseconds
}

func (hs *httpSession) touch(now time.Time) {
	hs.lastSeen.Store(now.UnixNano())
}

// HTTPServer serves JSON-RPC over HTTP POST. A session is created by a
// successful initialize and identified afterwards by SessionHeader; requests
// on the same session are serialized.
type HTTPServer struct {
	dispatcher Dispatcher
	newSession SessionFactory
	config     HTTPConfig
	limiter    *rate.Limiter
	logger     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*httpSession
}

// NewHTTPServer creates an HTTPServer.
func NewHTTPServer(dispatcher Dispatcher, newSession SessionFactory, config HTTPConfig, logger zerolog.Logger) *HTTPServer {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return &HTTPServer{
		dispatcher: dispatcher,
		newSession: newSession,
		config:     config,
		limiter:    limiter,
		logger:     logger,
		sessions:   make(map[string]*httpSession),
	}
}

// Handler returns the HTTP handler with the MCP endpoint mounted at / and
// /mcp, plus the health check when enabled.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	// Health check endpoint (process liveness only, not DB connectivity)
	if s.config.HealthCheckEnabled && s.config.HealthCheckPath != "" {
		mux.HandleFunc(s.config.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}
	mux.HandleFunc("/mcp", s.serveMCP)
	mux.HandleFunc("/", s.serveMCP)
	return mux
}

// SessionCount returns the number of live sessions.
func (s *HTTPServer) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *HTTPServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", addr).Msg("http transport listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.config.IdleTimeout > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(s.config.IdleTimeout / 2)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case now := <-ticker.C:
					if n := s.expireIdle(now); n > 0 {
						s.logger.Info().Int("expired", n).Msg("idle sessions closed")
					}
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// responseWriter records status and size for the access log.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (s *HTTPServer) serveMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

	s.serveRequest(rw, r)

	s.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rw.status).
		Int("response_bytes", rw.bytes).
		Dur("duration", time.Since(start)).
		Str("remote_addr", r.RemoteAddr).
		Msg("http request")
}

func (s *HTTPServer) serveRequest(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	var reply []byte
	if id := r.Header.Get(SessionHeader); id != "" {
		hs := s.lookup(id)
		if hs == nil {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		hs.mu.Lock()
		hs.touch(time.Now())
		reply = s.dispatcher.HandleMessage(r.Context(), hs.session, body)
		hs.touch(time.Now())
		hs.mu.Unlock()
		w.Header().Set(SessionHeader, id)
	} else {
		// Without a session header the request runs on a fresh session that
		// is kept only if the request completed the handshake.
		session := s.newSession()
		reply = s.dispatcher.HandleMessage(r.Context(), session, body)
		if session.Initialized() {
			s.register(session)
			w.Header().Set(SessionHeader, session.ID())
		}
	}

	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(reply)
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		http.Error(w, "Missing "+SessionHeader+" header", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	s.logger.Info().Str("session_id", id).Msg("session closed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) lookup(id string) *httpSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *HTTPServer) register(session *pgmcp.Session) {
	hs := &httpSession{session: session}
	hs.touch(time.Now())
	s.mu.Lock()
	s.sessions[session.ID()] = hs
	s.mu.Unlock()
	s.logger.Info().Str("session_id", session.ID()).Msg("session opened")
}

// expireIdle removes sessions idle for longer than IdleTimeout as of now and
// returns how many were removed.
func (s *HTTPServer) expireIdle(now time.Time) int {
	if s.config.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-s.config.IdleTimeout).UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, hs := range s.sessions {
		if hs.lastSeen.Load() < cutoff {
			delete(s.sessions, id)
			expired++
		}
	}
	return expired
}
