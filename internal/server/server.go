// Package server provides the HTTP transport: it dispatches requests to one
// operation on one subsystem and funnels every error through apierr.WriteJSON.
// It listens on a Unix domain socket (preferred) and a loopback TCP port
// (fallback) simultaneously, both served by the same handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/portdaddy/daemon/internal/activity"
	"github.com/portdaddy/daemon/internal/agents"
	"github.com/portdaddy/daemon/internal/config"
	"github.com/portdaddy/daemon/internal/hub"
	"github.com/portdaddy/daemon/internal/inbox"
	"github.com/portdaddy/daemon/internal/locks"
	"github.com/portdaddy/daemon/internal/pubsub"
	"github.com/portdaddy/daemon/internal/resurrection"
	"github.com/portdaddy/daemon/internal/services"
	"github.com/portdaddy/daemon/internal/sessions"
	"github.com/portdaddy/daemon/internal/webhooks"
)

// version is stamped into /version and /health responses.
const version = "0.1.0"

// Deps wires every subsystem the server dispatches to.
type Deps struct {
	Services     *services.Manager
	Locks        *locks.Manager
	PubSub       *pubsub.Broker
	Inbox        *inbox.Store
	Sessions     *sessions.Manager
	Agents       *agents.Manager
	Resurrection *resurrection.Store
	Webhooks     *webhooks.Dispatcher
	Activity     *activity.Log
	Hub          *hub.Hub
}

// Server holds the two listeners and every subsystem collaborator a handler
// may dispatch to. It is constructed once at startup and never holds mutable
// global state itself.
type Server struct {
	cfg  *config.Config
	deps Deps

	httpServer *http.Server
	startedAt  time.Time

	socketListener net.Listener

	mu sync.Mutex
}

// New builds a Server and wires its routes. It does not start listening;
// call Start for that.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.httpServer = &http.Server{
		Handler: requestTimeout(cfg.RequestTimeout)(mux),
		// WriteTimeout is intentionally left at zero: the SSE and long-poll
		// handlers are long-lived and a blanket write deadline would kill
		// them mid-stream.
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the server's root http.Handler, useful for tests that
// want to drive routes with httptest without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the Unix socket (best-effort: a stale socket file is removed
// first) and the loopback TCP listener, then serves both concurrently. It
// blocks until one of the listeners returns a fatal error or Stop is called.
func (s *Server) Start() error {
	errCh := make(chan error, 2)

	if s.cfg.SocketPath != "" {
		ln, err := listenUnix(s.cfg.SocketPath)
		if err != nil {
			return fmt.Errorf("listen unix socket: %w", err)
		}
		s.socketListener = ln
		slog.Info("listening on unix socket", "path", s.cfg.SocketPath)
		go func() {
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("socket listener: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.HTTPHost, s.cfg.HTTPPort)
	tcpLn, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	slog.Info("listening on loopback http", "addr", addr)
	go func() {
		if err := s.httpServer.Serve(tcpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("tcp listener: %w", err)
			return
		}
		errCh <- nil
	}()

	// Wait for the first fatal error from either listener; nil errors (clean
	// shutdown) are swallowed until Stop has closed both.
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			return err
		}
		if s.socketListener == nil {
			break
		}
	}
	return nil
}

// Stop gracefully shuts down both listeners, waiting up to ctx's deadline for
// in-flight requests (including open SSE/long-poll connections) to finish.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.cfg.SocketPath != "" {
		_ = os.Remove(s.cfg.SocketPath)
	}
	return err
}

func listenUnix(path string) (net.Listener, error) {
	// A leftover socket file from an unclean shutdown makes bind fail with
	// "address already in use"; remove it first since we hold no other
	// evidence the old daemon is still alive (the janitor's dead-agent path
	// has the equivalent liveness check for agents, not sockets).
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	return net.Listen("unix", path)
}

// requestTimeout wraps every handler with a context deadline, except
// endpoints that manage their own (long-poll, SSE, websocket) which read
// cfg.LongPollMaxTimeout or stay open indefinitely; those opt out via
// isStreamingPath.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isStreamingPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isStreamingPath(path string) bool {
	return hasSuffixAny(path, "/subscribe", "/poll", "/ws")
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}

// callerAgentID extracts the optional X-Agent-Id hint; empty if absent. It
// attributes activity/webhook payloads and, where a handler opts in, the
// caller's registered resource caps — never used for authorization.
func callerAgentID(r *http.Request) string {
	return r.Header.Get("X-Agent-Id")
}

// callerPID extracts the optional X-Pid hint, or 0 if absent/malformed.
func callerPID(r *http.Request) int {
	v := r.Header.Get("X-Pid")
	if v == "" {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(v, "%d", &pid); err != nil {
		return 0
	}
	return pid
}
