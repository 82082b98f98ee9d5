// Package uihub exposes a running interview to a browser or kiosk front end.
//
// The front end connects to /ws and receives a "snapshot" frame for the
// current state and for every change after that. It sends
// [interview.Command] objects on the same connection and gets back an
// "ack" or "error" frame for each. /api/snapshot and /api/commands offer the
// same over plain HTTP for clients that cannot hold a websocket.
package uihub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fieldvoice/internal/health"
	"github.com/MrWong99/fieldvoice/internal/interview"
	"github.com/MrWong99/fieldvoice/internal/observe"
)

const (
	writeTimeout      = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	maxCommandBytes   = 64 << 10
)

// Controller is the part of [interview.Machine] the hub drives.
type Controller interface {
	Snapshot() interview.Snapshot
	Subscribe() (<-chan interview.Snapshot, func())
	Do(ctx context.Context, cmd interview.Command) error
	Done() <-chan struct{}
}

// Frame types sent to clients.
const (
	FrameSnapshot = "snapshot"
	FrameAck      = "ack"
	FrameError    = "error"
)

// Frame is one server-to-client message.
type Frame struct {
	Type     string                `json:"type"`
	Snapshot *interview.Snapshot   `json:"snapshot,omitempty"`
	Command  interview.CommandType `json:"command,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Server serves the UI endpoints for one interview.
type Server struct {
	ctrl    Controller
	logger  *slog.Logger
	metrics *observe.Metrics
	health  *health.Handler
	prom    http.Handler
	origins []string
	handler http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics wraps all routes in [observe.Middleware] recording into m.
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option { return func(s *Server) { s.health = h } }

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.prom = h } }

// WithOriginPatterns allows websocket connections from the given host
// patterns in addition to same-origin requests.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// New returns a server for ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /api/snapshot", s.serveSnapshot)
	mux.HandleFunc("POST /api/commands", s.serveCommand)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.prom != nil {
		mux.Handle("GET /metrics", s.prom)
	}

	s.handler = mux
	if s.metrics != nil {
		s.handler = observe.Middleware(s.metrics)(mux)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("ui hub listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("uihub: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

// ─── Websocket ───────────────────────────────────────────────────────────────

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxCommandBytes)
	log := observe.WithTrace(r.Context(), s.logger).With("remote", r.RemoteAddr)
	log.Info("ui client connected")

	snaps, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return s.pushSnapshots(ctx, conn, snaps) })
	g.Go(func() error { return s.readCommands(ctx, conn) })
	err = g.Wait()

	switch status := websocket.CloseStatus(err); {
	case errors.Is(err, interview.ErrNotRunning):
		conn.Close(websocket.StatusGoingAway, "interview ended")
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		conn.CloseNow()
	case err != nil && !errors.Is(err, context.Canceled):
		log.Warn("ui client dropped", "err", err)
		conn.Close(websocket.StatusInternalError, "")
	default:
		conn.CloseNow()
	}
	log.Info("ui client disconnected")
}

func (s *Server) pushSnapshots(ctx context.Context, conn *websocket.Conn, snaps <-chan interview.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctrl.Done():
			// Flush the final state before closing.
			snap := s.ctrl.Snapshot()
			if err := write(ctx, conn, Frame{Type: FrameSnapshot, Snapshot: &snap}); err != nil {
				return err
			}
			return interview.ErrNotRunning
		case snap, ok := <-snaps:
			if !ok {
				return interview.ErrNotRunning
			}
			if err := write(ctx, conn, Frame{Type: FrameSnapshot, Snapshot: &snap}); err != nil {
				return err
			}
		}
	}
}

// readCommands answers every text frame with an ack or error frame.
// Malformed frames are reported without dropping the connection.
func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var cmd interview.Command
		f := Frame{Type: FrameError, Error: "malformed command"}
		if typ == websocket.MessageText && json.Unmarshal(data, &cmd) == nil {
			f, _ = s.do(ctx, cmd)
		}
		if err := write(ctx, conn, f); err != nil {
			return err
		}
	}
}

func (s *Server) do(ctx context.Context, cmd interview.Command) (Frame, error) {
	if err := s.ctrl.Do(ctx, cmd); err != nil {
		s.logger.Debug("command rejected", "command", cmd.Type, "err", err)
		return Frame{Type: FrameError, Command: cmd.Type, Error: err.Error()}, err
	}
	return Frame{Type: FrameAck, Command: cmd.Type}, nil
}

func write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}

// ─── Plain HTTP ──────────────────────────────────────────────────────────────

func (s *Server) serveSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, Frame{Type: FrameSnapshot, Snapshot: &snap})
}

func (s *Server) serveCommand(w http.ResponseWriter, r *http.Request) {
	var cmd interview.Command
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCommandBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, Frame{Type: FrameError, Error: "malformed command"})
		return
	}

	f, err := s.do(r.Context(), cmd)
	writeJSON(w, statusFor(err), f)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, interview.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, interview.ErrNotRunning):
		return http.StatusGone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
