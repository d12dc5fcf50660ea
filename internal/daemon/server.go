package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pointerops/mouselayer/internal/api"
	"github.com/pointerops/mouselayer/internal/config"
	"github.com/pointerops/mouselayer/internal/db"
	"github.com/pointerops/mouselayer/internal/model"
	"github.com/pointerops/mouselayer/internal/policy"
)

const (
	motionBuffer     = 512
	keyBuffer        = 512
	snapshotTimeout  = 2 * time.Second
	schemaVersion    = "v1"
	shutdownDeadline = 5 * time.Second
)

type snapshotRequest struct {
	reply chan snapshot
}

type snapshot struct {
	layers    []policy.LayerStatus
	lastKeyAt time.Time
}

// Server owns the single serialized event loop around the controller and the
// HTTP-over-UDS status API. All controller entry points execute on the loop
// goroutine; readers and timers only feed channels.
type Server struct {
	cfg      config.Config
	store    *db.Store
	ctrl     *policy.Controller
	timers   *timerHub
	streamID string

	motionCh chan model.Motion
	keyCh    chan model.Key
	timerCh  chan timerFire
	snapCh   chan snapshotRequest

	httpSrv  *http.Server
	handler  http.Handler
	mu       sync.Mutex
	listener net.Listener

	shutdown    sync.Once
	shutdownErr error
}

// NewServer wires the controller to the loop channels. The sink is supplied
// by the caller (exec sink, usually wrapped in the recording decorator); the
// scheduler is the server's own timer hub. ctx bounds the timer hub's
// delivery attempts.
func NewServer(ctx context.Context, cfg config.Config, store *db.Store, layerSink policy.Sink) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		store:    store,
		streamID: uuid.NewString(),
		motionCh: make(chan model.Motion, motionBuffer),
		keyCh:    make(chan model.Key, keyBuffer),
		timerCh:  make(chan timerFire, policy.MaxLayers),
		snapCh:   make(chan snapshotRequest),
	}
	s.timers = newTimerHub(ctx, len(cfg.Layers), s.timerCh)

	ctrl, err := policy.New(cfg.PolicyConfig(), layerSink, s.timers)
	if err != nil {
		return nil, err
	}
	s.ctrl = ctrl

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/v1/status", s.statusHandler)
	mux.HandleFunc("/v1/activations", s.activationsHandler)
	s.handler = mux
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// MotionCh is the inbound channel for pointer readers.
func (s *Server) MotionCh() chan<- model.Motion { return s.motionCh }

// KeyCh is the inbound channel for keyboard readers.
func (s *Server) KeyCh() chan<- model.Key { return s.keyCh }

// Start runs the event loop and serves the UDS API until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if st, err := os.Lstat(s.cfg.SocketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("socket path exists and is not unix socket: %s", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat socket path: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen uds: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close() //nolint:errcheck
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.runLoop(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		<-loopDone
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve uds: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if s.cfg.SocketPath != "" {
			if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

// runLoop is the single serialization point: motion, key activity, timer
// expiry, and state queries all execute here in arrival order.
func (s *Server) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.ctrl.ForceIdle(model.EndShutdown)
			return
		case m := <-s.motionCh:
			s.ctrl.HandleMotion(m.Layer, m.DX, m.DY, m.At)
		case k := <-s.keyCh:
			s.ctrl.HandleKey(k.Position, k.Pressed, k.At)
		case f := <-s.timerCh:
			// A fire queued behind a motion sample that re-armed the
			// window carries a superseded generation; dropping it keeps
			// the sliding window honest.
			if s.timers.current(f) {
				s.ctrl.HandleTimerFired(f.layer)
			}
		case req := <-s.snapCh:
			req.reply <- snapshot{layers: s.ctrl.Snapshot(), lastKeyAt: s.ctrl.LastKeyAt()}
		}
	}
}

func (s *Server) querySnapshot(ctx context.Context) (snapshot, error) {
	req := snapshotRequest{reply: make(chan snapshot, 1)}
	select {
	case s.snapCh <- req:
	case <-ctx.Done():
		return snapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.reply:
		return snap, nil
	case <-ctx.Done():
		return snapshot{}, ctx.Err()
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{
		SchemaVersion: schemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()
	snap, err := s.querySnapshot(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "loop_unavailable", err.Error())
		return
	}
	resp := api.StatusEnvelope{
		SchemaVersion:      schemaVersion,
		GeneratedAt:        time.Now().UTC(),
		RequirePriorIdleMS: int64(s.cfg.RequirePriorIdleMS),
		Layers:             make([]api.LayerStatusResponse, 0, len(snap.layers)),
	}
	if !snap.lastKeyAt.IsZero() {
		v := snap.lastKeyAt.UTC().Format(time.RFC3339Nano)
		resp.LastKeyAt = &v
	}
	for _, st := range snap.layers {
		resp.Layers = append(resp.Layers, api.LayerStatusResponse{
			Layer:               st.Layer,
			Name:                st.Rule.Name,
			ActivationThreshold: st.Rule.ActivationThreshold,
			TimeoutMS:           st.Rule.Timeout.Milliseconds(),
			Active:              st.Active,
			Accumulated:         st.Accumulated,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) activationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "no store configured")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = v
	}
	rows, err := s.store.ListRecentActivations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	resp := api.ActivationsEnvelope{
		SchemaVersion: schemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Activations:   make([]api.ActivationResponse, 0, len(rows)),
	}
	for _, row := range rows {
		item := api.ActivationResponse{
			ActivationID: row.ActivationID,
			Layer:        row.LayerID,
			LayerName:    row.LayerName,
			StartedAt:    row.StartedAt.UTC().Format(time.RFC3339Nano),
			EndReason:    string(row.EndReason),
		}
		if row.EndedAt != nil {
			v := row.EndedAt.UTC().Format(time.RFC3339Nano)
			item.EndedAt = &v
		}
		resp.Activations = append(resp.Activations, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorResponse{
		SchemaVersion: schemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error:         api.APIError{Code: code, Message: message},
	})
}
