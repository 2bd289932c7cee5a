package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"tether/internal/api"
	"tether/internal/config"
	"tether/internal/logging"
	"tether/internal/queue"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// newAPIServer returns nil when no bind address is configured.
func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           authMiddleware(cfg.Paths.APIToken, srv.routes()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/queue", s.handleQueueList)
	mux.HandleFunc("POST /api/queue", s.handleEnqueue)
	mux.HandleFunc("DELETE /api/queue", s.handleClear)
	mux.HandleFunc("GET /api/queue/{id}", s.handleQueueItem)
	mux.HandleFunc("DELETE /api/queue/{id}", s.handleRemove)
	mux.HandleFunc("POST /api/dispatch", s.handleDispatch)
	mux.HandleFunc("POST /api/drain", s.handleDrain)
	mux.HandleFunc("POST /api/network", s.handleNetwork)
	return withCorrelationID(mux)
}

// correlationHeader carries a caller-supplied id into engine log lines.
const correlationHeader = "X-Request-ID"

func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	items, err := s.daemon.List(r.Context())
	if err != nil {
		s.writeDaemonError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: api.FromRequests(items)})
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.daemon.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDaemonError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromRequest(item))
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeEnqueue(w, r)
	if !ok {
		return
	}
	item, err := s.daemon.Enqueue(r.Context(), req)
	if err != nil {
		s.writeDaemonError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromRequest(item))
}

func (s *apiServer) handleDispatch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeEnqueue(w, r)
	if !ok {
		return
	}
	item, queued, err := s.daemon.Dispatch(r.Context(), req)
	if err != nil {
		s.writeDaemonError(w, err)
		return
	}
	resp := api.DispatchResponse{Queued: queued}
	if queued {
		dto := api.FromRequest(item)
		resp.Item = &dto
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	removed, err := s.daemon.Remove(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDaemonError(w, err)
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.RemoveResponse{Removed: true})
}

func (s *apiServer) handleClear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.daemon.Clear(r.Context())
	if err != nil {
		s.writeDaemonError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClearResponse{Removed: removed})
}

func (s *apiServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.Drain(r.Context())
	if err != nil {
		s.writeDaemonError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromDrainResult(result))
}

func (s *apiServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Online == nil {
		s.writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	changed, err := s.daemon.SetOnline(r.Context(), *body.Online)
	if err != nil {
		s.writeDaemonError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.NetworkResponse{Online: *body.Online, Changed: changed})
}

func (s *apiServer) decodeEnqueue(w http.ResponseWriter, r *http.Request) (queue.NewRequest, bool) {
	var body api.EnqueueRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return queue.NewRequest{}, false
	}
	req, err := body.ToNewRequest()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return queue.NewRequest{}, false
	}
	return req, true
}

func (s *apiServer) writeDaemonError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		s.writeError(w, http.StatusNotFound, "queue item not found")
	case errors.Is(err, ErrManualModeRequired):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotRunning):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
