package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"tether/internal/api"
	"tether/internal/daemon"
	"tether/internal/logging"
)

const serviceName = "Tether"

// Option customizes the IPC server.
type Option func(*Server)

// WithShutdown registers the function the Stop RPC invokes to end the daemon process.
func WithShutdown(fn func()) Option {
	return func(s *Server) {
		s.shutdown = fn
	}
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server
	shutdown  func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, opts ...Option) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	srv := &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpc.NewServer(),
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(srv)
	}

	svc := &service{daemon: d, logger: logger, ctx: serverCtx, shutdown: srv.shutdown}
	if err := srv.rpcServer.RegisterName(serviceName, svc); err != nil {
		cancel()
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	return srv, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Go(func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.track(conn, true)
			s.wg.Go(func() {
				defer s.track(conn, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
			})
		}
	})
}

func (s *Server) track(conn net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

// Close stops the server, disconnects clients, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	if s.shutdown == nil {
		return errors.New("daemon stop is not available over this socket")
	}
	s.log().Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	// The reply must be written before the server tears down its connections.
	go s.shutdown()
	resp.Stopped = true
	return nil
}

func (s *service) QueueList(_ QueueListRequest, resp *QueueListResponse) error {
	items, err := s.daemon.List(s.ctx)
	if err != nil {
		return err
	}
	resp.Items = api.FromRequests(items)
	return nil
}

func (s *service) QueueShow(req QueueShowRequest, resp *QueueShowResponse) error {
	if req.ID == "" {
		return errors.New("queue show requires an id")
	}
	item, err := s.daemon.Get(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Item = api.FromRequest(item)
	return nil
}

func (s *service) QueueAdd(req QueueAddRequest, resp *QueueAddResponse) error {
	input, err := req.Request.ToNewRequest()
	if err != nil {
		return err
	}
	item, err := s.daemon.Enqueue(s.ctx, input)
	if err != nil {
		return err
	}
	resp.Item = api.FromRequest(item)
	s.log().Info("request queued via IPC",
		logging.String(logging.FieldEventType, "queue_add"),
		logging.String(logging.FieldRequestID, item.ID))
	return nil
}

func (s *service) QueueDispatch(req QueueDispatchRequest, resp *QueueDispatchResponse) error {
	input, err := req.Request.ToNewRequest()
	if err != nil {
		return err
	}
	item, queued, err := s.daemon.Dispatch(s.ctx, input)
	if err != nil {
		return err
	}
	resp.Queued = queued
	if queued {
		dto := api.FromRequest(item)
		resp.Item = &dto
	}
	return nil
}

func (s *service) QueueRemove(req QueueRemoveRequest, resp *QueueRemoveResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("queue remove requires at least one id")
	}
	resp.Removed = []string{}
	resp.Missing = []string{}
	for _, id := range req.IDs {
		removed, err := s.daemon.Remove(s.ctx, id)
		if err != nil {
			return err
		}
		if removed {
			resp.Removed = append(resp.Removed, id)
		} else {
			resp.Missing = append(resp.Missing, id)
		}
	}
	s.log().Info("queue items removed",
		logging.String(logging.FieldEventType, "queue_remove"),
		logging.Int("removed_count", len(resp.Removed)))
	return nil
}

func (s *service) QueueClear(_ QueueClearRequest, resp *QueueClearResponse) error {
	removed, err := s.daemon.Clear(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("queue cleared",
		logging.String(logging.FieldEventType, "queue_clear"),
		logging.Int("removed_count", removed))
	return nil
}

func (s *service) QueueDrain(_ QueueDrainRequest, resp *QueueDrainResponse) error {
	result, err := s.daemon.Drain(s.ctx)
	if err != nil {
		return err
	}
	resp.Summary = api.FromDrainResult(result)
	return nil
}

func (s *service) NetworkSet(req NetworkSetRequest, resp *NetworkSetResponse) error {
	changed, err := s.daemon.SetOnline(s.ctx, req.Online)
	if err != nil {
		return err
	}
	resp.Online = req.Online
	resp.Changed = changed
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if err := s.daemon.TestNotification(s.ctx); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Sent = true
	resp.Message = "test notification sent"
	return nil
}
