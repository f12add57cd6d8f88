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
	"time"

	"ffqueue/internal/api"
	"ffqueue/internal/daemon"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/queuesync"
)

// maxChangesWait bounds a blocking Changes call.
const maxChangesWait = 30 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServerOption configures the IPC server.
type ServerOption func(*service)

// WithShutdown sets the function called after a Stop request has stopped
// the daemon, typically to end the hosting process.
func WithShutdown(fn func()) ServerOption {
	return func(s *service) {
		s.shutdown = fn
	}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	svc := &service{daemon: d, queue: d.Service(), logger: logger, ctx: ctx}
	for _, opt := range opts {
		opt(svc)
	}
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("FFQueue", svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
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
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Open client
// connections are served until their peers hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

// Wait blocks until the accept loop and every connection have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

type service struct {
	daemon   *daemon.Daemon
	queue    *api.QueueService
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	paused := s.daemon.Stop()
	resp.Stopped = true
	resp.PausedJobs = len(paused)
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	if s.shutdown != nil {
		s.shutdown()
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status()
	return nil
}

func (s *service) Enqueue(req api.EnqueueRequest, resp *api.JobResponse) error {
	out, err := s.queue.Enqueue(s.ctx, req)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) Job(req JobRequest, resp *api.JobDetail) error {
	out, err := s.queue.Job(req.ID)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) State(req StateRequest, resp *queuesync.Snapshot) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		status, err := queue.ParseStatus(value)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	}
	*resp = s.queue.State(statuses...)
	return nil
}

func (s *service) Changes(req ChangesRequest, resp *api.ChangesResponse) error {
	if req.WaitMillis <= 0 {
		*resp = s.queue.Changes(req.From)
		return nil
	}
	wait := min(time.Duration(req.WaitMillis)*time.Millisecond, maxChangesWait)
	ctx, cancel := context.WithTimeout(s.ctx, wait)
	defer cancel()
	out, err := s.queue.WaitChanges(ctx, req.From)
	if err != nil {
		out = s.queue.Changes(req.From)
	}
	*resp = out
	return nil
}

func (s *service) Action(req ActionRequest, resp *api.ActionResponse) error {
	out, err := s.queue.Action(s.ctx, req.Action, req.ID)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) Bulk(req BulkRequest, resp *api.BulkResponse) error {
	out, err := s.queue.Bulk(s.ctx, req.Action, req.IDs)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) Reorder(req api.ReorderRequest, resp *api.ActionResponse) error {
	resp.OK = s.queue.Reorder(s.ctx, req.IDs)
	return nil
}

func (s *service) StartupHint(_ StartupRequest, resp *api.StartupHintResponse) error {
	*resp = s.queue.StartupHint()
	return nil
}

func (s *service) DismissStartupHint(_ StartupRequest, resp *api.ActionResponse) error {
	if err := s.queue.DismissStartupHint(s.ctx); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) ResumeStartupQueue(_ StartupRequest, resp *api.ResumeQueueResponse) error {
	out, err := s.queue.ResumeStartupQueue(s.ctx)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}
