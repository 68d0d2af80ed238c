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
	"sort"
	"sync"

	"hopper/internal/daemon"
	"hopper/internal/ledger"
	"hopper/internal/logging"
)

// serviceName prefixes every RPC method ("Hopper.Status", ...).
const serviceName = "Hopper"

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

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
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
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until Close is called.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var conns sync.WaitGroup
		defer conns.Wait()
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
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			conns.Add(1)
			go func(c net.Conn) {
				defer conns.Done()
				stop := context.AfterFunc(s.ctx, func() { _ = c.Close() })
				defer stop()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun hopper stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.Owner = status.Owner
	resp.StartedAt = formatTime(status.StartedAt)
	resp.LastTick = status.LastTick
	resp.LastError = status.LastError
	resp.LockPath = status.LockFilePath
	resp.LedgerPath = status.LedgerPath
	resp.LogPath = status.LogPath
	resp.Watching = status.Watching
	resp.MediaMonitor = status.MediaMonitor
	resp.Counts = make(map[string]int, len(status.Counts))
	for k, v := range status.Counts {
		resp.Counts[string(k)] = v
	}
	return nil
}

func (s *service) Records(req RecordsRequest, resp *RecordsResponse) error {
	statuses := make([]ledger.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		parsed, ok := ledger.ParseStatus(raw)
		if !ok {
			return fmt.Errorf("unknown status %q", raw)
		}
		statuses = append(statuses, parsed)
	}
	records, err := s.daemon.ListRecords(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Records = make([]Record, 0, len(records))
	for _, r := range records {
		resp.Records = append(resp.Records, FromRecord(r))
	}
	sort.SliceStable(resp.Records, func(i, j int) bool {
		return resp.Records[i].CreatedAt < resp.Records[j].CreatedAt
	})
	return nil
}

func (s *service) Show(req ShowRequest, resp *ShowResponse) error {
	if req.Hash == "" {
		return errors.New("hash is required")
	}
	entry, err := s.daemon.Describe(s.ctx, req.Hash)
	if err != nil {
		return err
	}
	resp.Entry = FromEntry(entry)
	return nil
}

func (s *service) Errors(req ErrorsRequest, resp *ErrorsResponse) error {
	entries, err := s.daemon.ListErrors(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Errors = make([]ErrorEntry, 0, len(entries))
	for _, e := range entries {
		resp.Errors = append(resp.Errors, FromErrorEntry(e))
	}
	return nil
}

func (s *service) Invalidate(req InvalidateRequest, resp *InvalidateResponse) error {
	if err := s.daemon.Invalidate(s.ctx, req.Hash); err != nil {
		return err
	}
	resp.Invalidated = true
	return nil
}

func (s *service) Scan(req ScanRequest, resp *ScanResponse) error {
	reason := req.Reason
	if reason == "" {
		reason = "ipc"
	}
	queued, err := s.daemon.RequestScan(reason)
	if err != nil {
		return err
	}
	resp.Queued = queued
	if queued {
		resp.Message = "scan requested"
	} else {
		resp.Message = "a scan is already pending"
	}
	s.logger.Info("scan requested via IPC",
		logging.String(logging.FieldEventType, "scan_requested"),
		logging.Bool("queued", queued))
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
