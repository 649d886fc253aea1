package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"loom/internal/api"
	"loom/internal/daemon"
	"loom/internal/governance"
	"loom/internal/logging"
	"loom/internal/logs"
	"loom/internal/queue"
	"loom/internal/workitem"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
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

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Loom", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"))
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
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.Workers = status.Workers
	resp.Handlers = status.Handlers
	resp.QueueDBPath = status.QueueDBPath
	resp.LockPath = status.LockFilePath
	resp.PID = os.Getpid()
	resp.QueueStats = make(map[string]int, len(status.QueueStats))
	for k, v := range status.QueueStats {
		resp.QueueStats[string(k)] = v
	}
	return nil
}

func (s *service) WorkSubmit(req WorkSubmitRequest, resp *WorkSubmitResponse) error {
	view, err := s.daemon.Works().Submit(s.ctx, api.SubmitWorkRequest{
		Type:        req.Type,
		Payload:     req.Payload,
		TenantID:    req.TenantID,
		ContainerID: req.ContainerID,
		Priority:    req.Priority,
	})
	if err != nil {
		return err
	}
	resp.Work = *view
	s.logger.Info("work submitted via IPC",
		logging.String(logging.FieldEventType, "work_submit"),
		logging.Int64(logging.FieldItemID, view.WorkID))
	return nil
}

func (s *service) WorkDescribe(req WorkDescribeRequest, resp *WorkDescribeResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid work item id %d", req.ID)
	}
	view, err := s.daemon.Works().Describe(s.ctx, req.TenantID, req.ID)
	if err != nil {
		return err
	}
	resp.Work = *view
	return nil
}

func (s *service) WorkList(req WorkListRequest, resp *WorkListResponse) error {
	filter := queue.Filter{
		TenantID:    req.TenantID,
		ContainerID: req.ContainerID,
		Limit:       req.Limit,
		Offset:      req.Offset,
	}
	for _, status := range req.Statuses {
		filter.Statuses = append(filter.Statuses, workitem.Status(status))
	}
	for _, workType := range req.Types {
		filter.Types = append(filter.Types, workitem.Type(workType))
	}
	items, err := s.daemon.Works().List(s.ctx, filter)
	if err != nil {
		return err
	}
	resp.Items = items
	return nil
}

func (s *service) WorkRetry(req WorkRetryRequest, resp *WorkRetryResponse) error {
	if err := s.daemon.Works().Retry(s.ctx, req.TenantID, req.ID); err != nil {
		return err
	}
	resp.Retried = true
	s.logger.Info("work item retried",
		logging.String(logging.FieldEventType, "work_retry"),
		logging.Int64(logging.FieldItemID, req.ID))
	return nil
}

func (s *service) WorkCancel(req WorkCancelRequest, resp *WorkCancelResponse) error {
	if err := s.daemon.Works().Cancel(s.ctx, req.TenantID, req.ID); err != nil {
		return err
	}
	resp.Requested = true
	s.logger.Info("work item cancellation requested",
		logging.String(logging.FieldEventType, "work_cancel"),
		logging.Int64(logging.FieldItemID, req.ID))
	return nil
}

func (s *service) QueueHealth(_ QueueHealthRequest, resp *QueueHealthResponse) error {
	health, err := s.daemon.Works().Health(s.ctx)
	if err != nil {
		return err
	}
	resp.Health = health
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil && health.Error == "" {
		return err
	}
	resp.DBPath = health.DBPath
	resp.DatabaseExists = health.DatabaseExists
	resp.DatabaseReadable = health.DatabaseReadable
	resp.TableExists = health.TableExists
	resp.IntegrityCheck = health.IntegrityCheck
	resp.TotalItems = health.TotalItems
	resp.Error = health.Error
	return err
}

func (s *service) ProposalSubmit(req ProposalSubmitRequest, resp *ProposalSubmitResponse) error {
	proposals := s.daemon.Proposals()
	if proposals == nil {
		return errors.New("proposal service unavailable")
	}
	view, err := proposals.Submit(s.ctx, governance.SubmitRequest{
		Kind:           governance.Kind(req.Kind),
		Origin:         governance.Origin(req.Origin),
		TenantID:       req.TenantID,
		ContainerID:    req.ContainerID,
		Provenance:     req.Provenance,
		Ops:            req.Ops,
		ConfidenceHint: req.ConfidenceHint,
	})
	if err != nil {
		return err
	}
	resp.Proposal = *view
	s.logger.Info("proposal submitted via IPC",
		logging.String(logging.FieldEventType, "proposal_submit"),
		logging.String("proposal_id", view.ID),
		logging.String("status", view.Status))
	return nil
}

func (s *service) ProposalDescribe(req ProposalDescribeRequest, resp *ProposalDescribeResponse) error {
	proposals := s.daemon.Proposals()
	if proposals == nil {
		return errors.New("proposal service unavailable")
	}
	view, err := proposals.Describe(s.ctx, req.TenantID, req.ID)
	if err != nil {
		return err
	}
	resp.Proposal = *view
	return nil
}

func (s *service) ProposalReview(req ProposalReviewRequest, resp *ProposalReviewResponse) error {
	proposals := s.daemon.Proposals()
	if proposals == nil {
		return errors.New("proposal service unavailable")
	}
	review := governance.ReviewRequest{
		ProposalID: req.ProposalID,
		TenantID:   req.TenantID,
		Decision:   governance.Decision(req.Decision),
	}
	if len(req.PerOpDecisions) > 0 {
		review.PerOpDecisions = make(map[int]governance.Decision, len(req.PerOpDecisions))
		for position, decision := range req.PerOpDecisions {
			review.PerOpDecisions[position] = governance.Decision(decision)
		}
	}
	result, err := proposals.Review(s.ctx, review)
	if err != nil {
		return err
	}
	resp.Result = *result
	s.logger.Info("proposal reviewed via IPC",
		logging.String(logging.FieldEventType, "proposal_review"),
		logging.String("proposal_id", req.ProposalID),
		logging.String("decision", req.Decision))
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}
