package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"loom/internal/cascade"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/workitem"
)

// Handler processes one claimed item and returns the stage result. Handlers
// run at-least-once: a crashed worker's items are reclaimed and redispatched,
// so handlers must be idempotent or check before acting.
type Handler interface {
	Process(ctx context.Context, item *workitem.Item) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, item *workitem.Item) (json.RawMessage, error)

// Process implements Handler.
func (f HandlerFunc) Process(ctx context.Context, item *workitem.Item) (json.RawMessage, error) {
	return f(ctx, item)
}

// Manager coordinates queue processing across a pool of polling workers.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	cascades *cascade.Manager
	registry *workitem.Registry
	logger   *slog.Logger

	pollInterval      time.Duration
	errorMaxInterval  time.Duration
	heartbeatInterval time.Duration
	staleAfter        time.Duration
	claimBatch        int
	maxRetries        int
	workerCount       int

	handlers map[workitem.Type]Handler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ManagerOption adjusts timing, mainly for tests.
type ManagerOption func(*Manager)

// WithPollInterval overrides the queue polling interval.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.pollInterval = d }
}

// WithHeartbeatInterval overrides the heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.heartbeatInterval = d }
}

// WithStaleClaimTimeout overrides the reclamation cutoff.
func WithStaleClaimTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.staleAfter = d }
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, cascades *cascade.Manager, registry *workitem.Registry, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:               cfg,
		store:             store,
		cascades:          cascades,
		registry:          registry,
		logger:            logging.NewComponentLogger(logger, "workflow"),
		pollInterval:      time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorMaxInterval:  time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		heartbeatInterval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		staleAfter:        time.Duration(cfg.Workflow.StaleClaimTimeout) * time.Second,
		claimBatch:        cfg.Workflow.ClaimBatchSize,
		maxRetries:        cfg.Workflow.MaxRetries,
		workerCount:       cfg.Workflow.WorkerCount,
		handlers:          make(map[workitem.Type]Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterHandler installs the handler for a stage tag. Tags outside the
// declared pipeline sequence are rejected here, not at dispatch time.
func (m *Manager) RegisterHandler(tag workitem.Type, handler Handler) error {
	if !m.registry.Known(tag) {
		return services.Wrap(services.ErrConfiguration, "workflow", "register handler",
			fmt.Sprintf("unknown stage tag %q", tag), nil)
	}
	if handler == nil {
		return services.Wrap(services.ErrConfiguration, "workflow", "register handler",
			fmt.Sprintf("nil handler for stage %q", tag), nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return services.Wrap(services.ErrConflict, "workflow", "register handler", "manager already running", nil)
	}
	if _, dup := m.handlers[tag]; dup {
		return services.Wrap(services.ErrConfiguration, "workflow", "register handler",
			fmt.Sprintf("stage %q already has a handler", tag), nil)
	}
	m.handlers[tag] = handler
	return nil
}

// HandlerCount reports how many stage handlers are registered.
func (m *Manager) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// Start launches the worker pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if len(m.handlers) == 0 {
		return errors.New("no stage handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	count := m.workerCount
	if count <= 0 {
		count = 1
	}
	m.wg.Add(count)
	for i := 0; i < count; i++ {
		workerID := newWorkerID()
		go m.runWorker(runCtx, workerID)
	}
	m.logger.Info("workflow started", logging.Int("workers", count))
	return nil
}

// Stop terminates the pool and waits for in-flight items to release.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}
