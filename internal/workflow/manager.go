package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"datamill/internal/config"
	"datamill/internal/logging"
	"datamill/internal/notifications"
	"datamill/internal/queue"
	"datamill/internal/stage"
	"datamill/internal/statusfeed"
)

// StageSet bundles the concrete stage handlers the manager orchestrates.
type StageSet struct {
	Convert stage.Handler
	Clean   stage.Handler
	Train   stage.Handler
	Publish stage.Handler
}

// pipelineStage binds a handler to the run status transitions it drives.
type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
}

// Manager owns run processing. It is the single writer of run state: one
// processing goroutine selects the oldest actionable run and drives it
// through the stage sequence, which also enforces the one-running-run
// invariant.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	notifier     notifications.Service
	feed         *statusfeed.Feed
	pollInterval time.Duration

	heartbeat *HeartbeatMonitor

	stages       []pipelineStage
	stageByStart map[queue.Status]pipelineStage

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastRun *queue.Run

	// active tracks the in-flight stage execution so CancelRun can kill it.
	activeRunID  int64
	activeCancel context.CancelFunc
}

// NewManager constructs a workflow manager with default collaborators.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, feed *statusfeed.Feed) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, feed, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier
// (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, feed *statusfeed.Feed, notifier notifications.Service) *Manager {
	if feed == nil {
		feed = statusfeed.New()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger.With(logging.String(logging.FieldComponent, "workflow-manager")),
		notifier:     notifier,
		feed:         feed,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
}

// Configure registers the stage handlers. It must be called before Start.
func (m *Manager) Configure(set StageSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stages = []pipelineStage{
		{name: queue.StageConvert, handler: set.Convert, startStatus: queue.StatusPending, processingStatus: queue.StatusConverting, doneStatus: queue.StatusConverted},
		{name: queue.StageClean, handler: set.Clean, startStatus: queue.StatusConverted, processingStatus: queue.StatusCleaning, doneStatus: queue.StatusCleaned},
		{name: queue.StageTrain, handler: set.Train, startStatus: queue.StatusCleaned, processingStatus: queue.StatusTraining, doneStatus: queue.StatusTrained},
		{name: queue.StagePublish, handler: set.Publish, startStatus: queue.StatusTrained, processingStatus: queue.StatusPublishing, doneStatus: queue.StatusCompleted},
	}
	m.stageByStart = make(map[queue.Status]pipelineStage, len(m.stages))
	for _, stg := range m.stages {
		m.stageByStart[stg.startStatus] = stg
	}
}

// Feed exposes the status feed runs publish to.
func (m *Manager) Feed() *statusfeed.Feed {
	return m.feed
}

// Start begins background run processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
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
}

// CancelRun aborts the in-flight stage of the given run. It returns false
// when the run is not currently executing a stage.
func (m *Manager) CancelRun(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeRunID != id || m.activeCancel == nil {
		return false
	}
	m.activeCancel()
	return true
}

func (m *Manager) setActive(id int64, cancel context.CancelFunc) {
	m.mu.Lock()
	m.activeRunID = id
	m.activeCancel = cancel
	m.mu.Unlock()
}

func (m *Manager) clearActive() {
	m.mu.Lock()
	m.activeRunID = 0
	m.activeCancel = nil
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastRun(run *queue.Run) {
	m.mu.Lock()
	if run != nil {
		snapshot := *run
		m.lastRun = &snapshot
	} else {
		m.lastRun = nil
	}
	m.mu.Unlock()
}
