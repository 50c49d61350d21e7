package engagic

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LoopStatus is the current state of one background loop.
type LoopStatus struct {
	Name            string    `json:"name"`
	Status          string    `json:"status"` // "Running", "Idle", "Error", "Stopped"
	CurrentActivity string    `json:"current_activity"`
	LastActiveAt    time.Time `json:"last_active_at"`
	CycleCount      int       `json:"cycle_count"`
}

type backgroundLoop struct {
	name     string
	interval time.Duration
	runFunc  func(context.Context) error

	mu     sync.RWMutex
	status LoopStatus
}

// LoopManager owns the long-lived background loops: the sync sweep and the
// queue-processing catch-up. Loops stop at the next safe point on shutdown.
type LoopManager struct {
	scheduler *Scheduler
	worker    *Worker
	logger    *slog.Logger

	loops  []*backgroundLoop
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLoopManager registers the pipeline's background loops.
func NewLoopManager(scheduler *Scheduler, worker *Worker, cfg *Config, logger *slog.Logger) *LoopManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &LoopManager{
		scheduler: scheduler,
		worker:    worker,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	m.registerLoop("sync", cfg.SyncInterval, m.runSyncCycle)
	m.registerLoop("processing", cfg.ProcessingInterval, m.runProcessingCycle)
	m.registerLoop("queue", time.Minute, m.runQueueCycle)
	return m
}

func (m *LoopManager) registerLoop(name string, interval time.Duration, runFunc func(context.Context) error) {
	m.loops = append(m.loops, &backgroundLoop{
		name:     name,
		interval: interval,
		runFunc:  runFunc,
		status: LoopStatus{
			Name:            name,
			Status:          "Idle",
			CurrentActivity: "Waiting to start",
			LastActiveAt:    time.Now(),
		},
	})
}

// Start launches all loops. Each runs one cycle immediately, then ticks.
func (m *LoopManager) Start(ctx context.Context) {
	m.logger.Info("starting background loops", "count", len(m.loops))
	for _, loop := range m.loops {
		m.wg.Add(1)
		go m.runLoop(ctx, loop)
	}
}

// Stop signals all loops and waits for them to reach a safe point.
func (m *LoopManager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Statuses returns a snapshot of every loop's state.
func (m *LoopManager) Statuses() []LoopStatus {
	statuses := make([]LoopStatus, 0, len(m.loops))
	for _, loop := range m.loops {
		loop.mu.RLock()
		statuses = append(statuses, loop.status)
		loop.mu.RUnlock()
	}
	return statuses
}

func (m *LoopManager) setLoopStatus(loop *backgroundLoop, status, activity string) {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	loop.status.Status = status
	loop.status.CurrentActivity = activity
	loop.status.LastActiveAt = time.Now()
}

func (m *LoopManager) runLoop(ctx context.Context, loop *backgroundLoop) {
	defer m.wg.Done()

	ticker := time.NewTicker(loop.interval)
	defer ticker.Stop()

	m.runCycle(ctx, loop)

	for {
		select {
		case <-ctx.Done():
			m.setLoopStatus(loop, "Stopped", "Context cancelled")
			return
		case <-m.stopCh:
			m.setLoopStatus(loop, "Stopped", "Shutdown requested")
			return
		case <-ticker.C:
			m.runCycle(ctx, loop)
		}
	}
}

func (m *LoopManager) runCycle(ctx context.Context, loop *backgroundLoop) {
	m.setLoopStatus(loop, "Running", "Starting cycle")

	if err := loop.runFunc(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("background loop cycle failed", "loop", loop.name, "error", err)
		m.setLoopStatus(loop, "Error", err.Error())
		return
	}

	loop.mu.Lock()
	loop.status.CycleCount++
	loop.mu.Unlock()
	m.setLoopStatus(loop, "Idle", "Waiting for next cycle")
}

func (m *LoopManager) runSyncCycle(ctx context.Context) error {
	_, err := m.scheduler.RunSweep(ctx)
	return err
}

// runProcessingCycle picks up meetings that slipped past per-record enqueue.
func (m *LoopManager) runProcessingCycle(ctx context.Context) error {
	_, err := m.worker.CatchUpUnprocessed(ctx, 200)
	return err
}

// runQueueCycle keeps the queue drained between sweeps.
func (m *LoopManager) runQueueCycle(ctx context.Context) error {
	_, err := m.worker.DrainQueue(ctx)
	return err
}
