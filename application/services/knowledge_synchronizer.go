package services

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"fabric/domain/config"
	"fabric/domain/sync"
	pkgerrors "fabric/pkg/errors"
)

// SyncStatus reports the scheduler's bookkeeping
type SyncStatus struct {
	Running                 bool      `json:"running"`
	LocalKG                 string    `json:"local_kg"`
	GlobalKG                string    `json:"global_kg"`
	Rule                    string    `json:"rule"`
	IntervalMinutes         int       `json:"interval_minutes"`
	PriorityIntervalMinutes int       `json:"priority_interval_minutes"`
	PriorityNodeTypes       []string  `json:"priority_node_types"`
	LastFullSync            time.Time `json:"last_full_sync"`
	LastPrioritySync        time.Time `json:"last_priority_sync"`
	NextFullSync            time.Time `json:"next_full_sync"`
}

// KnowledgeSynchronizer schedules periodic synchronization between the
// agent's local graph and the shared global graph. Full passes run at the
// configured interval; priority node types are pushed on a faster cadence.
// The loop polls cooperatively so Stop and UpdateSchedule take effect
// within one tick.
type KnowledgeSynchronizer struct {
	dkm    *DualKnowledgeManager
	cfg    *config.DomainConfig
	logger *zap.Logger

	localKG  string
	globalKG string
	rule     string

	mu               gosync.Mutex
	intervalMinutes  int
	priorityTypes    []string
	running          bool
	lastFullSync     time.Time
	lastPrioritySync time.Time
	stop             chan struct{}
	wg               gosync.WaitGroup
}

// NewKnowledgeSynchronizer creates a stopped scheduler for the given
// local/global graph pair under the given rule.
func NewKnowledgeSynchronizer(dkm *DualKnowledgeManager, cfg *config.DomainConfig, localKG, globalKG, rule string, logger *zap.Logger) *KnowledgeSynchronizer {
	return &KnowledgeSynchronizer{
		dkm:             dkm,
		cfg:             cfg,
		logger:          logger,
		localKG:         localKG,
		globalKG:        globalKG,
		rule:            rule,
		intervalMinutes: cfg.SyncIntervalMinutes,
		priorityTypes:   append([]string{}, cfg.PriorityNodeTypes...),
	}
}

// Start launches the scheduling loop. Starting a running scheduler is a
// no-op reported through the returned bool.
func (ks *KnowledgeSynchronizer) Start(ctx context.Context) (bool, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.running {
		return false, nil
	}
	ks.running = true
	ks.stop = make(chan struct{})
	ks.wg.Add(1)
	go ks.loop()
	ks.logger.Info("knowledge synchronizer started",
		zap.String("localKG", ks.localKG),
		zap.String("globalKG", ks.globalKG),
		zap.Int("intervalMinutes", ks.intervalMinutes),
	)
	return true, nil
}

// Stop halts the scheduling loop. An in-flight pass completes first.
// Stopping a stopped scheduler is a no-op reported through the returned
// bool.
func (ks *KnowledgeSynchronizer) Stop(ctx context.Context) (bool, error) {
	ks.mu.Lock()
	if !ks.running {
		ks.mu.Unlock()
		return false, nil
	}
	ks.running = false
	close(ks.stop)
	ks.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ks.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		ks.logger.Info("knowledge synchronizer stopped")
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (ks *KnowledgeSynchronizer) loop() {
	defer ks.wg.Done()
	ticker := time.NewTicker(ks.cfg.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ks.stop:
			return
		case <-ticker.C:
		}

		ks.mu.Lock()
		interval := time.Duration(ks.intervalMinutes) * time.Minute
		priorityInterval := time.Duration(config.PrioritySyncInterval(ks.intervalMinutes)) * time.Minute
		fullDue := time.Since(ks.lastFullSync) >= interval
		priorityDue := !fullDue && time.Since(ks.lastPrioritySync) >= priorityInterval
		ks.mu.Unlock()

		ctx := context.Background()
		if fullDue {
			ks.SyncAll(ctx)
		} else if priorityDue {
			ks.SyncPriorityNodes(ctx)
		}
	}
}

// SyncAll runs a full bidirectional pass and returns per-direction results
func (ks *KnowledgeSynchronizer) SyncAll(ctx context.Context) map[string]sync.Result {
	results := map[string]sync.Result{
		"to_global":   ks.dkm.Synchronize(ctx, ks.localKG, ks.globalKG, ks.rule),
		"from_global": ks.dkm.Synchronize(ctx, ks.globalKG, ks.localKG, ks.rule),
	}
	now := time.Now()
	ks.mu.Lock()
	ks.lastFullSync = now
	ks.lastPrioritySync = now
	ks.mu.Unlock()
	return results
}

// SyncPriorityNodes pushes only the configured priority node types, both
// directions.
func (ks *KnowledgeSynchronizer) SyncPriorityNodes(ctx context.Context) map[string]sync.Result {
	ks.mu.Lock()
	labels := append([]string{}, ks.priorityTypes...)
	ks.mu.Unlock()

	opts := SyncOptions{Labels: labels}
	results := map[string]sync.Result{
		"to_global":   ks.dkm.SynchronizeWith(ctx, ks.localKG, ks.globalKG, ks.rule, opts),
		"from_global": ks.dkm.SynchronizeWith(ctx, ks.globalKG, ks.localKG, ks.rule, opts),
	}
	ks.mu.Lock()
	ks.lastPrioritySync = time.Now()
	ks.mu.Unlock()
	return results
}

// SyncSpecificNodes pushes local nodes of the given types to the global
// graph.
func (ks *KnowledgeSynchronizer) SyncSpecificNodes(ctx context.Context, nodeTypes []string) (sync.Result, error) {
	if len(nodeTypes) == 0 {
		return sync.Result{}, pkgerrors.NewValidationError("no node types given")
	}
	return ks.dkm.SynchronizeWith(ctx, ks.localKG, ks.globalKG, ks.rule, SyncOptions{Labels: nodeTypes}), nil
}

// ForceSyncNow runs a pass immediately, outside the schedule. With no
// node types it runs a full bidirectional pass; with types it syncs only
// those, both directions.
func (ks *KnowledgeSynchronizer) ForceSyncNow(ctx context.Context, nodeTypes ...string) map[string]sync.Result {
	ks.logger.Info("forced synchronization requested", zap.Strings("nodeTypes", nodeTypes))
	if len(nodeTypes) == 0 {
		return ks.SyncAll(ctx)
	}
	opts := SyncOptions{Labels: nodeTypes}
	results := map[string]sync.Result{
		"to_global":   ks.dkm.SynchronizeWith(ctx, ks.localKG, ks.globalKG, ks.rule, opts),
		"from_global": ks.dkm.SynchronizeWith(ctx, ks.globalKG, ks.localKG, ks.rule, opts),
	}
	ks.mu.Lock()
	ks.lastPrioritySync = time.Now()
	ks.mu.Unlock()
	return results
}

// UpdateSchedule changes the full-pass interval and, when given, the
// priority node types. A nil priority list keeps the current set. The
// priority cadence derives from the interval. Takes effect on the next
// tick.
func (ks *KnowledgeSynchronizer) UpdateSchedule(intervalMinutes int, priorityNodeTypes []string) error {
	if intervalMinutes < 1 {
		return pkgerrors.NewValidationError("sync interval must be at least one minute")
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.intervalMinutes = intervalMinutes
	if priorityNodeTypes != nil {
		ks.priorityTypes = append([]string{}, priorityNodeTypes...)
	}
	ks.logger.Info("sync schedule updated",
		zap.Int("intervalMinutes", intervalMinutes),
		zap.Strings("priorityNodeTypes", ks.priorityTypes),
	)
	return nil
}

// Status returns the scheduler's current bookkeeping
func (ks *KnowledgeSynchronizer) Status() SyncStatus {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	next := ks.lastFullSync.Add(time.Duration(ks.intervalMinutes) * time.Minute)
	return SyncStatus{
		Running:                 ks.running,
		LocalKG:                 ks.localKG,
		GlobalKG:                ks.globalKG,
		Rule:                    ks.rule,
		IntervalMinutes:         ks.intervalMinutes,
		PriorityIntervalMinutes: config.PrioritySyncInterval(ks.intervalMinutes),
		PriorityNodeTypes:       append([]string{}, ks.priorityTypes...),
		LastFullSync:            ks.lastFullSync,
		LastPrioritySync:        ks.lastPrioritySync,
		NextFullSync:            next,
	}
}
