package services

import (
	"context"

	"go.uber.org/zap"

	"fabric/application/ports"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	"fabric/domain/sync"
)

// SystemStatus aggregates component health for one status call
type SystemStatus struct {
	Running        bool        `json:"running"`
	AgentID        string      `json:"agent_id"`
	LocalStoreUp   bool        `json:"local_store_up"`
	GlobalStoreUp  bool        `json:"global_store_up"`
	Queue          QueueStats  `json:"queue"`
	Memory         MemoryStats `json:"memory"`
	Sync           SyncStatus  `json:"sync"`
	ActiveHandlers int         `json:"active_handlers"`
}

// KnowledgeFabric is the single entry point an agent uses. It owns the
// lifecycle of the event processor and the synchronizer and fronts the
// memory, event, and sync subsystems with one coherent surface.
type KnowledgeFabric struct {
	agentID      string
	localStore   ports.GraphStore
	globalStore  ports.GraphStore
	events       *EventLog
	memory       *AssociativeMemory
	processor    *EventProcessor
	dkm          *DualKnowledgeManager
	synchronizer *KnowledgeSynchronizer
	logger       *zap.Logger
}

// NewKnowledgeFabric assembles the facade from its wired components
func NewKnowledgeFabric(
	agentID string,
	localStore, globalStore ports.GraphStore,
	events *EventLog,
	memory *AssociativeMemory,
	processor *EventProcessor,
	dkm *DualKnowledgeManager,
	synchronizer *KnowledgeSynchronizer,
	logger *zap.Logger,
) *KnowledgeFabric {
	return &KnowledgeFabric{
		agentID:      agentID,
		localStore:   localStore,
		globalStore:  globalStore,
		events:       events,
		memory:       memory,
		processor:    processor,
		dkm:          dkm,
		synchronizer: synchronizer,
		logger:       logger,
	}
}

// Start brings up the event workers and the sync scheduler. The bool
// reports whether anything actually started; a second Start is a no-op.
func (f *KnowledgeFabric) Start(ctx context.Context) (bool, error) {
	procStarted, err := f.processor.Start(ctx)
	if err != nil {
		return procStarted, err
	}
	syncStarted := false
	if f.synchronizer != nil {
		syncStarted, err = f.synchronizer.Start(ctx)
		if err != nil {
			return procStarted || syncStarted, err
		}
	}
	if procStarted || syncStarted {
		f.logger.Info("knowledge fabric started", zap.String("agentID", f.agentID))
	}
	return procStarted || syncStarted, nil
}

// Stop shuts down the scheduler first so no new sync passes start, then
// drains the event workers. The bool reports whether anything was running.
func (f *KnowledgeFabric) Stop(ctx context.Context) (bool, error) {
	syncStopped := false
	var syncErr error
	if f.synchronizer != nil {
		syncStopped, syncErr = f.synchronizer.Stop(ctx)
	}
	procStopped, procErr := f.processor.Stop(ctx)
	if syncErr != nil {
		return syncStopped || procStopped, syncErr
	}
	return syncStopped || procStopped, procErr
}

// EmitEvent records an event through the processor
func (f *KnowledgeFabric) EmitEvent(ctx context.Context, eventType string, metadata map[string]valueobjects.Value, relatedNodes []string, urgent bool) (string, error) {
	return f.processor.Emit(ctx, eventType, metadata, relatedNodes, nil, urgent)
}

// StoreMemory stores a memory record; importance < 0 takes the default
func (f *KnowledgeFabric) StoreMemory(ctx context.Context, content, contextData map[string]valueobjects.Value, memoryType string, importance float64, associations []string) (string, error) {
	return f.memory.Store(ctx, content, contextData, memoryType, importance, associations)
}

// RecallMemory recalls memories matching the query
func (f *KnowledgeFabric) RecallMemory(ctx context.Context, query RecallQuery) ([]*entities.MemoryRecord, error) {
	return f.memory.Recall(ctx, query)
}

// RecallAssociations walks the association graph up to depth hops out
func (f *KnowledgeFabric) RecallAssociations(ctx context.Context, memoryID string, depth int) ([]*entities.MemoryRecord, error) {
	return f.memory.RecallAssociations(ctx, memoryID, depth)
}

// CreateMemoryAssociation links two memories symmetrically with the given
// strength in [0, 1].
func (f *KnowledgeFabric) CreateMemoryAssociation(ctx context.Context, memoryID, otherID string, strength float64) error {
	return f.memory.Associate(ctx, memoryID, otherID, strength)
}

// RunMemoryMaintenance decays every memory and prunes the ones that fell
// below the importance threshold. Returns (updated, pruned) counts.
func (f *KnowledgeFabric) RunMemoryMaintenance(ctx context.Context) (int, int, error) {
	return f.memory.Decay(ctx, 0)
}

// PruneMemory removes one memory and its association edges. Returns false
// when the memory does not exist.
func (f *KnowledgeFabric) PruneMemory(ctx context.Context, memoryID string) (bool, error) {
	return f.memory.PruneMemory(ctx, memoryID)
}

// SyncKnowledge forces a bidirectional sync pass now, restricted to the
// given node types when any are named. Without a shared graph configured,
// synchronization reports an error result instead of failing hard.
func (f *KnowledgeFabric) SyncKnowledge(ctx context.Context, nodeTypes ...string) map[string]sync.Result {
	if f.synchronizer == nil {
		return map[string]sync.Result{"error": sync.ErrorResult("no shared graph configured")}
	}
	return f.synchronizer.ForceSyncNow(ctx, nodeTypes...)
}

// GetSyncStatus returns the scheduler's bookkeeping
func (f *KnowledgeFabric) GetSyncStatus() SyncStatus {
	if f.synchronizer == nil {
		return SyncStatus{}
	}
	return f.synchronizer.Status()
}

// RegisterEventHandler subscribes a handler to an event type
func (f *KnowledgeFabric) RegisterEventHandler(eventType string, handler ports.EventHandler) {
	f.processor.RegisterHandler(eventType, handler)
}

// RegisterEventFilter adds a pre-persistence event filter
func (f *KnowledgeFabric) RegisterEventFilter(filter ports.EventFilter) {
	f.processor.RegisterFilter(filter)
}

// RegisterCorrelationRule adds a temporal pattern to watch for
func (f *KnowledgeFabric) RegisterCorrelationRule(rule CorrelationRule) error {
	return f.processor.RegisterCorrelationRule(rule)
}

// Events exposes the event log for direct temporal queries
func (f *KnowledgeFabric) Events() *EventLog { return f.events }

// Knowledge exposes the dual knowledge manager for sync configuration
func (f *KnowledgeFabric) Knowledge() *DualKnowledgeManager { return f.dkm }

// GetSystemStatus aggregates component health
func (f *KnowledgeFabric) GetSystemStatus(ctx context.Context) SystemStatus {
	queue := f.processor.Snapshot()
	memStats := MemoryStats{CountByType: map[string]int{}}
	if stats, err := f.memory.Stats(ctx); err == nil {
		memStats = *stats
	}
	handlers := 0
	for _, n := range f.processor.ActiveHandlers() {
		handlers += n
	}
	globalUp := false
	if f.globalStore != nil {
		globalUp = f.globalStore.VerifyConnectivity(ctx)
	}
	return SystemStatus{
		Running:        queue.Running,
		AgentID:        f.agentID,
		LocalStoreUp:   f.localStore.VerifyConnectivity(ctx),
		GlobalStoreUp:  globalUp,
		Queue:          queue,
		Memory:         memStats,
		Sync:           f.GetSyncStatus(),
		ActiveHandlers: handlers,
	}
}
