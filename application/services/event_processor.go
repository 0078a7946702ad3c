package services

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"fabric/application/ports"
	"fabric/domain/config"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// CorrelationRule describes a temporal pattern of event types. The rule
// fires when an event of any pattern type arrives and, for every other
// pattern type, a prior event of that type occurred within the timeframe.
type CorrelationRule struct {
	Name      string
	Pattern   []string
	Timeframe time.Duration
	Action    ports.CorrelationAction
}

// QueueStats is a point-in-time snapshot of processor load
type QueueStats struct {
	QueueSize     int   `json:"queue_size"`
	MaxQueueSize  int   `json:"max_queue_size"`
	Workers       int   `json:"workers"`
	Running       bool  `json:"running"`
	Processed     int64 `json:"processed"`
	SyncFallbacks int64 `json:"sync_fallbacks"`
	Dropped       int64 `json:"dropped"`
}

// job carries one submitted event to a worker. A nil job is the shutdown
// sentinel; each worker consumes exactly one.
type job struct {
	event        *entities.Event
	relatedNodes []string
}

// EventProcessor runs emitted events through the filter, persistence,
// correlation, and dispatch pipeline on a bounded worker pool. Urgent
// events bypass the queue and run on the caller's goroutine, as do all
// emissions while the pool is stopped or the queue is full.
type EventProcessor struct {
	eventLog *EventLog
	cfg      *config.DomainConfig
	logger   *zap.Logger

	queue   chan *job
	wg      sync.WaitGroup
	running bool

	mu           sync.RWMutex
	handlers     map[string][]ports.EventHandler
	filters      []ports.EventFilter
	correlations []CorrelationRule
	memory       *AssociativeMemory
	history      map[string][]string // event type -> recent persisted ids, oldest first

	timestamps *ristretto.Cache // persisted id -> event timestamp

	statsMu       sync.Mutex
	processed     int64
	syncFallbacks int64
	dropped       int64
}

// NewEventProcessor creates a stopped processor. Call Start to spin up the
// worker pool; Emit works either way.
func NewEventProcessor(eventLog *EventLog, cfg *config.DomainConfig, logger *zap.Logger) (*EventProcessor, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to create timestamp cache", err)
	}
	return &EventProcessor{
		eventLog:   eventLog,
		cfg:        cfg,
		logger:     logger,
		queue:      make(chan *job, cfg.MaxQueueSize),
		handlers:   make(map[string][]ports.EventHandler),
		history:    make(map[string][]string),
		timestamps: cache,
	}, nil
}

// Start launches the worker pool. Starting a running processor is a no-op
// reported through the returned bool.
func (p *EventProcessor) Start(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false, nil
	}
	p.running = true
	for i := 0; i < p.cfg.WorkerThreads; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("event processor started",
		zap.Int("workers", p.cfg.WorkerThreads),
		zap.Int("maxQueueSize", p.cfg.MaxQueueSize),
	)
	return true, nil
}

// Stop drains the pool by sending one shutdown sentinel per worker, then
// waits up to the configured timeout for them to finish in-flight work.
// Stopping a stopped processor is a no-op reported through the returned
// bool.
func (p *EventProcessor) Stop(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false, nil
	}
	p.running = false
	workers := p.cfg.WorkerThreads
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.queue <- nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("event processor stopped")
		return true, nil
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("event processor workers did not stop in time",
			zap.Duration("timeout", p.cfg.ShutdownTimeout),
		)
		return true, pkgerrors.NewInternalError("event processor shutdown timed out", nil)
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// RegisterHandler subscribes a handler to an event type. The type "*"
// receives every processed event.
func (p *EventProcessor) RegisterHandler(eventType string, handler ports.EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventType] = append(p.handlers[eventType], handler)
}

// RegisterFilter adds a pre-persistence filter. The first filter returning
// false drops the event before it is stored.
func (p *EventProcessor) RegisterFilter(filter ports.EventFilter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters = append(p.filters, filter)
}

// AttachMemory mirrors every processed event into associative memory at
// the default importance. Detached by default.
func (p *EventProcessor) AttachMemory(memory *AssociativeMemory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memory = memory
}

// RegisterCorrelationRule adds a temporal pattern to watch for
func (p *EventProcessor) RegisterCorrelationRule(rule CorrelationRule) error {
	if rule.Name == "" || len(rule.Pattern) < 2 {
		return pkgerrors.NewValidationError("correlation rule needs a name and at least two pattern types")
	}
	if rule.Timeframe <= 0 {
		return pkgerrors.NewValidationError("correlation rule timeframe must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.correlations = append(p.correlations, rule)
	return nil
}

// Emit submits an event to the pipeline. Urgent events, emissions while
// stopped, and emissions against a full queue run the whole pipeline on
// the caller's goroutine and return the persisted id. Queued emissions
// return an empty id; the id is assigned when a worker persists the event.
func (p *EventProcessor) Emit(ctx context.Context, eventType string, metadata map[string]valueobjects.Value, relatedNodes []string, eventCtx map[string]valueobjects.Value, urgent bool) (string, error) {
	j := &job{
		event: &entities.Event{
			Type:      eventType,
			Timestamp: time.Now(),
			Metadata:  metadata,
			Context:   eventCtx,
		},
		relatedNodes: relatedNodes,
	}

	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()
	if urgent || !running {
		return p.process(ctx, j)
	}

	select {
	case p.queue <- j:
		return "", nil
	default:
		// Full queue: degrade to synchronous dispatch rather than block or drop
		p.statsMu.Lock()
		p.syncFallbacks++
		p.statsMu.Unlock()
		p.logger.Warn("event queue full, processing synchronously", zap.String("type", eventType))
		return p.process(ctx, j)
	}
}

// Snapshot returns current queue and throughput numbers
func (p *EventProcessor) Snapshot() QueueStats {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return QueueStats{
		QueueSize:     len(p.queue),
		MaxQueueSize:  p.cfg.MaxQueueSize,
		Workers:       p.cfg.WorkerThreads,
		Running:       running,
		Processed:     p.processed,
		SyncFallbacks: p.syncFallbacks,
		Dropped:       p.dropped,
	}
}

// ActiveHandlers returns handler counts per registered event type
func (p *EventProcessor) ActiveHandlers() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := make(map[string]int, len(p.handlers))
	for eventType, hs := range p.handlers {
		counts[eventType] = len(hs)
	}
	return counts
}

// CorrelationRules returns the names of the registered rules
func (p *EventProcessor) CorrelationRules() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.correlations))
	for i, rule := range p.correlations {
		names[i] = rule.Name
	}
	return names
}

func (p *EventProcessor) worker(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		if j == nil {
			return
		}
		if _, err := p.process(context.Background(), j); err != nil {
			p.logger.Error("failed to process queued event",
				zap.String("type", j.event.Type),
				zap.Error(err),
			)
		}
	}
}

// process runs one event through the full pipeline: filters, persistence,
// history, memory mirroring, correlation, then type-specific and wildcard
// handlers. Handler panics are contained; a failing handler never blocks
// siblings.
func (p *EventProcessor) process(ctx context.Context, j *job) (string, error) {
	p.mu.RLock()
	filters := append([]ports.EventFilter{}, p.filters...)
	handlers := append([]ports.EventHandler{}, p.handlers[j.event.Type]...)
	handlers = append(handlers, p.handlers["*"]...)
	memory := p.memory
	p.mu.RUnlock()

	for _, filter := range filters {
		if !filter(j.event) {
			p.statsMu.Lock()
			p.dropped++
			p.statsMu.Unlock()
			p.logger.Debug("event dropped by filter", zap.String("type", j.event.Type))
			return "", nil
		}
	}

	persistedID, err := p.eventLog.Log(ctx, j.event.Type, j.event.Metadata, j.relatedNodes, j.event.Context)
	if err != nil {
		return "", err
	}
	j.event.ID = persistedID
	p.timestamps.Set(persistedID, j.event.Timestamp, 1)
	p.appendHistory(j.event.Type, persistedID)

	if memory != nil {
		p.remember(memory, j.event, persistedID)
	}
	p.correlate(j.event, persistedID)
	for _, handler := range handlers {
		p.invoke(handler, j.event, persistedID)
	}

	p.statsMu.Lock()
	p.processed++
	p.statsMu.Unlock()
	return persistedID, nil
}

// appendHistory records a persisted id in the bounded per-type history
func (p *EventProcessor) appendHistory(eventType, persistedID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	history := append(p.history[eventType], persistedID)
	if len(history) > p.cfg.HistoryPerType {
		history = history[len(history)-p.cfg.HistoryPerType:]
	}
	p.history[eventType] = history
}

// remember mirrors a processed event into associative memory
func (p *EventProcessor) remember(memory *AssociativeMemory, event *entities.Event, persistedID string) {
	content := map[string]valueobjects.Value{
		"event_id":   valueobjects.String(persistedID),
		"event_type": valueobjects.String(event.Type),
	}
	for k, v := range event.Metadata {
		content[k] = v
	}
	if _, err := memory.Store(context.Background(), content, event.Context, "event", -1, nil); err != nil {
		p.logger.Warn("failed to mirror event into memory",
			zap.String("eventID", persistedID),
			zap.Error(err),
		)
	}
}

func (p *EventProcessor) invoke(handler ports.EventHandler, event *entities.Event, persistedID string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event handler panicked",
				zap.String("type", event.Type),
				zap.String("eventID", persistedID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := handler(event, persistedID); err != nil {
		p.logger.Warn("event handler failed",
			zap.String("type", event.Type),
			zap.String("eventID", persistedID),
			zap.Error(err),
		)
	}
}

// correlate checks every rule whose pattern contains this event's type.
// Matching is backward only: each other pattern slot binds to the most
// recent prior event of its type within the rule's timeframe, and an
// unmatched pattern is never revisited for this trigger.
func (p *EventProcessor) correlate(event *entities.Event, persistedID string) {
	p.mu.RLock()
	rules := append([]CorrelationRule{}, p.correlations...)
	p.mu.RUnlock()

	for _, rule := range rules {
		trigger := -1
		for i, patternType := range rule.Pattern {
			if patternType == event.Type {
				trigger = i
				break
			}
		}
		if trigger < 0 {
			continue
		}
		matched, ok := p.matchPattern(rule, trigger, event, persistedID)
		if !ok {
			continue
		}
		p.logger.Info("correlation pattern detected",
			zap.String("rule", rule.Name),
			zap.Strings("eventIDs", matched),
		)
		if rule.Action != nil {
			p.invokeAction(rule, matched)
		}
	}
}

// matchPattern binds each non-trigger slot to the most recent prior event
// of its type inside the timeframe ending at the trigger's timestamp.
func (p *EventProcessor) matchPattern(rule CorrelationRule, trigger int, event *entities.Event, persistedID string) ([]string, bool) {
	matched := make([]string, len(rule.Pattern))
	matched[trigger] = persistedID
	earliest := event.Timestamp.Add(-rule.Timeframe)

	for slot, slotType := range rule.Pattern {
		if slot == trigger {
			continue
		}
		p.mu.RLock()
		candidates := append([]string{}, p.history[slotType]...)
		p.mu.RUnlock()

		found := false
		for i := len(candidates) - 1; i >= 0; i-- {
			if candidates[i] == persistedID {
				continue
			}
			ts, ok := p.eventTimestamp(candidates[i])
			if !ok {
				continue
			}
			if ts.After(event.Timestamp) {
				continue
			}
			if ts.Before(earliest) {
				break
			}
			matched[slot] = candidates[i]
			found = true
			break
		}
		if !found {
			return nil, false
		}
	}
	return matched, true
}

func (p *EventProcessor) invokeAction(rule CorrelationRule, matched []string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("correlation action panicked",
				zap.String("rule", rule.Name),
				zap.Any("panic", r),
			)
		}
	}()
	rule.Action(matched, rule.Pattern)
}

// eventTimestamp resolves a persisted event's timestamp, preferring the
// cache and falling back to the store.
func (p *EventProcessor) eventTimestamp(persistedID string) (time.Time, bool) {
	if cached, ok := p.timestamps.Get(persistedID); ok {
		if ts, isTime := cached.(time.Time); isTime {
			return ts, true
		}
	}
	event, err := p.eventLog.GetEvent(context.Background(), persistedID)
	if err != nil {
		return time.Time{}, false
	}
	p.timestamps.Set(persistedID, event.Timestamp, 1)
	return event.Timestamp, true
}
