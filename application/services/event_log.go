package services

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"fabric/application/ports"
	"fabric/domain/config"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// TimeRange bounds a temporal query. Nil ends are unbounded.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// EventStatistics summarizes the event population
type EventStatistics struct {
	TotalCount int            `json:"total_count"`
	Breakdown  map[string]int `json:"breakdown"`
}

// EventLog persists typed events into the knowledge graph and answers
// temporal queries over them. Events are append-only: once persisted only
// relationship attachments may be added.
type EventLog struct {
	store  ports.GraphStore
	cfg    *config.DomainConfig
	logger *zap.Logger
}

// NewEventLog creates an event log over the given store
func NewEventLog(store ports.GraphStore, cfg *config.DomainConfig, logger *zap.Logger) *EventLog {
	return &EventLog{store: store, cfg: cfg, logger: logger}
}

// Log persists an event node and links it to each related node with a
// RELATED_TO edge. Edge failures are logged and skipped; the event itself
// is already durable at that point.
func (l *EventLog) Log(ctx context.Context, eventType string, metadata map[string]valueobjects.Value, relatedNodes []string, eventCtx map[string]valueobjects.Value) (string, error) {
	if eventType == "" {
		return "", pkgerrors.NewValidationError("event type cannot be empty")
	}
	if metadata == nil {
		metadata = map[string]valueobjects.Value{}
	}
	event := &entities.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Metadata:  metadata,
		Context:   eventCtx,
	}
	props, err := event.ToProperties()
	if err != nil {
		return "", pkgerrors.NewInternalError("failed to encode event", err)
	}

	eventID, err := l.store.CreateNode(ctx, []string{entities.LabelEvent}, props)
	if err != nil {
		return "", pkgerrors.NewStoreError("failed to persist event", err)
	}

	for _, nodeID := range relatedNodes {
		if _, err := l.store.CreateRelationship(ctx, eventID, nodeID, entities.RelRelatedTo, valueobjects.NewProperties()); err != nil {
			l.logger.Warn("failed to link event to related node",
				zap.String("eventID", eventID),
				zap.String("nodeID", nodeID),
				zap.Error(err),
			)
		}
	}
	return eventID, nil
}

// LogAgentAction records an agent action event
func (l *EventLog) LogAgentAction(ctx context.Context, agentID, actionType string, inputs, outputs map[string]valueobjects.Value, success bool, relatedNodes []string) (string, error) {
	metadata := map[string]valueobjects.Value{
		"agent_id":    valueobjects.String(agentID),
		"action_type": valueobjects.String(actionType),
		"inputs":      valueobjects.MapOf(inputs),
		"outputs":     valueobjects.MapOf(outputs),
		"success":     valueobjects.Bool(success),
	}
	return l.Log(ctx, "agent_action", metadata, relatedNodes, nil)
}

// LogSystemEvent records an internal component event. This is the
// ports.EventSink implementation handed to the memory and sync layers.
func (l *EventLog) LogSystemEvent(ctx context.Context, component, eventType string, details map[string]valueobjects.Value, severity string) (string, error) {
	if severity == "" {
		severity = "info"
	}
	metadata := map[string]valueobjects.Value{
		"component":  valueobjects.String(component),
		"event_type": valueobjects.String(eventType),
		"details":    valueobjects.MapOf(details),
		"severity":   valueobjects.String(severity),
	}
	return l.Log(ctx, "system_event", metadata, nil, nil)
}

// LogWorkflowStep records a workflow step execution event
func (l *EventLog) LogWorkflowStep(ctx context.Context, workflowID, stepID, status string, data map[string]valueobjects.Value, relatedNodes []string) (string, error) {
	metadata := map[string]valueobjects.Value{
		"workflow_id": valueobjects.String(workflowID),
		"step_id":     valueobjects.String(stepID),
		"status":      valueobjects.String(status),
		"data":        valueobjects.MapOf(data),
	}
	return l.Log(ctx, "workflow_step", metadata, relatedNodes, nil)
}

// GetEvent fetches one event by node id
func (l *EventLog) GetEvent(ctx context.Context, id string) (*entities.Event, error) {
	node, err := l.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return entities.EventFromNode(node)
}

// CreateSequence groups events into an ordered EventSequence node. Order
// lives on the CONTAINS edges.
func (l *EventLog) CreateSequence(ctx context.Context, eventIDs []string, name string, metadata map[string]valueobjects.Value) (string, error) {
	if name == "" {
		return "", pkgerrors.NewValidationError("sequence name cannot be empty")
	}
	props := valueobjects.Properties{
		entities.PropName: valueobjects.String(name),
		"event_count":     valueobjects.Int(int64(len(eventIDs))),
	}
	if len(metadata) > 0 {
		encoded, err := valueobjects.EncodeJSON(metadata)
		if err != nil {
			return "", pkgerrors.NewInternalError("failed to encode sequence metadata", err)
		}
		props["metadata"] = valueobjects.String(encoded)
	}

	sequenceID, err := l.store.CreateNode(ctx, []string{entities.LabelEventSequence}, props)
	if err != nil {
		return "", pkgerrors.NewStoreError("failed to persist event sequence", err)
	}
	for order, eventID := range eventIDs {
		edgeProps := valueobjects.Properties{"order": valueobjects.Int(int64(order))}
		if _, err := l.store.CreateRelationship(ctx, sequenceID, eventID, entities.RelContains, edgeProps); err != nil {
			l.logger.Warn("failed to link event into sequence",
				zap.String("sequenceID", sequenceID),
				zap.String("eventID", eventID),
				zap.Error(err),
			)
		}
	}
	return sequenceID, nil
}

// AddEventRelationship attaches a typed edge between two events
func (l *EventLog) AddEventRelationship(ctx context.Context, sourceID, targetID, relType string) error {
	_, err := l.store.CreateRelationship(ctx, sourceID, targetID, relType, valueobjects.Properties{
		"created_at": valueobjects.Time(time.Now()),
	})
	if err != nil {
		return pkgerrors.NewStoreError("failed to create event relationship", err)
	}
	return nil
}

// FindRelated returns events attached to a node, newest first. A
// non-positive limit falls back to the configured default.
func (l *EventLog) FindRelated(ctx context.Context, nodeID string, eventTypes []string, timeRange *TimeRange, limit int) ([]*entities.Event, error) {
	if limit <= 0 {
		limit = l.cfg.DefaultRelatedLimit
	}
	rels, err := l.store.Relationships(ctx, nodeID, ports.DirectionIncoming, entities.RelRelatedTo)
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to traverse related events", err)
	}

	typeSet := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		typeSet[t] = true
	}

	var events []*entities.Event
	for _, rel := range rels {
		node, err := l.store.GetNode(ctx, rel.SourceID)
		if err != nil || !node.HasLabel(entities.LabelEvent) {
			continue
		}
		event, err := entities.EventFromNode(node)
		if err != nil {
			l.logger.Warn("skipping undecodable event node", zap.String("id", node.ID), zap.Error(err))
			continue
		}
		if len(typeSet) > 0 && !typeSet[event.Type] {
			continue
		}
		if !inRange(event.Timestamp, timeRange) {
			continue
		}
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// FindPatterns locates instances of a multi-event temporal template.
// Matches require strictly increasing timestamps across template order;
// when a window is given the full span must fit inside it.
func (l *EventLog) FindPatterns(ctx context.Context, template []entities.EventSpec, timeWindow time.Duration) ([][]*entities.Event, error) {
	if len(template) <= 1 {
		return nil, nil
	}
	nodes, err := l.store.FindNodes(ctx, ports.NodeFilter{
		Labels:  []string{entities.LabelEvent},
		OrderBy: entities.PropTimestamp,
	})
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to load events for pattern search", err)
	}

	events := make([]*entities.Event, 0, len(nodes))
	for _, node := range nodes {
		event, err := entities.EventFromNode(node)
		if err != nil {
			continue
		}
		events = append(events, event)
	}

	var matches [][]*entities.Event
	current := make([]*entities.Event, 0, len(template))
	l.matchFrom(events, template, 0, 0, timeWindow, current, &matches)
	return matches, nil
}

// matchFrom extends a partial match with candidates for template[slot],
// scanning events from position start onward.
func (l *EventLog) matchFrom(events []*entities.Event, template []entities.EventSpec, slot, start int, window time.Duration, current []*entities.Event, matches *[][]*entities.Event) {
	if slot == len(template) {
		complete := make([]*entities.Event, len(current))
		copy(complete, current)
		*matches = append(*matches, complete)
		return
	}
	for i := start; i < len(events); i++ {
		candidate := events[i]
		if !template[slot].Matches(candidate) {
			continue
		}
		if len(current) > 0 {
			last := current[len(current)-1]
			if !candidate.Timestamp.After(last.Timestamp) {
				continue
			}
			if window > 0 && candidate.Timestamp.Sub(current[0].Timestamp) > window {
				// Events are time-ordered, later candidates only widen the span
				break
			}
		}
		l.matchFrom(events, template, slot+1, i+1, window, append(current, candidate), matches)
	}
}

// Statistics summarizes events, optionally filtered and grouped. The
// default grouping is by event type.
func (l *EventLog) Statistics(ctx context.Context, eventType string, timeRange *TimeRange, groupBy string) (*EventStatistics, error) {
	filter := ports.NodeFilter{Labels: []string{entities.LabelEvent}}
	if eventType != "" {
		filter.Equals = valueobjects.Properties{entities.PropType: valueobjects.String(eventType)}
	}
	if timeRange != nil {
		filter.After = timeRange.Start
		filter.Before = timeRange.End
	}
	nodes, err := l.store.FindNodes(ctx, filter)
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to load events for statistics", err)
	}

	if groupBy == "" {
		groupBy = entities.PropType
	}
	stats := &EventStatistics{Breakdown: make(map[string]int)}
	for _, node := range nodes {
		stats.TotalCount++
		stats.Breakdown[l.groupKey(node, groupBy)]++
	}
	return stats, nil
}

func (l *EventLog) groupKey(node *entities.Node, groupBy string) string {
	if key, ok := cutMetadataPrefix(groupBy); ok {
		event, err := entities.EventFromNode(node)
		if err != nil {
			return "unknown"
		}
		if v, present := event.Metadata[key]; present {
			return v.StringOr("unknown")
		}
		return "unknown"
	}
	if v, ok := node.Properties.GetString(groupBy); ok {
		return v
	}
	return "unknown"
}

func cutMetadataPrefix(groupBy string) (string, bool) {
	const prefix = "metadata."
	if len(groupBy) > len(prefix) && groupBy[:len(prefix)] == prefix {
		return groupBy[len(prefix):], true
	}
	return "", false
}

func inRange(ts time.Time, r *TimeRange) bool {
	if r == nil {
		return true
	}
	if r.Start != nil && ts.Before(*r.Start) {
		return false
	}
	if r.End != nil && ts.After(*r.End) {
		return false
	}
	return true
}
