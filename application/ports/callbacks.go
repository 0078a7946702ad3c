package ports

import (
	"context"

	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
)

// EventSink receives system events from components that want their
// operations recorded without depending on the full event log.
type EventSink interface {
	LogSystemEvent(ctx context.Context, component, eventType string, details map[string]valueobjects.Value, severity string) (string, error)
}

// EventHandler is invoked for every processed event of its registered type.
// persistedID is the id of the stored event node. Errors and panics are
// caught by the dispatcher; one failing handler never blocks its siblings.
type EventHandler func(event *entities.Event, persistedID string) error

// EventFilter decides whether an event is processed at all. The first
// filter returning false drops the event silently.
type EventFilter func(event *entities.Event) bool

// CorrelationAction fires when a correlation rule's pattern completes.
// matchedEventIDs is ordered by pattern position.
type CorrelationAction func(matchedEventIDs []string, pattern []string)
