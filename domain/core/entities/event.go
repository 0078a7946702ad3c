package entities

import (
	"time"

	"fabric/domain/core/valueobjects"
)

// Event is an immutable record of something that happened. Once persisted
// only relationship attachments may be added.
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	Metadata  map[string]valueobjects.Value
	Context   map[string]valueobjects.Value
}

// ToProperties flattens the event into store properties. Metadata and
// context are persisted as JSON text, matching how the fabric queries them.
func (e *Event) ToProperties() (valueobjects.Properties, error) {
	metadata, err := valueobjects.EncodeJSON(e.Metadata)
	if err != nil {
		return nil, err
	}
	props := valueobjects.Properties{
		PropType:      valueobjects.String(e.Type),
		PropTimestamp: valueobjects.Time(e.Timestamp),
		"metadata":    valueobjects.String(metadata),
	}
	if len(e.Context) > 0 {
		ctx, err := valueobjects.EncodeJSON(e.Context)
		if err != nil {
			return nil, err
		}
		props["context"] = valueobjects.String(ctx)
	}
	return props, nil
}

// EventFromNode reconstructs an event from its stored node
func EventFromNode(node *Node) (*Event, error) {
	ev := &Event{ID: node.ID}
	ev.Type, _ = node.Properties.GetString(PropType)
	ev.Timestamp, _ = node.Properties.GetTime(PropTimestamp)

	if raw, ok := node.Properties.GetString("metadata"); ok {
		metadata, err := valueobjects.DecodeJSON(raw)
		if err != nil {
			return nil, err
		}
		ev.Metadata = metadata
	} else {
		ev.Metadata = map[string]valueobjects.Value{}
	}
	if raw, ok := node.Properties.GetString("context"); ok {
		ctx, err := valueobjects.DecodeJSON(raw)
		if err != nil {
			return nil, err
		}
		ev.Context = ctx
	}
	return ev, nil
}

// EventSpec constrains one slot of a temporal pattern template
type EventSpec struct {
	Type     string
	Metadata map[string]string
}

// Matches reports whether an event satisfies the spec's constraints
func (s EventSpec) Matches(ev *Event) bool {
	if s.Type != "" && ev.Type != s.Type {
		return false
	}
	for key, want := range s.Metadata {
		got, ok := ev.Metadata[key]
		if !ok {
			return false
		}
		if got.StringOr("") != want {
			return false
		}
	}
	return true
}

// EventSequence is an ordered container of events. Order lives on the
// CONTAINS edges, not on the member events.
type EventSequence struct {
	ID        string
	Name      string
	EventIDs  []string
	CreatedAt time.Time
}
