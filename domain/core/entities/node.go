package entities

import (
	"time"

	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// Node is a property-graph node owned by exactly one graph instance.
// Identity (id, labels) is immutable after creation; properties are the
// only mutable part.
type Node struct {
	ID         string
	Labels     []string
	Properties valueobjects.Properties
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewNode creates a node with validated identity
func NewNode(id string, labels []string, props valueobjects.Properties) (*Node, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("node id cannot be empty")
	}
	if len(labels) == 0 {
		return nil, pkgerrors.NewValidationError("node requires at least one label")
	}
	if props == nil {
		props = valueobjects.NewProperties()
	}
	now := time.Now()
	return &Node{
		ID:         id,
		Labels:     labels,
		Properties: props,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// HasLabel reports whether the node carries the given label
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// PrimaryLabel returns the first label, the one key-property sets key on
func (n *Node) PrimaryLabel() string {
	if len(n.Labels) == 0 {
		return ""
	}
	return n.Labels[0]
}

// SetProperty mutates a single property and bumps the update timestamp
func (n *Node) SetProperty(key string, value valueobjects.Value) {
	n.Properties[key] = value
	n.UpdatedAt = time.Now()
}

// IsMeta reports whether the node is synchronization configuration rather
// than knowledge content. Meta nodes never cross graph boundaries.
func (n *Node) IsMeta() bool {
	for _, l := range n.Labels {
		if IsMetaLabel(l) {
			return true
		}
	}
	return false
}

// KeyProperties extracts the node's key-property subset used to match the
// same entity across graphs.
func (n *Node) KeyProperties() valueobjects.Properties {
	keys := KeyPropertySet(n.PrimaryLabel())
	out := valueobjects.NewProperties()
	for _, k := range keys {
		if v, ok := n.Properties[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Relationship is a directed, typed edge between two nodes
type Relationship struct {
	ID         string
	SourceID   string
	TargetID   string
	Type       string
	Properties valueobjects.Properties
	CreatedAt  time.Time
}

// NewRelationship creates a relationship with validated endpoints
func NewRelationship(sourceID, targetID, relType string, props valueobjects.Properties) (*Relationship, error) {
	if sourceID == "" || targetID == "" {
		return nil, pkgerrors.NewValidationError("relationship endpoints cannot be empty")
	}
	if relType == "" {
		return nil, pkgerrors.NewValidationError("relationship type cannot be empty")
	}
	if props == nil {
		props = valueobjects.NewProperties()
	}
	return &Relationship{
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       relType,
		Properties: props,
		CreatedAt:  time.Now(),
	}, nil
}
