// Package ports defines the interfaces between the application services and
// external collaborators. Services accept these interfaces; infrastructure
// returns concrete implementations.
package ports

import (
	"context"
	"time"

	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
)

// Direction selects which relationships of a node to traverse
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
	DirectionBoth
)

// NodeFilter constrains a FindNodes traversal. Zero fields are ignored.
type NodeFilter struct {
	Labels   []string                    // any of these labels
	Equals   valueobjects.Properties     // property equality
	Contains map[string]string           // substring match on text properties
	After    *time.Time                  // timestamp property lower bound
	Before   *time.Time                  // timestamp property upper bound
	OrderBy  string                      // property to order by
	Desc     bool
	Limit    int
}

// PreWriteHook validates an entity before any store write. A non-nil error
// rejects the write without touching the store.
type PreWriteHook func(label string, props valueobjects.Properties) error

// GraphStore is the parametrized query interface over an externally
// operated property-graph database. Implementations guarantee atomic
// single-statement execution only; there are no multi-statement
// transactions across stores.
type GraphStore interface {
	// Execute runs a raw parametrized query and returns its rows
	Execute(ctx context.Context, query string, params map[string]valueobjects.Value) ([]map[string]valueobjects.Value, error)

	CreateNode(ctx context.Context, labels []string, props valueobjects.Properties) (string, error)
	GetNode(ctx context.Context, id string) (*entities.Node, error)
	FindNodes(ctx context.Context, filter NodeFilter) ([]*entities.Node, error)
	UpdateNode(ctx context.Context, id string, props valueobjects.Properties) error
	// DeleteNode removes a node and every relationship attached to it
	DeleteNode(ctx context.Context, id string) error

	CreateRelationship(ctx context.Context, sourceID, targetID, relType string, props valueobjects.Properties) (string, error)
	UpdateRelationship(ctx context.Context, id string, props valueobjects.Properties) error
	// FindRelationship returns the relationship between two nodes of the
	// given type, or a not-found error
	FindRelationship(ctx context.Context, sourceID, targetID, relType string) (*entities.Relationship, error)
	Relationships(ctx context.Context, nodeID string, dir Direction, relTypes ...string) ([]*entities.Relationship, error)

	// SetPreWriteHook installs the soft-schema validation hook
	SetPreWriteHook(hook PreWriteHook)

	VerifyConnectivity(ctx context.Context) bool
	Close(ctx context.Context) error
}
