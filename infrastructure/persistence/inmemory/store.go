// Package inmemory provides a thread-safe in-process GraphStore. It backs
// unit tests and the demo bootstrap; production deployments use the neo4j
// adapter.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"fabric/application/ports"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// Store is an in-memory implementation of ports.GraphStore
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*entities.Node
	rels  map[string]*entities.Relationship

	// Indexes for efficient traversal
	nodesByLabel map[string]map[string]struct{}
	outgoing     map[string]map[string]struct{}
	incoming     map[string]map[string]struct{}

	hook   ports.PreWriteHook
	closed bool
}

// NewStore creates an empty in-memory graph store
func NewStore() *Store {
	return &Store{
		nodes:        make(map[string]*entities.Node),
		rels:         make(map[string]*entities.Relationship),
		nodesByLabel: make(map[string]map[string]struct{}),
		outgoing:     make(map[string]map[string]struct{}),
		incoming:     make(map[string]map[string]struct{}),
	}
}

// SetPreWriteHook installs the soft-schema validation hook
func (s *Store) SetPreWriteHook(hook ports.PreWriteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Execute is intentionally minimal: the services drive this store through
// the typed primitives, and no raw query dialect is emulated here.
func (s *Store) Execute(ctx context.Context, query string, params map[string]valueobjects.Value) ([]map[string]valueobjects.Value, error) {
	return nil, pkgerrors.NewStoreError("raw queries are not supported by the in-memory store", nil)
}

// CreateNode creates a node and indexes its labels
func (s *Store) CreateNode(ctx context.Context, labels []string, props valueobjects.Properties) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", pkgerrors.NewUnavailableError("store is closed")
	}
	if len(labels) == 0 {
		return "", pkgerrors.NewValidationError("node requires at least one label")
	}
	if s.hook != nil {
		if err := s.hook(labels[0], props); err != nil {
			return "", pkgerrors.NewValidationError(err.Error())
		}
	}

	node, err := entities.NewNode(uuid.New().String(), labels, props.Clone())
	if err != nil {
		return "", err
	}
	s.nodes[node.ID] = node
	for _, label := range labels {
		if s.nodesByLabel[label] == nil {
			s.nodesByLabel[label] = make(map[string]struct{})
		}
		s.nodesByLabel[label][node.ID] = struct{}{}
	}
	return node.ID, nil
}

// GetNode retrieves a node by id
func (s *Store) GetNode(ctx context.Context, id string) (*entities.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("node", id)
	}
	return copyNode(node), nil
}

// FindNodes returns every node satisfying the filter
func (s *Store) FindNodes(ctx context.Context, filter ports.NodeFilter) ([]*entities.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*entities.Node
	if len(filter.Labels) > 0 {
		seen := make(map[string]struct{})
		for _, label := range filter.Labels {
			for id := range s.nodesByLabel[label] {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				candidates = append(candidates, s.nodes[id])
			}
		}
	} else {
		for _, node := range s.nodes {
			candidates = append(candidates, node)
		}
	}

	var matched []*entities.Node
	for _, node := range candidates {
		if matchesFilter(node, filter) {
			matched = append(matched, copyNode(node))
		}
	}

	if filter.OrderBy != "" {
		sortNodes(matched, filter.OrderBy, filter.Desc)
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// UpdateNode merges the given properties into the node
func (s *Store) UpdateNode(ctx context.Context, id string, props valueobjects.Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return pkgerrors.NewNotFoundError("node", id)
	}
	for k, v := range props {
		node.SetProperty(k, v)
	}
	return nil
}

// DeleteNode removes a node and detaches every relationship
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return pkgerrors.NewNotFoundError("node", id)
	}
	for relID := range s.outgoing[id] {
		s.removeRelLocked(relID)
	}
	for relID := range s.incoming[id] {
		s.removeRelLocked(relID)
	}
	for _, label := range node.Labels {
		delete(s.nodesByLabel[label], id)
	}
	delete(s.nodes, id)
	return nil
}

// CreateRelationship creates a directed edge between two existing nodes
func (s *Store) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, props valueobjects.Properties) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[sourceID]; !ok {
		return "", pkgerrors.NewNotFoundError("node", sourceID)
	}
	if _, ok := s.nodes[targetID]; !ok {
		return "", pkgerrors.NewNotFoundError("node", targetID)
	}
	rel, err := entities.NewRelationship(sourceID, targetID, relType, props.Clone())
	if err != nil {
		return "", err
	}
	rel.ID = uuid.New().String()
	s.rels[rel.ID] = rel
	if s.outgoing[sourceID] == nil {
		s.outgoing[sourceID] = make(map[string]struct{})
	}
	if s.incoming[targetID] == nil {
		s.incoming[targetID] = make(map[string]struct{})
	}
	s.outgoing[sourceID][rel.ID] = struct{}{}
	s.incoming[targetID][rel.ID] = struct{}{}
	return rel.ID, nil
}

// UpdateRelationship merges the given properties into the relationship
func (s *Store) UpdateRelationship(ctx context.Context, id string, props valueobjects.Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.rels[id]
	if !ok {
		return pkgerrors.NewNotFoundError("relationship", id)
	}
	rel.Properties.Merge(props)
	return nil
}

// FindRelationship returns the edge between two nodes of the given type
func (s *Store) FindRelationship(ctx context.Context, sourceID, targetID, relType string) (*entities.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for relID := range s.outgoing[sourceID] {
		rel := s.rels[relID]
		if rel.TargetID == targetID && rel.Type == relType {
			return copyRel(rel), nil
		}
	}
	return nil, pkgerrors.NewNotFoundError("relationship", sourceID+"->"+targetID)
}

// Relationships returns the node's edges in the given direction, optionally
// restricted to the listed types.
func (s *Store) Relationships(ctx context.Context, nodeID string, dir ports.Direction, relTypes ...string) ([]*entities.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeSet := make(map[string]bool, len(relTypes))
	for _, t := range relTypes {
		typeSet[t] = true
	}
	include := func(rel *entities.Relationship) bool {
		return len(typeSet) == 0 || typeSet[rel.Type]
	}

	var out []*entities.Relationship
	if dir == ports.DirectionOutgoing || dir == ports.DirectionBoth {
		for relID := range s.outgoing[nodeID] {
			if rel := s.rels[relID]; include(rel) {
				out = append(out, copyRel(rel))
			}
		}
	}
	if dir == ports.DirectionIncoming || dir == ports.DirectionBoth {
		for relID := range s.incoming[nodeID] {
			if rel := s.rels[relID]; include(rel) {
				out = append(out, copyRel(rel))
			}
		}
	}
	return out, nil
}

// VerifyConnectivity always succeeds while the store is open
func (s *Store) VerifyConnectivity(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Close marks the store closed
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) removeRelLocked(relID string) {
	rel, ok := s.rels[relID]
	if !ok {
		return
	}
	delete(s.outgoing[rel.SourceID], relID)
	delete(s.incoming[rel.TargetID], relID)
	delete(s.rels, relID)
}

func matchesFilter(node *entities.Node, filter ports.NodeFilter) bool {
	for key, want := range filter.Equals {
		got, ok := node.Properties[key]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	for key, sub := range filter.Contains {
		text, ok := node.Properties.GetString(key)
		if !ok || !strings.Contains(text, sub) {
			return false
		}
	}
	if filter.After != nil || filter.Before != nil {
		ts, ok := node.Properties.GetTime(entities.PropTimestamp)
		if !ok {
			return false
		}
		if filter.After != nil && ts.Before(*filter.After) {
			return false
		}
		if filter.Before != nil && !ts.Before(*filter.Before) {
			return false
		}
	}
	return true
}

func sortNodes(nodes []*entities.Node, orderBy string, desc bool) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if desc {
			return lessByProperty(nodes[j], nodes[i], orderBy)
		}
		return lessByProperty(nodes[i], nodes[j], orderBy)
	})
}

func lessByProperty(a, b *entities.Node, key string) bool {
	av, aok := a.Properties[key]
	bv, bok := b.Properties[key]
	if !aok || !bok {
		return bok
	}
	if at, ok := av.AsTime(); ok {
		if bt, ok2 := bv.AsTime(); ok2 {
			return at.Before(bt)
		}
	}
	if af, ok := av.AsFloat(); ok {
		if bf, ok2 := bv.AsFloat(); ok2 {
			return af < bf
		}
	}
	return av.StringOr("") < bv.StringOr("")
}

func copyNode(node *entities.Node) *entities.Node {
	labels := make([]string, len(node.Labels))
	copy(labels, node.Labels)
	return &entities.Node{
		ID:         node.ID,
		Labels:     labels,
		Properties: node.Properties.Clone(),
		CreatedAt:  node.CreatedAt,
		UpdatedAt:  node.UpdatedAt,
	}
}

func copyRel(rel *entities.Relationship) *entities.Relationship {
	return &entities.Relationship{
		ID:         rel.ID,
		SourceID:   rel.SourceID,
		TargetID:   rel.TargetID,
		Type:       rel.Type,
		Properties: rel.Properties.Clone(),
		CreatedAt:  rel.CreatedAt,
	}
}
