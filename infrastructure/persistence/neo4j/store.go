// Package neo4j adapts the fabric's graph store port onto a Neo4j (or
// Bolt-compatible) database operated outside the fabric's lifecycle.
package neo4j

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"fabric/application/ports"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// Store implements ports.GraphStore over the Bolt protocol. Node and
// relationship ids are the server's element ids; they are stable for the
// lifetime of the entity but opaque to callers.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger

	hookMu sync.RWMutex
	hook   ports.PreWriteHook
}

// NewStore connects to the database and verifies reachability
func NewStore(ctx context.Context, uri, username, password, database string, logger *zap.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to create neo4j driver", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, pkgerrors.NewUnavailableError("neo4j not reachable: " + err.Error())
	}
	logger.Info("connected to graph database", zap.String("uri", uri), zap.String("database", database))
	return &Store{driver: driver, database: database, logger: logger}, nil
}

// SetPreWriteHook installs the soft-schema validation hook
func (s *Store) SetPreWriteHook(hook ports.PreWriteHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hook = hook
}

// Execute runs a raw parametrized Cypher statement
func (s *Store) Execute(ctx context.Context, query string, params map[string]valueobjects.Value) ([]map[string]valueobjects.Value, error) {
	raw := make(map[string]any, len(params))
	for k, v := range params {
		raw[k] = v.ToAny()
	}
	return s.run(ctx, neo4j.AccessModeWrite, query, raw)
}

// CreateNode creates a node and returns its element id
func (s *Store) CreateNode(ctx context.Context, labels []string, props valueobjects.Properties) (string, error) {
	if len(labels) == 0 {
		return "", pkgerrors.NewValidationError("node requires at least one label")
	}
	for _, l := range labels {
		if !safeIdentifier(l) {
			return "", pkgerrors.NewValidationError("invalid label: " + l)
		}
	}
	if err := s.runHook(labels[0], props); err != nil {
		return "", err
	}

	query := fmt.Sprintf("CREATE (n:`%s`) SET n = $props RETURN elementId(n) AS id", strings.Join(labels, "`:`"))
	rows, err := s.run(ctx, neo4j.AccessModeWrite, query, map[string]any{"props": props.ToAnyMap()})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", pkgerrors.NewStoreError("node creation returned no id", nil)
	}
	return rows[0]["id"].StringOr(""), nil
}

// GetNode fetches one node by element id
func (s *Store) GetNode(ctx context.Context, id string) (*entities.Node, error) {
	rows, err := s.run(ctx, neo4j.AccessModeRead,
		"MATCH (n) WHERE elementId(n) = $id RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props",
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, pkgerrors.NewNotFoundError("node", id)
	}
	return rowToNode(rows[0])
}

// FindNodes queries nodes by the given filter
func (s *Store) FindNodes(ctx context.Context, filter ports.NodeFilter) ([]*entities.Node, error) {
	var sb strings.Builder
	params := map[string]any{}
	sb.WriteString("MATCH (n)")

	var where []string
	if len(filter.Labels) > 0 {
		var labelChecks []string
		for _, l := range filter.Labels {
			if !safeIdentifier(l) {
				return nil, pkgerrors.NewValidationError("invalid label: " + l)
			}
			labelChecks = append(labelChecks, fmt.Sprintf("n:`%s`", l))
		}
		where = append(where, "("+strings.Join(labelChecks, " OR ")+")")
	}
	i := 0
	for key, val := range filter.Equals {
		if !safeIdentifier(key) {
			return nil, pkgerrors.NewValidationError("invalid property name: " + key)
		}
		param := fmt.Sprintf("eq%d", i)
		where = append(where, fmt.Sprintf("n.`%s` = $%s", key, param))
		params[param] = val.ToAny()
		i++
	}
	for key, substr := range filter.Contains {
		if !safeIdentifier(key) {
			return nil, pkgerrors.NewValidationError("invalid property name: " + key)
		}
		param := fmt.Sprintf("ct%d", i)
		where = append(where, fmt.Sprintf("n.`%s` CONTAINS $%s", key, param))
		params[param] = substr
		i++
	}
	if filter.After != nil {
		where = append(where, fmt.Sprintf("n.`%s` >= $after", entities.PropTimestamp))
		params["after"] = *filter.After
	}
	if filter.Before != nil {
		where = append(where, fmt.Sprintf("n.`%s` <= $before", entities.PropTimestamp))
		params["before"] = *filter.Before
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props")
	if filter.OrderBy != "" {
		if !safeIdentifier(filter.OrderBy) {
			return nil, pkgerrors.NewValidationError("invalid order property: " + filter.OrderBy)
		}
		sb.WriteString(fmt.Sprintf(" ORDER BY n.`%s`", filter.OrderBy))
		if filter.Desc {
			sb.WriteString(" DESC")
		}
	}
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT $limit")
		params["limit"] = filter.Limit
	}

	rows, err := s.run(ctx, neo4j.AccessModeRead, sb.String(), params)
	if err != nil {
		return nil, err
	}
	nodes := make([]*entities.Node, 0, len(rows))
	for _, row := range rows {
		node, err := rowToNode(row)
		if err != nil {
			s.logger.Warn("skipping malformed node row", zap.Error(err))
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// UpdateNode merges properties into an existing node
func (s *Store) UpdateNode(ctx context.Context, id string, props valueobjects.Properties) error {
	rows, err := s.run(ctx, neo4j.AccessModeWrite,
		"MATCH (n) WHERE elementId(n) = $id SET n += $props RETURN elementId(n) AS id",
		map[string]any{"id": id, "props": props.ToAnyMap()})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return pkgerrors.NewNotFoundError("node", id)
	}
	return nil
}

// DeleteNode removes a node and all attached relationships
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	_, err := s.run(ctx, neo4j.AccessModeWrite,
		"MATCH (n) WHERE elementId(n) = $id DETACH DELETE n",
		map[string]any{"id": id})
	return err
}

// CreateRelationship creates a typed edge and returns its element id
func (s *Store) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, props valueobjects.Properties) (string, error) {
	if !safeIdentifier(relType) {
		return "", pkgerrors.NewValidationError("invalid relationship type: " + relType)
	}
	query := fmt.Sprintf(
		"MATCH (a), (b) WHERE elementId(a) = $src AND elementId(b) = $dst CREATE (a)-[r:`%s`]->(b) SET r = $props RETURN elementId(r) AS id",
		relType)
	rows, err := s.run(ctx, neo4j.AccessModeWrite, query, map[string]any{
		"src":   sourceID,
		"dst":   targetID,
		"props": props.ToAnyMap(),
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", pkgerrors.NewNotFoundError("relationship endpoints", sourceID+"->"+targetID)
	}
	return rows[0]["id"].StringOr(""), nil
}

// UpdateRelationship merges properties into an existing edge
func (s *Store) UpdateRelationship(ctx context.Context, id string, props valueobjects.Properties) error {
	rows, err := s.run(ctx, neo4j.AccessModeWrite,
		"MATCH ()-[r]->() WHERE elementId(r) = $id SET r += $props RETURN elementId(r) AS id",
		map[string]any{"id": id, "props": props.ToAnyMap()})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return pkgerrors.NewNotFoundError("relationship", id)
	}
	return nil
}

// FindRelationship returns the edge of the given type between two nodes
func (s *Store) FindRelationship(ctx context.Context, sourceID, targetID, relType string) (*entities.Relationship, error) {
	if !safeIdentifier(relType) {
		return nil, pkgerrors.NewValidationError("invalid relationship type: " + relType)
	}
	query := fmt.Sprintf(
		"MATCH (a)-[r:`%s`]->(b) WHERE elementId(a) = $src AND elementId(b) = $dst "+
			"RETURN elementId(r) AS id, elementId(a) AS src, elementId(b) AS dst, type(r) AS type, properties(r) AS props LIMIT 1",
		relType)
	rows, err := s.run(ctx, neo4j.AccessModeRead, query, map[string]any{"src": sourceID, "dst": targetID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, pkgerrors.NewNotFoundError("relationship", sourceID+"-["+relType+"]->"+targetID)
	}
	return rowToRelationship(rows[0]), nil
}

// Relationships returns the edges attached to a node in the given direction
func (s *Store) Relationships(ctx context.Context, nodeID string, dir ports.Direction, relTypes ...string) ([]*entities.Relationship, error) {
	typePattern := ""
	if len(relTypes) > 0 {
		for _, t := range relTypes {
			if !safeIdentifier(t) {
				return nil, pkgerrors.NewValidationError("invalid relationship type: " + t)
			}
		}
		typePattern = ":`" + strings.Join(relTypes, "`|`") + "`"
	}

	var pattern string
	switch dir {
	case ports.DirectionOutgoing:
		pattern = fmt.Sprintf("(n)-[r%s]->(m)", typePattern)
	case ports.DirectionIncoming:
		pattern = fmt.Sprintf("(m)-[r%s]->(n)", typePattern)
	default:
		pattern = fmt.Sprintf("(n)-[r%s]-(m)", typePattern)
	}
	query := fmt.Sprintf(
		"MATCH %s WHERE elementId(n) = $id "+
			"RETURN elementId(r) AS id, elementId(startNode(r)) AS src, elementId(endNode(r)) AS dst, type(r) AS type, properties(r) AS props",
		pattern)
	rows, err := s.run(ctx, neo4j.AccessModeRead, query, map[string]any{"id": nodeID})
	if err != nil {
		return nil, err
	}
	rels := make([]*entities.Relationship, 0, len(rows))
	for _, row := range rows {
		rels = append(rels, rowToRelationship(row))
	}
	return rels, nil
}

// VerifyConnectivity reports whether the database answers
func (s *Store) VerifyConnectivity(ctx context.Context) bool {
	return s.driver.VerifyConnectivity(ctx) == nil
}

// Close releases the driver's connection pool
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) runHook(label string, props valueobjects.Properties) error {
	s.hookMu.RLock()
	hook := s.hook
	s.hookMu.RUnlock()
	if hook == nil {
		return nil
	}
	return hook(label, props)
}

// run executes one statement in its own session and materializes the rows
func (s *Store) run(ctx context.Context, mode neo4j.AccessMode, query string, params map[string]any) ([]map[string]valueobjects.Value, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, pkgerrors.NewStoreError("query failed", err)
	}
	var rows []map[string]valueobjects.Value
	for result.Next(ctx) {
		record := result.Record()
		row := make(map[string]valueobjects.Value, len(record.Keys))
		for _, key := range record.Keys {
			raw, _ := record.Get(key)
			row[key] = valueobjects.FromAny(raw)
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, pkgerrors.NewStoreError("result iteration failed", err)
	}
	return rows, nil
}

func rowToNode(row map[string]valueobjects.Value) (*entities.Node, error) {
	id := row["id"].StringOr("")
	if id == "" {
		return nil, pkgerrors.NewInternalError("node row missing id", nil)
	}
	var labels []string
	if items, ok := row["labels"].AsList(); ok {
		for _, item := range items {
			labels = append(labels, item.StringOr(""))
		}
	}
	props := valueobjects.NewProperties()
	if m, ok := row["props"].AsMap(); ok {
		for k, v := range m {
			props[k] = v
		}
	}
	return &entities.Node{ID: id, Labels: labels, Properties: props}, nil
}

func rowToRelationship(row map[string]valueobjects.Value) *entities.Relationship {
	props := valueobjects.NewProperties()
	if m, ok := row["props"].AsMap(); ok {
		for k, v := range m {
			props[k] = v
		}
	}
	return &entities.Relationship{
		ID:         row["id"].StringOr(""),
		SourceID:   row["src"].StringOr(""),
		TargetID:   row["dst"].StringOr(""),
		Type:       row["type"].StringOr(""),
		Properties: props,
	}
}

// safeIdentifier permits only word characters in labels, relationship
// types, and property names that are spliced into Cypher text.
func safeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
