package sync

import (
	"strings"
	"time"

	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// TransformKind is one of the supported value transformations
type TransformKind string

const (
	TransformPrefix  TransformKind = "prefix"
	TransformSuffix  TransformKind = "suffix"
	TransformReplace TransformKind = "replace"
)

// Transform rewrites a string property value while it crosses graphs
type Transform struct {
	Kind  TransformKind
	Value string // prefix/suffix text
	From  string // replace: old substring
	To    string // replace: new substring
}

// MappingRules describes how entities translate between two graph schemas.
// Application order is fixed: property renames, then label renames, then
// value transforms (and within transforms: prefix, suffix, replace).
type MappingRules struct {
	Properties      map[string]string
	Labels          map[string]string
	Transformations map[string]Transform
}

// SchemaMapping is a named, durable translation between two graph schemas
type SchemaMapping struct {
	Name      string
	Kind      MappingKind
	Rules     MappingRules
	CreatedAt time.Time
}

// NewSchemaMapping validates and constructs a schema mapping
func NewSchemaMapping(name string, kind MappingKind, rules MappingRules) (*SchemaMapping, error) {
	if name == "" {
		return nil, pkgerrors.NewValidationError("schema mapping name cannot be empty")
	}
	if kind != MappingEntity && kind != MappingRelation {
		return nil, pkgerrors.NewValidationError("schema mapping kind must be Entity or Relation")
	}
	for prop, t := range rules.Transformations {
		switch t.Kind {
		case TransformPrefix, TransformSuffix, TransformReplace:
		default:
			return nil, pkgerrors.NewValidationError("unknown transformation kind for property " + prop)
		}
	}
	return &SchemaMapping{Name: name, Kind: kind, Rules: rules, CreatedAt: time.Now()}, nil
}

// Apply translates a node into the target graph's schema. The input is
// not mutated; the returned node carries renamed properties, renamed
// labels, and transformed values, in that order.
func (m *SchemaMapping) Apply(node *entities.Node) *entities.Node {
	props := node.Properties.Clone()

	// 1. Property renames
	for from, to := range m.Rules.Properties {
		if v, ok := props[from]; ok {
			delete(props, from)
			props[to] = v
		}
	}

	// 2. Label renames
	labels := make([]string, len(node.Labels))
	for i, l := range node.Labels {
		if renamed, ok := m.Rules.Labels[l]; ok {
			labels[i] = renamed
		} else {
			labels[i] = l
		}
	}

	// 3. Value transforms, applied to post-rename property names
	for prop, t := range m.Rules.Transformations {
		v, ok := props[prop]
		if !ok {
			continue
		}
		s, isStr := v.AsString()
		if !isStr {
			continue
		}
		switch t.Kind {
		case TransformPrefix:
			s = t.Value + s
		case TransformSuffix:
			s = s + t.Value
		case TransformReplace:
			s = strings.ReplaceAll(s, t.From, t.To)
		}
		props[prop] = valueobjects.String(s)
	}

	return &entities.Node{
		ID:         node.ID,
		Labels:     labels,
		Properties: props,
		CreatedAt:  node.CreatedAt,
		UpdatedAt:  node.UpdatedAt,
	}
}

// MappingBinding records a mapping bound between two graphs
type MappingBinding struct {
	MappingName string
	KGA         string
	KGB         string
}

// Connects reports whether the binding links the two graphs in either order
func (b MappingBinding) Connects(a, c string) bool {
	return (b.KGA == a && b.KGB == c) || (b.KGA == c && b.KGB == a)
}
