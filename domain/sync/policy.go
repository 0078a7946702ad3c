package sync

import (
	"time"

	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// KnowledgePolicy is evaluated per entity before it crosses a graph
// boundary. Denials are skips, not errors.
type KnowledgePolicy struct {
	Name      string
	Kind      PolicyKind
	Rules     map[string]valueobjects.Value
	CreatedAt time.Time
}

// NewKnowledgePolicy validates and constructs a policy
func NewKnowledgePolicy(name string, kind PolicyKind, rules map[string]valueobjects.Value) (*KnowledgePolicy, error) {
	if name == "" {
		return nil, pkgerrors.NewValidationError("policy name cannot be empty")
	}
	if kind != PolicySharing && kind != PolicyAccess {
		return nil, pkgerrors.NewValidationError("policy kind must be Sharing or Access")
	}
	return &KnowledgePolicy{Name: name, Kind: kind, Rules: rules, CreatedAt: time.Now()}, nil
}

// SharingAllowed denies entities flagged as restricted or sensitive.
// This runs before conflict resolution so restricted data never reaches
// the merge step.
func SharingAllowed(props valueobjects.Properties) bool {
	if props.Flag(entities.PropSharingRestricted) {
		return false
	}
	if props.Flag(entities.PropSensitive) {
		return false
	}
	return true
}

// AccessAllowed denies access-restricted entities unless the requesting
// agent appears in allowed_agents.
func AccessAllowed(props valueobjects.Properties, agentID string) bool {
	if !props.Flag(entities.PropAccessRestricted) {
		return true
	}
	allowed, ok := props[entities.PropAllowedAgents]
	if !ok {
		return false
	}
	items, isList := allowed.AsList()
	if !isList {
		return false
	}
	for _, item := range items {
		if item.StringOr("") == agentID {
			return true
		}
	}
	return false
}

// Compliant evaluates the given policy kind against an entity's properties
func Compliant(kind PolicyKind, props valueobjects.Properties, agentID string) bool {
	switch kind {
	case PolicySharing:
		return SharingAllowed(props)
	case PolicyAccess:
		return AccessAllowed(props, agentID)
	default:
		return false
	}
}
