package sync

import (
	"time"

	pkgerrors "fabric/pkg/errors"
)

// KGKind identifies the role of a managed knowledge graph
type KGKind string

const (
	KGGlobal KGKind = "Global"
	KGLocal  KGKind = "Local"
)

// RuleKind governs synchronization direction between two managed graphs
type RuleKind string

const (
	RuleBidirectional  RuleKind = "Bidirectional"
	RuleUnidirectional RuleKind = "Unidirectional"
)

// MappingKind distinguishes entity from relation mappings
type MappingKind string

const (
	MappingEntity   MappingKind = "Entity"
	MappingRelation MappingKind = "Relation"
)

// PolicyKind distinguishes sharing from access policies
type PolicyKind string

const (
	PolicySharing PolicyKind = "Sharing"
	PolicyAccess  PolicyKind = "Access"
)

// ManagedKG identifies a graph instance participating in synchronization.
// Created once at bootstrap, read thereafter.
type ManagedKG struct {
	Name        string
	Kind        KGKind
	Description string
	CreatedAt   time.Time
}

// NewManagedKG validates and constructs a managed graph descriptor
func NewManagedKG(name string, kind KGKind, description string) (*ManagedKG, error) {
	if name == "" {
		return nil, pkgerrors.NewValidationError("managed KG name cannot be empty")
	}
	if kind != KGGlobal && kind != KGLocal {
		return nil, pkgerrors.NewValidationError("managed KG kind must be Global or Local")
	}
	return &ManagedKG{Name: name, Kind: kind, Description: description, CreatedAt: time.Now()}, nil
}

// SynchronizationRule governs sync direction between two managed graphs
type SynchronizationRule struct {
	Name        string
	Kind        RuleKind
	Description string
	CreatedAt   time.Time
}

// NewSynchronizationRule validates and constructs a rule
func NewSynchronizationRule(name string, kind RuleKind, description string) (*SynchronizationRule, error) {
	if name == "" {
		return nil, pkgerrors.NewValidationError("sync rule name cannot be empty")
	}
	if kind != RuleBidirectional && kind != RuleUnidirectional {
		return nil, pkgerrors.NewValidationError("sync rule kind must be Bidirectional or Unidirectional")
	}
	return &SynchronizationRule{Name: name, Kind: kind, Description: description, CreatedAt: time.Now()}, nil
}

// RuleBinding records a rule applied between a source and target graph
type RuleBinding struct {
	RuleName string
	SourceKG string
	TargetKG string
}

// Covers reports whether the binding governs the given direction. A
// bidirectional rule covers both orders.
func (b RuleBinding) Covers(source, target string, kind RuleKind) bool {
	if b.SourceKG == source && b.TargetKG == target {
		return true
	}
	return kind == RuleBidirectional && b.SourceKG == target && b.TargetKG == source
}

// Result accumulates the outcome of one synchronization pass. Partial
// success is an accepted outcome; errors count instead of aborting.
type Result struct {
	NodesSynced         int    `json:"nodes_synced"`
	RelationshipsSynced int    `json:"relationships_synced"`
	ConflictsResolved   int    `json:"conflicts_resolved"`
	Skipped             int    `json:"skipped"`
	Errors              int    `json:"errors"`
	Error               string `json:"error,omitempty"`
}

// ErrorResult returns a failed result that carries its message instead of
// propagating an error value.
func ErrorResult(message string) Result {
	return Result{Error: message, Errors: 1}
}
