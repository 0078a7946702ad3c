package entities

// Node labels known to the fabric. Property maps stay schemaless; labels
// drive key-property matching and meta-node exclusion during sync.
const (
	LabelEvent         = "Event"
	LabelEventSequence = "EventSequence"
	LabelMemory        = "Memory"
	LabelRedFlag       = "RedFlag"
	LabelAgent         = "Agent"

	// Synchronization configuration nodes, never synchronized themselves
	LabelManagedKG   = "DKM_ManagedKG"
	LabelSyncRule    = "DKM_SynchronizationRule"
	LabelSchemaMap   = "DKM_SchemaMapping"
	LabelKnowPolicy  = "DKM_KnowledgePolicy"
)

// Relationship types
const (
	RelRelatedTo      = "RELATED_TO"
	RelAssociatedWith = "ASSOCIATED_WITH"
	RelContains       = "CONTAINS"
	RelSyncsWith      = "SYNCS_WITH"
	RelSyncsTo        = "SYNCS_TO"
	RelAppliesTo      = "APPLIES_TO"
	RelMapsBetween    = "MAPS_BETWEEN"
	RelGoverns        = "GOVERNS"
)

// Well-known property names shared across components
const (
	PropID          = "id"
	PropName        = "name"
	PropType        = "type"
	PropTimestamp   = "timestamp"
	PropLastUpdated = "last_updated"
	PropLastSynced  = "last_synced"
	PropSyncSource  = "sync_source"
	PropOrigSource  = "original_source"

	// Policy flags
	PropSharingRestricted = "sharing_restricted"
	PropSensitive         = "sensitive"
	PropAccessRestricted  = "access_restricted"
	PropAllowedAgents     = "allowed_agents"
)

var metaLabels = map[string]bool{
	LabelManagedKG:  true,
	LabelSyncRule:   true,
	LabelSchemaMap:  true,
	LabelKnowPolicy: true,
}

// IsMetaLabel reports whether a label identifies sync configuration
func IsMetaLabel(label string) bool { return metaLabels[label] }

// keyPropertySets maps a label to the minimal property subset that
// identifies "the same" entity across two graphs.
var keyPropertySets = map[string][]string{
	LabelEvent:   {PropType, PropTimestamp},
	LabelRedFlag: {PropID, PropTimestamp},
}

var defaultKeySet = []string{PropID, PropName}

// KeyPropertySet returns the key-property names for a label, falling back
// to {id, name}.
func KeyPropertySet(label string) []string {
	if keys, ok := keyPropertySets[label]; ok {
		return keys
	}
	return defaultKeySet
}
