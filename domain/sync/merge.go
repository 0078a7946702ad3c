package sync

import (
	"time"

	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
)

// bookkeepingProps never merge: update stamps belong to each node and
// provenance is written by the sync pass itself.
var bookkeepingProps = map[string]bool{
	entities.PropLastUpdated: true,
	entities.PropLastSynced:  true,
	entities.PropSyncSource:  true,
	entities.PropOrigSource:  true,
}

// MergeOutcome reports what a property merge decided
type MergeOutcome struct {
	Updates   valueobjects.Properties // properties to write to the target
	Conflicts int                     // properties present on both sides with differing values
}

// MergeProperties computes the last-write-wins update set for a key-matched
// pair of nodes. Resolution is per property, keyed on the nodes' last_updated
// stamps: the more recently updated side keeps its value, ties default to the
// source. Key properties define identity and are never merged.
//
// The merge is commutative and idempotent at the property level, so
// re-running a sync after a partial failure cannot corrupt state.
func MergeProperties(source, target *entities.Node, keyProps []string) MergeOutcome {
	keySet := make(map[string]bool, len(keyProps))
	for _, k := range keyProps {
		keySet[k] = true
	}

	sourceTime, sourceHas := source.Properties.GetTime(entities.PropLastUpdated)
	targetTime, targetHas := target.Properties.GetTime(entities.PropLastUpdated)

	out := MergeOutcome{Updates: valueobjects.NewProperties()}
	for key, sourceVal := range source.Properties {
		if keySet[key] || bookkeepingProps[key] {
			continue
		}
		targetVal, onTarget := target.Properties[key]
		if !onTarget {
			out.Updates[key] = sourceVal
			continue
		}
		if sourceVal.Equal(targetVal) {
			continue
		}
		out.Conflicts++
		if sourceWins(sourceTime, sourceHas, targetTime, targetHas) {
			out.Updates[key] = sourceVal
		}
	}
	return out
}

// sourceWins decides the winning side of a property conflict. Missing
// stamps on either side default to the source, as do exact ties.
func sourceWins(sourceTime time.Time, sourceHas bool, targetTime time.Time, targetHas bool) bool {
	if !sourceHas || !targetHas {
		return true
	}
	return !sourceTime.Before(targetTime)
}
