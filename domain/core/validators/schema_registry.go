package validators

import (
	"fmt"
	"sync"

	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
)

// PropertySpec describes one property in the soft schema
type PropertySpec struct {
	Name     string
	Kind     valueobjects.ValueKind
	Required bool
}

// NodeSpec describes the expected shape of a labeled node
type NodeSpec struct {
	Label      string
	Properties []PropertySpec
}

// SchemaRegistry is the soft schema for the fabric: a pluggable pre-write
// check over otherwise schemaless property maps. Validation failures reject
// the write; unknown labels and extra properties pass untouched.
type SchemaRegistry struct {
	mu    sync.RWMutex
	specs map[string]NodeSpec
}

// NewSchemaRegistry builds a registry seeded with the fabric's own labels
func NewSchemaRegistry() *SchemaRegistry {
	r := &SchemaRegistry{specs: make(map[string]NodeSpec)}
	r.Register(NodeSpec{
		Label: entities.LabelEvent,
		Properties: []PropertySpec{
			{Name: entities.PropType, Kind: valueobjects.KindString, Required: true},
			{Name: entities.PropTimestamp, Kind: valueobjects.KindTime, Required: true},
			{Name: "metadata", Kind: valueobjects.KindString, Required: true},
			{Name: "context", Kind: valueobjects.KindString},
		},
	})
	r.Register(NodeSpec{
		Label: entities.LabelEventSequence,
		Properties: []PropertySpec{
			{Name: entities.PropName, Kind: valueobjects.KindString, Required: true},
			{Name: "event_count", Kind: valueobjects.KindInt, Required: true},
		},
	})
	r.Register(NodeSpec{
		Label: entities.LabelMemory,
		Properties: []PropertySpec{
			{Name: entities.PropID, Kind: valueobjects.KindString, Required: true},
			{Name: "memory_type", Kind: valueobjects.KindString, Required: true},
			{Name: "importance", Kind: valueobjects.KindFloat, Required: true},
			{Name: entities.PropTimestamp, Kind: valueobjects.KindTime, Required: true},
		},
	})
	for _, label := range []string{
		entities.LabelManagedKG,
		entities.LabelSyncRule,
		entities.LabelSchemaMap,
		entities.LabelKnowPolicy,
	} {
		r.Register(NodeSpec{
			Label: label,
			Properties: []PropertySpec{
				{Name: entities.PropName, Kind: valueobjects.KindString, Required: true},
				{Name: entities.PropType, Kind: valueobjects.KindString, Required: true},
			},
		})
	}
	return r
}

// Register adds or replaces the spec for a label
func (r *SchemaRegistry) Register(spec NodeSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Label] = spec
}

// ValidateEntity checks properties against the label's spec. Unregistered
// labels always validate.
func (r *SchemaRegistry) ValidateEntity(label string, props valueobjects.Properties) (bool, []string) {
	r.mu.RLock()
	spec, ok := r.specs[label]
	r.mu.RUnlock()
	if !ok {
		return true, nil
	}

	var problems []string
	for _, p := range spec.Properties {
		v, present := props[p.Name]
		if !present {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required property %q", p.Name))
			}
			continue
		}
		if !kindCompatible(p.Kind, v) {
			problems = append(problems, fmt.Sprintf("property %q has wrong type", p.Name))
		}
	}
	return len(problems) == 0, problems
}

// Hook returns the registry check in the shape stores accept as a
// pre-write hook.
func (r *SchemaRegistry) Hook() func(label string, props valueobjects.Properties) error {
	return func(label string, props valueobjects.Properties) error {
		if ok, problems := r.ValidateEntity(label, props); !ok {
			return fmt.Errorf("entity %s failed schema validation: %v", label, problems)
		}
		return nil
	}
}

// kindCompatible allows the loose numeric and time representations the
// stores round-trip.
func kindCompatible(want valueobjects.ValueKind, v valueobjects.Value) bool {
	switch want {
	case valueobjects.KindFloat, valueobjects.KindInt:
		_, ok := v.AsFloat()
		return ok
	case valueobjects.KindTime:
		_, ok := v.AsTime()
		return ok
	case valueobjects.KindString:
		_, ok := v.AsString()
		return ok
	case valueobjects.KindBool:
		_, ok := v.AsBool()
		return ok
	default:
		return v.Kind() == want
	}
}
