package valueobjects

import (
	"encoding/json"
	"sort"
	"time"
)

// Properties is the schemaless property map carried by nodes and relationships
type Properties map[string]Value

// NewProperties returns an empty property map
func NewProperties() Properties { return make(Properties) }

// Clone returns a shallow copy of the map; Values are immutable so a
// shallow copy is safe to mutate key-wise.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into p, overwriting existing keys
func (p Properties) Merge(other Properties) {
	for k, v := range other {
		p[k] = v
	}
}

// Keys returns the sorted property names
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns the named string property
func (p Properties) GetString(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetFloat returns the named numeric property
func (p Properties) GetFloat(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}

// GetInt returns the named integer property
func (p Properties) GetInt(key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// GetBool returns the named bool property
func (p Properties) GetBool(key string) (bool, bool) {
	v, ok := p[key]
	if !ok {
		return false, false
	}
	return v.AsBool()
}

// GetTime returns the named timestamp property
func (p Properties) GetTime(key string) (time.Time, bool) {
	v, ok := p[key]
	if !ok {
		return time.Time{}, false
	}
	return v.AsTime()
}

// Flag reports whether a boolean property is present and true
func (p Properties) Flag(key string) bool {
	b, ok := p.GetBool(key)
	return ok && b
}

// ToAnyMap unwraps every value for use as driver parameters
func (p Properties) ToAnyMap() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.ToAny()
	}
	return out
}

// PropertiesFromAnyMap converts a driver row into Properties
func PropertiesFromAnyMap(raw map[string]any) Properties {
	out := make(Properties, len(raw))
	for k, v := range raw {
		out[k] = FromAny(v)
	}
	return out
}

// EncodeJSON serializes a nested map property (content, context, metadata)
// into the JSON text form the graph store persists.
func EncodeJSON(m map[string]Value) (string, error) {
	raw := MapOf(m).ToAny()
	data, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeJSON parses a JSON text property back into a nested value map
func DecodeJSON(text string) (map[string]Value, error) {
	if text == "" {
		return map[string]Value{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}
	m := make(map[string]Value, len(raw))
	for k, v := range raw {
		m[k] = FromAny(v)
	}
	return m, nil
}
