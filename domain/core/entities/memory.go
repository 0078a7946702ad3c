package entities

import (
	"time"

	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// MemoryRecord is one unit of associative memory. Importance is a [0,1]
// salience score decayed over time and boosted by access frequency.
// The associations set is kept symmetric: if A lists B, B lists A.
type MemoryRecord struct {
	ID           string
	Content      map[string]valueobjects.Value
	Context      map[string]valueobjects.Value
	MemoryType   string
	Timestamp    time.Time
	Importance   float64
	LastAccessed time.Time
	AccessCount  int64
	Associations []string
}

// NewMemoryRecord creates a memory record with a validated importance score
func NewMemoryRecord(id string, content, context map[string]valueobjects.Value, memoryType string, importance float64) (*MemoryRecord, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("memory id cannot be empty")
	}
	if memoryType == "" {
		return nil, pkgerrors.NewValidationError("memory type cannot be empty")
	}
	if importance < 0 || importance > 1 {
		return nil, pkgerrors.NewValidationError("importance must be within [0,1]")
	}
	now := time.Now()
	return &MemoryRecord{
		ID:           id,
		Content:      content,
		Context:      context,
		MemoryType:   memoryType,
		Timestamp:    now,
		Importance:   importance,
		LastAccessed: now,
	}, nil
}

// Access records a recall of this memory. Recalls are read-through side
// effects, not pure queries.
func (m *MemoryRecord) Access() {
	m.LastAccessed = time.Now()
	m.AccessCount++
}

// HasAssociation reports whether the record already links to the given id
func (m *MemoryRecord) HasAssociation(id string) bool {
	for _, a := range m.Associations {
		if a == id {
			return true
		}
	}
	return false
}

// AddAssociation appends an association id if absent
func (m *MemoryRecord) AddAssociation(id string) bool {
	if m.HasAssociation(id) {
		return false
	}
	m.Associations = append(m.Associations, id)
	return true
}

// RemoveAssociation drops an association id if present
func (m *MemoryRecord) RemoveAssociation(id string) bool {
	for i, a := range m.Associations {
		if a == id {
			m.Associations = append(m.Associations[:i], m.Associations[i+1:]...)
			return true
		}
	}
	return false
}

// ToProperties flattens the record into store properties
func (m *MemoryRecord) ToProperties() (valueobjects.Properties, error) {
	content, err := valueobjects.EncodeJSON(m.Content)
	if err != nil {
		return nil, err
	}
	context, err := valueobjects.EncodeJSON(m.Context)
	if err != nil {
		return nil, err
	}
	assocs := make([]valueobjects.Value, len(m.Associations))
	for i, a := range m.Associations {
		assocs[i] = valueobjects.String(a)
	}
	return valueobjects.Properties{
		PropID:          valueobjects.String(m.ID),
		"content":       valueobjects.String(content),
		"context":       valueobjects.String(context),
		"memory_type":   valueobjects.String(m.MemoryType),
		PropTimestamp:   valueobjects.Time(m.Timestamp),
		"importance":    valueobjects.Float(m.Importance),
		"last_accessed": valueobjects.Time(m.LastAccessed),
		"access_count":  valueobjects.Int(m.AccessCount),
		"associations":  valueobjects.ListOf(assocs...),
	}, nil
}

// MemoryFromNode reconstructs a record from its stored node
func MemoryFromNode(node *Node) (*MemoryRecord, error) {
	m := &MemoryRecord{ID: node.ID}
	if id, ok := node.Properties.GetString(PropID); ok {
		m.ID = id
	}
	m.MemoryType, _ = node.Properties.GetString("memory_type")
	m.Timestamp, _ = node.Properties.GetTime(PropTimestamp)
	m.LastAccessed, _ = node.Properties.GetTime("last_accessed")
	m.Importance, _ = node.Properties.GetFloat("importance")
	m.AccessCount, _ = node.Properties.GetInt("access_count")

	if raw, ok := node.Properties.GetString("content"); ok {
		content, err := valueobjects.DecodeJSON(raw)
		if err != nil {
			return nil, err
		}
		m.Content = content
	}
	if raw, ok := node.Properties.GetString("context"); ok {
		context, err := valueobjects.DecodeJSON(raw)
		if err != nil {
			return nil, err
		}
		m.Context = context
	}
	if list, ok := node.Properties["associations"]; ok {
		if items, isList := list.AsList(); isList {
			for _, item := range items {
				if s, isStr := item.AsString(); isStr {
					m.Associations = append(m.Associations, s)
				}
			}
		}
	}
	return m, nil
}
