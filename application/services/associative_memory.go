package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fabric/application/ports"
	"fabric/domain/config"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// DefaultAssociationStrength is the edge weight used when the caller does
// not pick one.
const DefaultAssociationStrength = 0.5

// RecallQuery constrains a memory recall. Zero fields are ignored.
type RecallQuery struct {
	MemoryID   string
	Content    map[string]string // equality on content values, substring for text
	Context    map[string]string
	MemoryType string
	TimeRange  *TimeRange
	Limit      int
}

// MemoryUpdate carries a partial update to a stored memory. Content and
// context entries are merged in; nil Importance leaves the score alone.
type MemoryUpdate struct {
	Content    map[string]valueobjects.Value
	Context    map[string]valueobjects.Value
	Importance *float64
}

// MemoryStats summarizes the memory population
type MemoryStats struct {
	TotalCount        int            `json:"total_count"`
	CountByType       map[string]int `json:"count_by_type"`
	AverageImportance float64        `json:"average_importance"`
	AssociationCount  int            `json:"association_count"`
}

// AssociativeMemory stores decaying, associatively linked memories in the
// knowledge graph. Importance decays exponentially since last access and is
// boosted by access frequency; records that decay below the configured
// threshold are pruned.
type AssociativeMemory struct {
	store  ports.GraphStore
	sink   ports.EventSink
	cfg    *config.DomainConfig
	logger *zap.Logger
}

// NewAssociativeMemory creates the memory layer. sink may be nil when no
// event log is wired in.
func NewAssociativeMemory(store ports.GraphStore, sink ports.EventSink, cfg *config.DomainConfig, logger *zap.Logger) *AssociativeMemory {
	return &AssociativeMemory{store: store, sink: sink, cfg: cfg, logger: logger}
}

// Store persists a new memory record and returns its memory id. A negative
// importance selects the configured default. Initial associations are
// created symmetrically toward existing memories; unknown ids are skipped.
func (am *AssociativeMemory) Store(ctx context.Context, content, contextData map[string]valueobjects.Value, memoryType string, importance float64, associations []string) (string, error) {
	if importance < 0 {
		importance = am.cfg.DefaultImportance
	}
	memoryID := "mem_" + uuid.New().String()
	record, err := entities.NewMemoryRecord(memoryID, content, contextData, memoryType, importance)
	if err != nil {
		return "", err
	}
	props, err := record.ToProperties()
	if err != nil {
		return "", pkgerrors.NewInternalError("failed to encode memory record", err)
	}
	if _, err := am.store.CreateNode(ctx, []string{entities.LabelMemory}, props); err != nil {
		return "", pkgerrors.NewStoreError("failed to persist memory", err)
	}

	for _, other := range associations {
		if err := am.Associate(ctx, memoryID, other, DefaultAssociationStrength); err != nil {
			am.logger.Warn("failed to create initial association",
				zap.String("memoryID", memoryID),
				zap.String("associatedID", other),
				zap.Error(err),
			)
		}
	}
	am.logEvent(ctx, "memory_created", map[string]valueobjects.Value{
		"memory_id":   valueobjects.String(memoryID),
		"memory_type": valueobjects.String(memoryType),
		"importance":  valueobjects.Float(importance),
	})
	return memoryID, nil
}

// Recall returns memories matching the query, most important first.
// Recalls are read-through side effects: each returned record's access
// bookkeeping is updated in the store.
func (am *AssociativeMemory) Recall(ctx context.Context, query RecallQuery) ([]*entities.MemoryRecord, error) {
	if query.MemoryID != "" {
		node, err := am.findMemoryNode(ctx, query.MemoryID)
		if err != nil {
			return nil, err
		}
		record, err := am.touch(ctx, node)
		if err != nil {
			return nil, err
		}
		return []*entities.MemoryRecord{record}, nil
	}

	filter := ports.NodeFilter{Labels: []string{entities.LabelMemory}}
	if query.MemoryType != "" {
		filter.Equals = valueobjects.Properties{"memory_type": valueobjects.String(query.MemoryType)}
	}
	if query.TimeRange != nil {
		filter.After = query.TimeRange.Start
		filter.Before = query.TimeRange.End
	}
	nodes, err := am.store.FindNodes(ctx, filter)
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to query memories", err)
	}

	var records []*entities.MemoryRecord
	for _, node := range nodes {
		record, err := entities.MemoryFromNode(node)
		if err != nil {
			am.logger.Warn("skipping undecodable memory node", zap.String("id", node.ID), zap.Error(err))
			continue
		}
		if !matchesValues(record.Content, query.Content) || !matchesValues(record.Context, query.Context) {
			continue
		}
		record, err = am.touch(ctx, node)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Importance > records[j].Importance })
	limit := query.Limit
	if limit <= 0 {
		limit = am.cfg.DefaultRecallLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// RecallAssociations walks the association graph outward from the given
// memory, up to depth hops, and returns the reached memories ordered by
// distance then importance. The source memory itself is not touched;
// every returned memory is. Depth below one means one hop.
func (am *AssociativeMemory) RecallAssociations(ctx context.Context, memoryID string, depth int) ([]*entities.MemoryRecord, error) {
	if depth < 1 {
		depth = 1
	}
	node, err := am.findMemoryNode(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	record, err := entities.MemoryFromNode(node)
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to decode memory record", err)
	}

	visited := map[string]bool{memoryID: true}
	frontier := record.Associations
	var out []*entities.MemoryRecord
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var level []*entities.MemoryRecord
		var next []string
		for _, other := range frontier {
			if visited[other] {
				continue
			}
			visited[other] = true
			otherNode, err := am.findMemoryNode(ctx, other)
			if err != nil {
				continue
			}
			otherRecord, err := am.touch(ctx, otherNode)
			if err != nil {
				return nil, err
			}
			level = append(level, otherRecord)
			next = append(next, otherRecord.Associations...)
		}
		sort.SliceStable(level, func(i, j int) bool { return level[i].Importance > level[j].Importance })
		out = append(out, level...)
		frontier = next
	}
	return out, nil
}

// UpdateMemory merges a partial update into a stored memory
func (am *AssociativeMemory) UpdateMemory(ctx context.Context, memoryID string, update MemoryUpdate) error {
	if update.Importance != nil && (*update.Importance < 0 || *update.Importance > 1) {
		return pkgerrors.NewValidationError("importance must be within [0,1]")
	}
	node, err := am.findMemoryNode(ctx, memoryID)
	if err != nil {
		return err
	}
	record, err := entities.MemoryFromNode(node)
	if err != nil {
		return pkgerrors.NewInternalError("failed to decode memory record", err)
	}

	for k, v := range update.Content {
		if record.Content == nil {
			record.Content = map[string]valueobjects.Value{}
		}
		record.Content[k] = v
	}
	for k, v := range update.Context {
		if record.Context == nil {
			record.Context = map[string]valueobjects.Value{}
		}
		record.Context[k] = v
	}
	if update.Importance != nil {
		record.Importance = *update.Importance
	}

	props, err := record.ToProperties()
	if err != nil {
		return pkgerrors.NewInternalError("failed to encode memory record", err)
	}
	if err := am.store.UpdateNode(ctx, node.ID, props); err != nil {
		return pkgerrors.NewStoreError("failed to update memory", err)
	}
	am.logEvent(ctx, "memory_updated", map[string]valueobjects.Value{
		"memory_id": valueobjects.String(memoryID),
	})
	return nil
}

// Associate links two memories symmetrically with a weighted edge. Both
// records list each other and a single ASSOCIATED_WITH edge joins their
// nodes. Re-associating overwrites the edge's strength instead of
// duplicating it.
func (am *AssociativeMemory) Associate(ctx context.Context, memoryID, otherID string, strength float64) error {
	if memoryID == otherID {
		return pkgerrors.NewValidationError("cannot associate a memory with itself")
	}
	if strength < 0 || strength > 1 {
		return pkgerrors.NewValidationError("association strength must be within [0,1]")
	}
	nodeA, err := am.findMemoryNode(ctx, memoryID)
	if err != nil {
		return err
	}
	nodeB, err := am.findMemoryNode(ctx, otherID)
	if err != nil {
		return err
	}

	if err := am.addAssociation(ctx, nodeA, otherID); err != nil {
		return err
	}
	if err := am.addAssociation(ctx, nodeB, memoryID); err != nil {
		return err
	}

	existing, err := am.store.FindRelationship(ctx, nodeA.ID, nodeB.ID, entities.RelAssociatedWith)
	if err != nil {
		existing, err = am.store.FindRelationship(ctx, nodeB.ID, nodeA.ID, entities.RelAssociatedWith)
	}
	if err == nil {
		if err := am.store.UpdateRelationship(ctx, existing.ID, valueobjects.Properties{
			"strength":   valueobjects.Float(strength),
			"updated_at": valueobjects.Time(time.Now()),
		}); err != nil {
			return pkgerrors.NewStoreError("failed to update association edge", err)
		}
		return nil
	}
	if _, err := am.store.CreateRelationship(ctx, nodeA.ID, nodeB.ID, entities.RelAssociatedWith, valueobjects.Properties{
		"strength":   valueobjects.Float(strength),
		"created_at": valueobjects.Time(time.Now()),
	}); err != nil {
		return pkgerrors.NewStoreError("failed to create association edge", err)
	}
	am.logEvent(ctx, "association_created", map[string]valueobjects.Value{
		"memory_id":     valueobjects.String(memoryID),
		"associated_id": valueobjects.String(otherID),
		"strength":      valueobjects.Float(strength),
	})
	return nil
}

// Decay recomputes importance for every memory older than the cutoff and
// returns (updated, pruned) counts. A non-positive olderThan covers every
// record. Small deltas are not written back; records whose recomputed
// importance falls below the threshold are pruned during the same pass.
func (am *AssociativeMemory) Decay(ctx context.Context, olderThan time.Duration) (int, int, error) {
	nodes, err := am.store.FindNodes(ctx, ports.NodeFilter{Labels: []string{entities.LabelMemory}})
	if err != nil {
		return 0, 0, pkgerrors.NewStoreError("failed to load memories for decay", err)
	}

	updated, pruned := 0, 0
	now := time.Now()
	cutoff := now
	if olderThan > 0 {
		cutoff = now.Add(-olderThan)
	}
	for _, node := range nodes {
		record, err := entities.MemoryFromNode(node)
		if err != nil {
			continue
		}
		if record.Timestamp.After(cutoff) {
			continue
		}
		decayed := am.decayedImportance(record, now)
		if decayed < am.cfg.ImportanceThreshold {
			if err := am.pruneNode(ctx, node, record); err != nil {
				am.logger.Warn("failed to prune decayed memory",
					zap.String("memoryID", record.ID),
					zap.Error(err),
				)
				continue
			}
			pruned++
			continue
		}
		if math.Abs(decayed-record.Importance) <= am.cfg.DecayWriteThreshold {
			continue
		}
		if err := am.store.UpdateNode(ctx, node.ID, valueobjects.Properties{
			"importance": valueobjects.Float(decayed),
		}); err != nil {
			am.logger.Warn("failed to persist decayed importance",
				zap.String("memoryID", record.ID),
				zap.Error(err),
			)
			continue
		}
		updated++
	}
	am.logger.Debug("memory decay pass complete",
		zap.Int("scanned", len(nodes)),
		zap.Int("updated", updated),
		zap.Int("pruned", pruned),
	)
	if updated > 0 {
		am.logEvent(ctx, "memories_decayed", map[string]valueobjects.Value{
			"updated_count": valueobjects.Int(int64(updated)),
		})
	}
	if pruned > 0 {
		am.logEvent(ctx, "memories_pruned", map[string]valueobjects.Value{
			"pruned_count": valueobjects.Int(int64(pruned)),
			"threshold":    valueobjects.Float(am.cfg.ImportanceThreshold),
		})
	}
	return updated, pruned, nil
}

// PruneMemory deletes one memory, its edges, and every reverse reference
// held by associated records. Returns false without error when the id does
// not exist.
func (am *AssociativeMemory) PruneMemory(ctx context.Context, memoryID string) (bool, error) {
	node, err := am.findMemoryNode(ctx, memoryID)
	if err != nil {
		if pkgerrors.IsType(err, pkgerrors.ErrorTypeNotFound) {
			return false, nil
		}
		return false, err
	}
	record, err := entities.MemoryFromNode(node)
	if err != nil {
		return false, pkgerrors.NewInternalError("failed to decode memory record", err)
	}
	if err := am.pruneNode(ctx, node, record); err != nil {
		return false, err
	}
	am.logEvent(ctx, "memories_pruned", map[string]valueobjects.Value{
		"pruned_count": valueobjects.Int(1),
		"memory_id":    valueobjects.String(memoryID),
	})
	return true, nil
}

// pruneNode deletes a memory node and scrubs its id from the association
// lists of its partners. The store detaches the edges with the node.
func (am *AssociativeMemory) pruneNode(ctx context.Context, node *entities.Node, record *entities.MemoryRecord) error {
	for _, other := range record.Associations {
		otherNode, err := am.findMemoryNode(ctx, other)
		if err != nil {
			continue
		}
		if err := am.removeAssociation(ctx, otherNode, record.ID); err != nil {
			am.logger.Warn("failed to scrub association from partner",
				zap.String("memoryID", record.ID),
				zap.String("partnerID", other),
				zap.Error(err),
			)
		}
	}
	if err := am.store.DeleteNode(ctx, node.ID); err != nil {
		return pkgerrors.NewStoreError("failed to delete memory", err)
	}
	return nil
}

// Stats summarizes the memory population without touching access counters
func (am *AssociativeMemory) Stats(ctx context.Context) (*MemoryStats, error) {
	nodes, err := am.store.FindNodes(ctx, ports.NodeFilter{Labels: []string{entities.LabelMemory}})
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to load memories for stats", err)
	}

	stats := &MemoryStats{CountByType: make(map[string]int)}
	totalImportance := 0.0
	for _, node := range nodes {
		record, err := entities.MemoryFromNode(node)
		if err != nil {
			continue
		}
		stats.TotalCount++
		stats.CountByType[record.MemoryType]++
		stats.AssociationCount += len(record.Associations)
		totalImportance += record.Importance
	}
	if stats.TotalCount > 0 {
		stats.AverageImportance = totalImportance / float64(stats.TotalCount)
	}
	// Each symmetric association is listed by both ends
	stats.AssociationCount /= 2
	return stats, nil
}

// decayedImportance applies exponential time decay plus a capped access
// frequency bonus, clamped to [0,1].
func (am *AssociativeMemory) decayedImportance(record *entities.MemoryRecord, now time.Time) float64 {
	elapsed := now.Sub(record.LastAccessed).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	halfLife := 86400 * am.cfg.MemoryDecayFactor
	decayed := record.Importance * math.Exp(-elapsed/halfLife)
	bonus := math.Min(am.cfg.MaxAccessBonus, float64(record.AccessCount)/am.cfg.AccessBonusDivisor)
	score := decayed + bonus
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// touch records an access and persists the bookkeeping
func (am *AssociativeMemory) touch(ctx context.Context, node *entities.Node) (*entities.MemoryRecord, error) {
	record, err := entities.MemoryFromNode(node)
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to decode memory record", err)
	}
	record.Access()
	if err := am.store.UpdateNode(ctx, node.ID, valueobjects.Properties{
		"last_accessed": valueobjects.Time(record.LastAccessed),
		"access_count":  valueobjects.Int(record.AccessCount),
	}); err != nil {
		return nil, pkgerrors.NewStoreError("failed to record memory access", err)
	}
	return record, nil
}

// logEvent records a memory lifecycle event when a sink is attached
func (am *AssociativeMemory) logEvent(ctx context.Context, eventType string, details map[string]valueobjects.Value) {
	if am.sink == nil {
		return
	}
	if _, err := am.sink.LogSystemEvent(ctx, "associative_memory", eventType, details, "info"); err != nil {
		am.logger.Warn("failed to record memory event",
			zap.String("eventType", eventType),
			zap.Error(err),
		)
	}
}

// findMemoryNode resolves a memory id to its stored node
func (am *AssociativeMemory) findMemoryNode(ctx context.Context, memoryID string) (*entities.Node, error) {
	nodes, err := am.store.FindNodes(ctx, ports.NodeFilter{
		Labels: []string{entities.LabelMemory},
		Equals: valueobjects.Properties{entities.PropID: valueobjects.String(memoryID)},
		Limit:  1,
	})
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to look up memory", err)
	}
	if len(nodes) == 0 {
		return nil, pkgerrors.NewNotFoundError("memory", memoryID)
	}
	return nodes[0], nil
}

// addAssociation appends an association to a stored record if absent
func (am *AssociativeMemory) addAssociation(ctx context.Context, node *entities.Node, otherID string) error {
	record, err := entities.MemoryFromNode(node)
	if err != nil {
		return pkgerrors.NewInternalError("failed to decode memory record", err)
	}
	if !record.AddAssociation(otherID) {
		return nil
	}
	assocs := make([]valueobjects.Value, len(record.Associations))
	for i, a := range record.Associations {
		assocs[i] = valueobjects.String(a)
	}
	if err := am.store.UpdateNode(ctx, node.ID, valueobjects.Properties{
		"associations": valueobjects.ListOf(assocs...),
	}); err != nil {
		return pkgerrors.NewStoreError("failed to persist association", err)
	}
	return nil
}

// removeAssociation drops an association from a stored record if present
func (am *AssociativeMemory) removeAssociation(ctx context.Context, node *entities.Node, otherID string) error {
	record, err := entities.MemoryFromNode(node)
	if err != nil {
		return pkgerrors.NewInternalError("failed to decode memory record", err)
	}
	if !record.RemoveAssociation(otherID) {
		return nil
	}
	assocs := make([]valueobjects.Value, len(record.Associations))
	for i, a := range record.Associations {
		assocs[i] = valueobjects.String(a)
	}
	if err := am.store.UpdateNode(ctx, node.ID, valueobjects.Properties{
		"associations": valueobjects.ListOf(assocs...),
	}); err != nil {
		return pkgerrors.NewStoreError("failed to persist association removal", err)
	}
	return nil
}

// matchesValues checks every wanted key against the stored map. Text values
// match by substring, everything else by string rendering.
func matchesValues(stored map[string]valueobjects.Value, wanted map[string]string) bool {
	for key, want := range wanted {
		got, ok := stored[key]
		if !ok {
			return false
		}
		if s, isStr := got.AsString(); isStr {
			if !strings.Contains(s, want) {
				return false
			}
			continue
		}
		if fmt.Sprintf("%v", got.ToAny()) != want {
			return false
		}
	}
	return true
}
