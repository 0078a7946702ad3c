package services

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"fabric/application/ports"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	"fabric/domain/sync"
	pkgerrors "fabric/pkg/errors"
)

// SyncOptions narrows one synchronization pass. Zero options sync every
// non-meta node of the source graph.
type SyncOptions struct {
	Labels []string // only nodes whose primary label is listed
}

// DualKnowledgeManager governs how knowledge moves between the agent's
// local graph and the shared global graph. Rules, mappings, and policies
// are configuration-as-data: registered in memory for the hot path and
// persisted as meta nodes so the configuration survives restarts and is
// itself queryable.
type DualKnowledgeManager struct {
	metaStore ports.GraphStore
	sink      ports.EventSink
	logger    *zap.Logger
	agentID   string

	mu              gosync.RWMutex
	stores          map[string]ports.GraphStore
	kgs             map[string]*sync.ManagedKG
	kgNodeIDs       map[string]string // KG name -> meta node id
	rules           map[string]*sync.SynchronizationRule
	ruleNodeIDs     map[string]string // rule name -> meta node id
	ruleBindings    []sync.RuleBinding
	mappings        map[string]*sync.SchemaMapping
	mappingNodeIDs  map[string]string
	mappingBindings []sync.MappingBinding
	policies        map[string]*sync.KnowledgePolicy
	policyNodeIDs   map[string]string
}

// NewDualKnowledgeManager creates the manager. metaStore holds the
// configuration meta nodes; agentID identifies this fabric's owner for
// access policy evaluation. sink may be nil.
func NewDualKnowledgeManager(metaStore ports.GraphStore, sink ports.EventSink, agentID string, logger *zap.Logger) *DualKnowledgeManager {
	return &DualKnowledgeManager{
		metaStore: metaStore,
		sink:      sink,
		logger:    logger,
		agentID:   agentID,
		stores:         make(map[string]ports.GraphStore),
		kgs:            make(map[string]*sync.ManagedKG),
		kgNodeIDs:      make(map[string]string),
		rules:          make(map[string]*sync.SynchronizationRule),
		ruleNodeIDs:    make(map[string]string),
		mappings:       make(map[string]*sync.SchemaMapping),
		mappingNodeIDs: make(map[string]string),
		policies:       make(map[string]*sync.KnowledgePolicy),
		policyNodeIDs:  make(map[string]string),
	}
}

// RegisterStore attaches the backing store for a managed graph name.
// Registration must precede any Synchronize touching that graph.
func (dkm *DualKnowledgeManager) RegisterStore(kgName string, store ports.GraphStore) {
	dkm.mu.Lock()
	defer dkm.mu.Unlock()
	dkm.stores[kgName] = store
}

// CreateKG registers a managed graph and persists its descriptor. Creating
// a name that already exists updates the existing descriptor in place.
func (dkm *DualKnowledgeManager) CreateKG(ctx context.Context, name string, kind sync.KGKind, description string) (*sync.ManagedKG, error) {
	kg, err := sync.NewManagedKG(name, kind, description)
	if err != nil {
		return nil, err
	}

	dkm.mu.Lock()
	defer dkm.mu.Unlock()
	if existing, ok := dkm.kgs[name]; ok {
		existing.Kind = kind
		existing.Description = description
		if err := dkm.metaStore.UpdateNode(ctx, dkm.kgNodeIDs[name], valueobjects.Properties{
			entities.PropType: valueobjects.String(string(kind)),
			"description":     valueobjects.String(description),
		}); err != nil {
			return nil, pkgerrors.NewStoreError("failed to update managed KG", err)
		}
		dkm.logger.Info("managed KG updated", zap.String("name", name), zap.String("kind", string(kind)))
		return existing, nil
	}

	nodeID, err := dkm.metaStore.CreateNode(ctx, []string{entities.LabelManagedKG}, valueobjects.Properties{
		entities.PropName: valueobjects.String(kg.Name),
		entities.PropType: valueobjects.String(string(kg.Kind)),
		"description":     valueobjects.String(kg.Description),
		"created_at":      valueobjects.Time(kg.CreatedAt),
	})
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to persist managed KG", err)
	}
	dkm.kgs[name] = kg
	dkm.kgNodeIDs[name] = nodeID
	dkm.logger.Info("managed KG created", zap.String("name", name), zap.String("kind", string(kind)))
	return kg, nil
}

// GetKG returns a registered managed graph descriptor
func (dkm *DualKnowledgeManager) GetKG(name string) (*sync.ManagedKG, error) {
	dkm.mu.RLock()
	defer dkm.mu.RUnlock()
	kg, ok := dkm.kgs[name]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("managed KG", name)
	}
	return kg, nil
}

// DeleteKG removes a managed graph descriptor, its meta node, and every
// binding that references it. The graph's content store is untouched.
func (dkm *DualKnowledgeManager) DeleteKG(ctx context.Context, name string) error {
	dkm.mu.Lock()
	defer dkm.mu.Unlock()
	if _, ok := dkm.kgs[name]; !ok {
		return pkgerrors.NewNotFoundError("managed KG", name)
	}
	if nodeID, ok := dkm.kgNodeIDs[name]; ok {
		if err := dkm.metaStore.DeleteNode(ctx, nodeID); err != nil {
			return pkgerrors.NewStoreError("failed to delete managed KG node", err)
		}
	}
	delete(dkm.kgs, name)
	delete(dkm.kgNodeIDs, name)

	kept := dkm.ruleBindings[:0]
	for _, b := range dkm.ruleBindings {
		if b.SourceKG != name && b.TargetKG != name {
			kept = append(kept, b)
		}
	}
	dkm.ruleBindings = kept

	keptMappings := dkm.mappingBindings[:0]
	for _, b := range dkm.mappingBindings {
		if b.KGA != name && b.KGB != name {
			keptMappings = append(keptMappings, b)
		}
	}
	dkm.mappingBindings = keptMappings
	return nil
}

// CreateSyncRule registers a synchronization rule and persists it.
// Creating a name that already exists updates the existing rule in place.
func (dkm *DualKnowledgeManager) CreateSyncRule(ctx context.Context, name string, kind sync.RuleKind, description string) (*sync.SynchronizationRule, error) {
	rule, err := sync.NewSynchronizationRule(name, kind, description)
	if err != nil {
		return nil, err
	}

	dkm.mu.Lock()
	defer dkm.mu.Unlock()
	if existing, ok := dkm.rules[name]; ok {
		existing.Kind = kind
		existing.Description = description
		if err := dkm.metaStore.UpdateNode(ctx, dkm.ruleNodeIDs[name], valueobjects.Properties{
			entities.PropType: valueobjects.String(string(kind)),
			"description":     valueobjects.String(description),
		}); err != nil {
			return nil, pkgerrors.NewStoreError("failed to update sync rule", err)
		}
		return existing, nil
	}
	nodeID, err := dkm.metaStore.CreateNode(ctx, []string{entities.LabelSyncRule}, valueobjects.Properties{
		entities.PropName: valueobjects.String(rule.Name),
		entities.PropType: valueobjects.String(string(rule.Kind)),
		"description":     valueobjects.String(rule.Description),
		"created_at":      valueobjects.Time(rule.CreatedAt),
	})
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to persist sync rule", err)
	}
	dkm.rules[name] = rule
	dkm.ruleNodeIDs[name] = nodeID
	return rule, nil
}

// ApplySyncRule binds a rule between two managed graphs and records the
// topology as edges between their meta nodes.
func (dkm *DualKnowledgeManager) ApplySyncRule(ctx context.Context, ruleName, sourceKG, targetKG string) error {
	dkm.mu.Lock()
	defer dkm.mu.Unlock()

	rule, ok := dkm.rules[ruleName]
	if !ok {
		return pkgerrors.NewNotFoundError("sync rule", ruleName)
	}
	sourceNodeID, ok := dkm.kgNodeIDs[sourceKG]
	if !ok {
		return pkgerrors.NewNotFoundError("managed KG", sourceKG)
	}
	targetNodeID, ok := dkm.kgNodeIDs[targetKG]
	if !ok {
		return pkgerrors.NewNotFoundError("managed KG", targetKG)
	}
	for _, b := range dkm.ruleBindings {
		if b.RuleName == ruleName && b.Covers(sourceKG, targetKG, rule.Kind) {
			return nil
		}
	}

	ruleProps := valueobjects.Properties{"rule": valueobjects.String(ruleName)}
	if rule.Kind == sync.RuleBidirectional {
		if _, err := dkm.metaStore.CreateRelationship(ctx, sourceNodeID, targetNodeID, entities.RelSyncsWith, ruleProps); err != nil {
			return pkgerrors.NewStoreError("failed to persist sync topology", err)
		}
		if _, err := dkm.metaStore.CreateRelationship(ctx, targetNodeID, sourceNodeID, entities.RelSyncsWith, ruleProps); err != nil {
			return pkgerrors.NewStoreError("failed to persist sync topology", err)
		}
	} else {
		if _, err := dkm.metaStore.CreateRelationship(ctx, sourceNodeID, targetNodeID, entities.RelSyncsTo, ruleProps); err != nil {
			return pkgerrors.NewStoreError("failed to persist sync topology", err)
		}
	}

	ruleNodeID := dkm.ruleNodeIDs[ruleName]
	for _, kgNodeID := range []string{sourceNodeID, targetNodeID} {
		if _, err := dkm.metaStore.FindRelationship(ctx, ruleNodeID, kgNodeID, entities.RelAppliesTo); err == nil {
			continue
		}
		if _, err := dkm.metaStore.CreateRelationship(ctx, ruleNodeID, kgNodeID, entities.RelAppliesTo, valueobjects.NewProperties()); err != nil {
			return pkgerrors.NewStoreError("failed to persist rule application", err)
		}
	}

	dkm.ruleBindings = append(dkm.ruleBindings, sync.RuleBinding{
		RuleName: ruleName,
		SourceKG: sourceKG,
		TargetKG: targetKG,
	})
	dkm.logger.Info("sync rule applied",
		zap.String("rule", ruleName),
		zap.String("source", sourceKG),
		zap.String("target", targetKG),
	)
	return nil
}

// CreateSchemaMapping registers a schema mapping and persists it. Creating
// a name that already exists replaces the existing mapping's kind and rules.
func (dkm *DualKnowledgeManager) CreateSchemaMapping(ctx context.Context, name string, kind sync.MappingKind, rules sync.MappingRules) (*sync.SchemaMapping, error) {
	mapping, err := sync.NewSchemaMapping(name, kind, rules)
	if err != nil {
		return nil, err
	}

	dkm.mu.Lock()
	defer dkm.mu.Unlock()
	if existing, ok := dkm.mappings[name]; ok {
		existing.Kind = kind
		existing.Rules = rules
		if err := dkm.metaStore.UpdateNode(ctx, dkm.mappingNodeIDs[name], valueobjects.Properties{
			entities.PropType: valueobjects.String(string(kind)),
		}); err != nil {
			return nil, pkgerrors.NewStoreError("failed to update schema mapping", err)
		}
		return existing, nil
	}
	nodeID, err := dkm.metaStore.CreateNode(ctx, []string{entities.LabelSchemaMap}, valueobjects.Properties{
		entities.PropName: valueobjects.String(mapping.Name),
		entities.PropType: valueobjects.String(string(mapping.Kind)),
		"created_at":      valueobjects.Time(mapping.CreatedAt),
	})
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to persist schema mapping", err)
	}
	dkm.mappings[name] = mapping
	dkm.mappingNodeIDs[name] = nodeID
	return mapping, nil
}

// BindMapping attaches a mapping between two managed graphs. The mapping's
// rules are authored in the first graph's schema and applied when entities
// flow from it toward the second.
func (dkm *DualKnowledgeManager) BindMapping(ctx context.Context, mappingName, kgA, kgB string) error {
	dkm.mu.Lock()
	defer dkm.mu.Unlock()

	if _, ok := dkm.mappings[mappingName]; !ok {
		return pkgerrors.NewNotFoundError("schema mapping", mappingName)
	}
	aNodeID, ok := dkm.kgNodeIDs[kgA]
	if !ok {
		return pkgerrors.NewNotFoundError("managed KG", kgA)
	}
	bNodeID, ok := dkm.kgNodeIDs[kgB]
	if !ok {
		return pkgerrors.NewNotFoundError("managed KG", kgB)
	}

	if _, err := dkm.metaStore.CreateRelationship(ctx, aNodeID, bNodeID, entities.RelMapsBetween, valueobjects.Properties{
		"mapping": valueobjects.String(mappingName),
	}); err != nil {
		return pkgerrors.NewStoreError("failed to persist mapping binding", err)
	}
	dkm.mappingBindings = append(dkm.mappingBindings, sync.MappingBinding{
		MappingName: mappingName,
		KGA:         kgA,
		KGB:         kgB,
	})
	return nil
}

// CreatePolicy registers a knowledge policy and persists it. Policies are
// global: every Synchronize pass evaluates all of them. Creating a name
// that already exists replaces the existing policy's kind and rules.
func (dkm *DualKnowledgeManager) CreatePolicy(ctx context.Context, name string, kind sync.PolicyKind, rules map[string]valueobjects.Value) (*sync.KnowledgePolicy, error) {
	policy, err := sync.NewKnowledgePolicy(name, kind, rules)
	if err != nil {
		return nil, err
	}

	props := valueobjects.Properties{
		entities.PropName: valueobjects.String(policy.Name),
		entities.PropType: valueobjects.String(string(policy.Kind)),
		"created_at":      valueobjects.Time(policy.CreatedAt),
	}
	if len(rules) > 0 {
		encoded, err := valueobjects.EncodeJSON(rules)
		if err != nil {
			return nil, pkgerrors.NewInternalError("failed to encode policy rules", err)
		}
		props["rules"] = valueobjects.String(encoded)
	}

	dkm.mu.Lock()
	defer dkm.mu.Unlock()
	if existing, ok := dkm.policies[name]; ok {
		existing.Kind = kind
		existing.Rules = rules
		delete(props, "created_at")
		if err := dkm.metaStore.UpdateNode(ctx, dkm.policyNodeIDs[name], props); err != nil {
			return nil, pkgerrors.NewStoreError("failed to update policy", err)
		}
		return existing, nil
	}
	nodeID, err := dkm.metaStore.CreateNode(ctx, []string{entities.LabelKnowPolicy}, props)
	if err != nil {
		return nil, pkgerrors.NewStoreError("failed to persist policy", err)
	}
	dkm.policies[name] = policy
	dkm.policyNodeIDs[name] = nodeID
	return policy, nil
}

// CheckPolicyCompliance evaluates every registered policy against an
// entity's properties. All policies must pass.
func (dkm *DualKnowledgeManager) CheckPolicyCompliance(props valueobjects.Properties, agentID string) bool {
	dkm.mu.RLock()
	defer dkm.mu.RUnlock()
	for _, policy := range dkm.policies {
		if !sync.Compliant(policy.Kind, props, agentID) {
			return false
		}
	}
	return true
}

// Synchronize pushes the source graph's knowledge into the target graph
// under the named rule. Partial success is the normal failure mode: node
// errors are counted and reported, never fatal mid-pass.
func (dkm *DualKnowledgeManager) Synchronize(ctx context.Context, sourceKG, targetKG, ruleName string) sync.Result {
	return dkm.SynchronizeWith(ctx, sourceKG, targetKG, ruleName, SyncOptions{})
}

// SynchronizeWith is Synchronize narrowed by options. An empty rule name
// resolves the governing rule from the persisted sync topology between the
// two graphs.
func (dkm *DualKnowledgeManager) SynchronizeWith(ctx context.Context, sourceKG, targetKG, ruleName string, opts SyncOptions) sync.Result {
	if ruleName == "" {
		ruleName = dkm.resolveRule(ctx, sourceKG, targetKG)
		if ruleName == "" {
			return dkm.failSync(ctx, sourceKG, targetKG, fmt.Sprintf("no applicable sync rule between %s and %s", sourceKG, targetKG))
		}
	}

	dkm.mu.RLock()
	rule, ruleOK := dkm.rules[ruleName]
	source, sourceOK := dkm.stores[sourceKG]
	target, targetOK := dkm.stores[targetKG]
	bindings := append([]sync.RuleBinding{}, dkm.ruleBindings...)
	dkm.mu.RUnlock()

	if !ruleOK {
		return dkm.failSync(ctx, sourceKG, targetKG, "unknown sync rule: "+ruleName)
	}
	if !sourceOK || !targetOK {
		return dkm.failSync(ctx, sourceKG, targetKG, "no store registered for one of the graphs")
	}
	covered := false
	for _, b := range bindings {
		if b.RuleName == ruleName && b.Covers(sourceKG, targetKG, rule.Kind) {
			covered = true
			break
		}
	}
	if !covered {
		return dkm.failSync(ctx, sourceKG, targetKG, fmt.Sprintf("rule %s does not cover %s -> %s", ruleName, sourceKG, targetKG))
	}

	mapping := dkm.mappingFor(sourceKG, targetKG)
	nodes, err := dkm.loadSourceNodes(ctx, source, opts)
	if err != nil {
		return dkm.failSync(ctx, sourceKG, targetKG, "failed to load source nodes: "+err.Error())
	}

	result := sync.Result{}
	idMap := make(map[string]string, len(nodes)) // source node id -> target node id
	for _, node := range nodes {
		targetID, outcome, err := dkm.syncNode(ctx, target, node, mapping, sourceKG)
		switch {
		case err != nil:
			result.Errors++
			dkm.reportSyncError(ctx, sourceKG, targetKG, node.ID, err)
		case targetID == "":
			result.Skipped++
		default:
			idMap[node.ID] = targetID
			result.NodesSynced++
			result.ConflictsResolved += outcome
		}
	}

	for _, node := range nodes {
		if _, synced := idMap[node.ID]; !synced {
			continue
		}
		count, errs := dkm.syncRelationships(ctx, source, target, node.ID, idMap, mapping)
		result.RelationshipsSynced += count
		result.Errors += errs
	}

	dkm.logger.Info("synchronization pass complete",
		zap.String("source", sourceKG),
		zap.String("target", targetKG),
		zap.String("rule", ruleName),
		zap.Int("nodes", result.NodesSynced),
		zap.Int("relationships", result.RelationshipsSynced),
		zap.Int("conflicts", result.ConflictsResolved),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
	)
	if dkm.sink != nil {
		if _, err := dkm.sink.LogSystemEvent(ctx, "dual_knowledge_manager", "sync_completed", map[string]valueobjects.Value{
			"source_kg":            valueobjects.String(sourceKG),
			"target_kg":            valueobjects.String(targetKG),
			"rule":                 valueobjects.String(ruleName),
			"nodes_synced":         valueobjects.Int(int64(result.NodesSynced)),
			"relationships_synced": valueobjects.Int(int64(result.RelationshipsSynced)),
			"conflicts_resolved":   valueobjects.Int(int64(result.ConflictsResolved)),
			"skipped":              valueobjects.Int(int64(result.Skipped)),
			"errors":               valueobjects.Int(int64(result.Errors)),
		}, "info"); err != nil {
			dkm.logger.Warn("failed to record sync completion event", zap.Error(err))
		}
	}
	return result
}

// resolveRule looks up the rule governing traffic between two graphs from
// the SYNCS_TO / SYNCS_WITH edges recorded by ApplySyncRule. SYNCS_TO only
// matches in its recorded direction.
func (dkm *DualKnowledgeManager) resolveRule(ctx context.Context, sourceKG, targetKG string) string {
	dkm.mu.RLock()
	sourceNodeID, sourceOK := dkm.kgNodeIDs[sourceKG]
	targetNodeID, targetOK := dkm.kgNodeIDs[targetKG]
	dkm.mu.RUnlock()
	if !sourceOK || !targetOK {
		return ""
	}

	rels, err := dkm.metaStore.Relationships(ctx, sourceNodeID, ports.DirectionBoth, entities.RelSyncsTo, entities.RelSyncsWith)
	if err != nil {
		dkm.logger.Warn("failed to load sync topology", zap.String("kg", sourceKG), zap.Error(err))
		return ""
	}
	for _, rel := range rels {
		if rel.Type == entities.RelSyncsTo && rel.SourceID != sourceNodeID {
			continue
		}
		far := rel.TargetID
		if far == sourceNodeID {
			far = rel.SourceID
		}
		if far != targetNodeID {
			continue
		}
		if name, ok := rel.Properties.GetString("rule"); ok {
			return name
		}
	}
	return ""
}

// loadSourceNodes fetches the candidate node set, excluding meta nodes
func (dkm *DualKnowledgeManager) loadSourceNodes(ctx context.Context, source ports.GraphStore, opts SyncOptions) ([]*entities.Node, error) {
	all, err := source.FindNodes(ctx, ports.NodeFilter{})
	if err != nil {
		return nil, err
	}
	var labelSet map[string]bool
	if len(opts.Labels) > 0 {
		labelSet = make(map[string]bool, len(opts.Labels))
		for _, l := range opts.Labels {
			labelSet[l] = true
		}
	}
	return filterMeta(all, labelSet), nil
}

func filterMeta(nodes []*entities.Node, labelSet map[string]bool) []*entities.Node {
	out := nodes[:0]
	for _, node := range nodes {
		if node.IsMeta() {
			continue
		}
		if labelSet != nil && !labelSet[node.PrimaryLabel()] {
			continue
		}
		out = append(out, node)
	}
	return out
}

// syncNode moves one node across. Returns the target node id ("" when the
// node is skipped by policy) and how many property conflicts were resolved.
func (dkm *DualKnowledgeManager) syncNode(ctx context.Context, target ports.GraphStore, node *entities.Node, mapping *sync.SchemaMapping, sourceKG string) (string, int, error) {
	if !dkm.CheckPolicyCompliance(node.Properties, dkm.agentID) {
		return "", 0, nil
	}

	mapped := node
	if mapping != nil {
		mapped = mapping.Apply(node)
	}

	match, err := dkm.findMatch(ctx, target, mapped)
	if err != nil {
		return "", 0, err
	}

	now := valueobjects.Time(time.Now())
	if match == nil {
		props := mapped.Properties.Clone()
		props[entities.PropLastSynced] = now
		props[entities.PropSyncSource] = valueobjects.String(sourceKG)
		if _, has := props[entities.PropOrigSource]; !has {
			props[entities.PropOrigSource] = valueobjects.String(sourceKG)
		}
		targetID, err := target.CreateNode(ctx, mapped.Labels, props)
		if err != nil {
			return "", 0, err
		}
		return targetID, 0, nil
	}

	outcome := sync.MergeProperties(mapped, match, entities.KeyPropertySet(mapped.PrimaryLabel()))
	if len(outcome.Updates) == 0 {
		return match.ID, outcome.Conflicts, nil
	}
	outcome.Updates[entities.PropLastSynced] = now
	outcome.Updates[entities.PropSyncSource] = valueobjects.String(sourceKG)
	if err := target.UpdateNode(ctx, match.ID, outcome.Updates); err != nil {
		return "", 0, err
	}
	return match.ID, outcome.Conflicts, nil
}

// findMatch locates the target-graph node representing the same entity,
// matching on the primary label's key-property set. Nodes missing a key
// property never match; they are treated as new entities.
func (dkm *DualKnowledgeManager) findMatch(ctx context.Context, target ports.GraphStore, node *entities.Node) (*entities.Node, error) {
	keys := entities.KeyPropertySet(node.PrimaryLabel())
	equals := valueobjects.NewProperties()
	for _, k := range keys {
		v, ok := node.Properties[k]
		if !ok {
			return nil, nil
		}
		equals[k] = v
	}
	matches, err := target.FindNodes(ctx, ports.NodeFilter{
		Labels: []string{node.PrimaryLabel()},
		Equals: equals,
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// syncRelationships mirrors a synced node's outgoing edges. Far ends
// synced in this pass resolve through idMap; far ends synced earlier
// resolve by key-property match in the target graph.
func (dkm *DualKnowledgeManager) syncRelationships(ctx context.Context, source, target ports.GraphStore, sourceNodeID string, idMap map[string]string, mapping *sync.SchemaMapping) (int, int) {
	rels, err := source.Relationships(ctx, sourceNodeID, ports.DirectionOutgoing)
	if err != nil {
		dkm.logger.Warn("failed to load relationships for sync",
			zap.String("nodeID", sourceNodeID),
			zap.Error(err),
		)
		return 0, 1
	}

	synced, errs := 0, 0
	for _, rel := range rels {
		targetSrc, okSrc := idMap[rel.SourceID]
		if !okSrc {
			continue
		}
		targetDst, okDst := idMap[rel.TargetID]
		if !okDst {
			targetDst, okDst = dkm.resolveFarEnd(ctx, source, target, rel.TargetID, mapping, idMap)
		}
		if !okDst {
			continue
		}
		if _, err := target.FindRelationship(ctx, targetSrc, targetDst, rel.Type); err == nil {
			continue
		}
		props := rel.Properties.Clone()
		props[entities.PropLastSynced] = valueobjects.Time(time.Now())
		if _, err := target.CreateRelationship(ctx, targetSrc, targetDst, rel.Type, props); err != nil {
			errs++
			continue
		}
		synced++
	}
	return synced, errs
}

// resolveFarEnd locates the target-graph counterpart of a source node that
// was not part of this pass. A hit is cached into idMap.
func (dkm *DualKnowledgeManager) resolveFarEnd(ctx context.Context, source, target ports.GraphStore, farID string, mapping *sync.SchemaMapping, idMap map[string]string) (string, bool) {
	node, err := source.GetNode(ctx, farID)
	if err != nil || node.IsMeta() {
		return "", false
	}
	mapped := node
	if mapping != nil {
		mapped = mapping.Apply(node)
	}
	match, err := dkm.findMatch(ctx, target, mapped)
	if err != nil || match == nil {
		return "", false
	}
	idMap[farID] = match.ID
	return match.ID, true
}

// mappingFor returns the schema mapping bound between the two graphs
// when its rules are authored in the source graph's schema.
func (dkm *DualKnowledgeManager) mappingFor(sourceKG, targetKG string) *sync.SchemaMapping {
	dkm.mu.RLock()
	defer dkm.mu.RUnlock()
	for _, b := range dkm.mappingBindings {
		if b.KGA == sourceKG && b.KGB == targetKG {
			return dkm.mappings[b.MappingName]
		}
	}
	return nil
}

// failSync records a failed validation as both a result and a sync_error
// system event.
func (dkm *DualKnowledgeManager) failSync(ctx context.Context, sourceKG, targetKG, message string) sync.Result {
	dkm.logger.Error("synchronization rejected",
		zap.String("source", sourceKG),
		zap.String("target", targetKG),
		zap.String("reason", message),
	)
	dkm.emitSyncError(ctx, sourceKG, targetKG, "", message)
	return sync.ErrorResult(message)
}

func (dkm *DualKnowledgeManager) reportSyncError(ctx context.Context, sourceKG, targetKG, nodeID string, err error) {
	dkm.logger.Warn("node synchronization failed",
		zap.String("source", sourceKG),
		zap.String("target", targetKG),
		zap.String("nodeID", nodeID),
		zap.Error(err),
	)
	dkm.emitSyncError(ctx, sourceKG, targetKG, nodeID, err.Error())
}

func (dkm *DualKnowledgeManager) emitSyncError(ctx context.Context, sourceKG, targetKG, nodeID, message string) {
	if dkm.sink == nil {
		return
	}
	details := map[string]valueobjects.Value{
		"source_kg": valueobjects.String(sourceKG),
		"target_kg": valueobjects.String(targetKG),
		"message":   valueobjects.String(message),
	}
	if nodeID != "" {
		details["node_id"] = valueobjects.String(nodeID)
	}
	if _, err := dkm.sink.LogSystemEvent(ctx, "dual_knowledge_manager", "sync_error", details, "error"); err != nil {
		dkm.logger.Warn("failed to record sync error event", zap.Error(err))
	}
}
