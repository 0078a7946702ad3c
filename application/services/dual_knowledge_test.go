package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fabric/application/ports"
	"fabric/application/services"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	"fabric/domain/sync"
	"fabric/infrastructure/persistence/inmemory"
)

type dkmFixture struct {
	dkm    *services.DualKnowledgeManager
	local  ports.GraphStore
	global ports.GraphStore
	sink   *recordingSink
}

func newDKMFixture(t *testing.T) *dkmFixture {
	t.Helper()
	ctx := context.Background()
	local := inmemory.NewStore()
	global := inmemory.NewStore()
	sink := &recordingSink{}
	dkm := services.NewDualKnowledgeManager(local, sink, "agent-a", zap.NewNop())
	dkm.RegisterStore("local", local)
	dkm.RegisterStore("global", global)

	_, err := dkm.CreateKG(ctx, "local", sync.KGLocal, "")
	require.NoError(t, err)
	_, err = dkm.CreateKG(ctx, "global", sync.KGGlobal, "")
	require.NoError(t, err)
	_, err = dkm.CreateSyncRule(ctx, "bidi", sync.RuleBidirectional, "")
	require.NoError(t, err)
	require.NoError(t, dkm.ApplySyncRule(ctx, "bidi", "local", "global"))
	return &dkmFixture{dkm: dkm, local: local, global: global, sink: sink}
}

func (f *dkmFixture) addLocal(t *testing.T, label, id, name string, extra valueobjects.Properties) string {
	t.Helper()
	props := valueobjects.Properties{
		entities.PropID:          valueobjects.String(id),
		entities.PropName:        valueobjects.String(name),
		entities.PropLastUpdated: valueobjects.Time(time.Now()),
	}
	for k, v := range extra {
		props[k] = v
	}
	nodeID, err := f.local.CreateNode(context.Background(), []string{label}, props)
	require.NoError(t, err)
	return nodeID
}

func (f *dkmFixture) globalNodes(t *testing.T, label string) []*entities.Node {
	t.Helper()
	nodes, err := f.global.FindNodes(context.Background(), ports.NodeFilter{Labels: []string{label}})
	require.NoError(t, err)
	return nodes
}

func TestSynchronizeCreatesWithProvenance(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()
	f.addLocal(t, "Observation", "obs-1", "latency spike", nil)

	result := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, result.NodesSynced)

	nodes := f.globalNodes(t, "Observation")
	require.Len(t, nodes, 1)
	source, _ := nodes[0].Properties.GetString(entities.PropSyncSource)
	assert.Equal(t, "local", source)
	origin, _ := nodes[0].Properties.GetString(entities.PropOrigSource)
	assert.Equal(t, "local", origin)
	_, hasStamp := nodes[0].Properties.GetTime(entities.PropLastSynced)
	assert.True(t, hasStamp)
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()
	f.addLocal(t, "Observation", "obs-1", "latency spike", nil)

	first := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.Equal(t, 1, first.NodesSynced)
	second := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.Equal(t, 1, second.NodesSynced)

	// Key-property matching: still exactly one global node
	assert.Len(t, f.globalNodes(t, "Observation"), 1)
}

func TestSynchronizeResolvesConflictsByLastUpdated(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	newer := time.Now()
	older := newer.Add(-time.Hour)
	f.addLocal(t, "Observation", "obs-1", "latency spike", valueobjects.Properties{
		"status":                 valueobjects.String("resolved"),
		entities.PropLastUpdated: valueobjects.Time(newer),
	})
	_, err := f.global.CreateNode(ctx, []string{"Observation"}, valueobjects.Properties{
		entities.PropID:          valueobjects.String("obs-1"),
		entities.PropName:        valueobjects.String("latency spike"),
		"status":                 valueobjects.String("open"),
		entities.PropLastUpdated: valueobjects.Time(older),
	})
	require.NoError(t, err)

	result := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.Equal(t, 1, result.NodesSynced)
	assert.Equal(t, 1, result.ConflictsResolved)

	nodes := f.globalNodes(t, "Observation")
	require.Len(t, nodes, 1)
	status, _ := nodes[0].Properties.GetString("status")
	assert.Equal(t, "resolved", status)
}

func TestSynchronizeReverseKeepsNewerTarget(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	newer := time.Now()
	older := newer.Add(-time.Hour)
	f.addLocal(t, "Observation", "obs-1", "latency spike", valueobjects.Properties{
		"status":                 valueobjects.String("resolved"),
		entities.PropLastUpdated: valueobjects.Time(newer),
	})
	_, err := f.global.CreateNode(ctx, []string{"Observation"}, valueobjects.Properties{
		entities.PropID:          valueobjects.String("obs-1"),
		entities.PropName:        valueobjects.String("latency spike"),
		"status":                 valueobjects.String("open"),
		entities.PropLastUpdated: valueobjects.Time(older),
	})
	require.NoError(t, err)

	// Bidirectional rule covers the reverse direction too. The stale
	// global copy must not overwrite the newer local one.
	result := f.dkm.Synchronize(ctx, "global", "local", "bidi")
	assert.Empty(t, result.Error)

	locals, err := f.local.FindNodes(ctx, ports.NodeFilter{Labels: []string{"Observation"}})
	require.NoError(t, err)
	require.Len(t, locals, 1)
	status, _ := locals[0].Properties.GetString("status")
	assert.Equal(t, "resolved", status)
}

func TestSynchronizeSkipsRestrictedNodes(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	_, err := f.dkm.CreatePolicy(ctx, "sharing", sync.PolicySharing, nil)
	require.NoError(t, err)

	f.addLocal(t, "Observation", "obs-1", "public", nil)
	f.addLocal(t, "Observation", "obs-2", "secret", valueobjects.Properties{
		entities.PropSharingRestricted: valueobjects.Bool(true),
	})

	result := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.Equal(t, 1, result.NodesSynced)
	assert.Equal(t, 1, result.Skipped)

	nodes := f.globalNodes(t, "Observation")
	require.Len(t, nodes, 1)
	name, _ := nodes[0].Properties.GetString(entities.PropName)
	assert.Equal(t, "public", name)
}

func TestSynchronizeAppliesSchemaMapping(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	_, err := f.dkm.CreateSchemaMapping(ctx, "local-to-global", sync.MappingEntity, sync.MappingRules{
		Labels:     map[string]string{"Incident": "RedFlag"},
		Properties: map[string]string{"title": "name"},
	})
	require.NoError(t, err)
	require.NoError(t, f.dkm.BindMapping(ctx, "local-to-global", "local", "global"))

	_, err = f.local.CreateNode(ctx, []string{"Incident"}, valueobjects.Properties{
		entities.PropID:        valueobjects.String("inc-1"),
		"title":                valueobjects.String("disk failure"),
		entities.PropTimestamp: valueobjects.Time(time.Now()),
	})
	require.NoError(t, err)

	result := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.Equal(t, 1, result.NodesSynced)

	nodes := f.globalNodes(t, "RedFlag")
	require.Len(t, nodes, 1)
	name, _ := nodes[0].Properties.GetString("name")
	assert.Equal(t, "disk failure", name)
	assert.Empty(t, f.globalNodes(t, "Incident"))
}

func TestSynchronizeMirrorsRelationships(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	a := f.addLocal(t, "Observation", "obs-1", "a", nil)
	b := f.addLocal(t, "Observation", "obs-2", "b", nil)
	_, err := f.local.CreateRelationship(ctx, a, b, entities.RelRelatedTo, valueobjects.NewProperties())
	require.NoError(t, err)

	result := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.Equal(t, 2, result.NodesSynced)
	assert.Equal(t, 1, result.RelationshipsSynced)

	// Resync does not duplicate edges
	again := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.Equal(t, 0, again.RelationshipsSynced)
}

func TestSynchronizeExcludesMetaNodes(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	// The fixture's meta nodes live in the local store already
	result := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.Equal(t, 0, result.NodesSynced)
	assert.Empty(t, f.globalNodes(t, entities.LabelManagedKG))
	assert.Empty(t, f.globalNodes(t, entities.LabelSyncRule))
}

func TestSynchronizeValidation(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	t.Run("unknown rule", func(t *testing.T) {
		result := f.dkm.Synchronize(ctx, "local", "global", "nope")
		assert.NotEmpty(t, result.Error)
		assert.Contains(t, f.sink.events, "dual_knowledge_manager/sync_error")
	})

	t.Run("unbound direction", func(t *testing.T) {
		_, err := f.dkm.CreateSyncRule(ctx, "oneway", sync.RuleUnidirectional, "")
		require.NoError(t, err)
		require.NoError(t, f.dkm.ApplySyncRule(ctx, "oneway", "local", "global"))

		forward := f.dkm.Synchronize(ctx, "local", "global", "oneway")
		assert.Empty(t, forward.Error)
		reverse := f.dkm.Synchronize(ctx, "global", "local", "oneway")
		assert.NotEmpty(t, reverse.Error)
	})

	t.Run("unregistered store", func(t *testing.T) {
		result := f.dkm.Synchronize(ctx, "local", "elsewhere", "bidi")
		assert.NotEmpty(t, result.Error)
	})
}

func TestManagedKGLifecycle(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	kg, err := f.dkm.GetKG("local")
	require.NoError(t, err)
	assert.Equal(t, sync.KGLocal, kg.Kind)

	// Recreating an existing name updates it in place
	updated, err := f.dkm.CreateKG(ctx, "local", sync.KGLocal, "agent graph")
	require.NoError(t, err)
	assert.Equal(t, "agent graph", updated.Description)
	kg, err = f.dkm.GetKG("local")
	require.NoError(t, err)
	assert.Equal(t, "agent graph", kg.Description)

	require.NoError(t, f.dkm.DeleteKG(ctx, "global"))
	_, err = f.dkm.GetKG("global")
	assert.Error(t, err)

	// Bindings referencing the deleted graph are gone
	result := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	assert.NotEmpty(t, result.Error)
}

func TestCreateConfigObjectsAreUpserts(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	rule, err := f.dkm.CreateSyncRule(ctx, "bidi", sync.RuleBidirectional, "revised description")
	require.NoError(t, err)
	assert.Equal(t, "revised description", rule.Description)

	mapping, err := f.dkm.CreateSchemaMapping(ctx, "m", sync.MappingEntity, sync.MappingRules{
		Labels: map[string]string{"A": "B"},
	})
	require.NoError(t, err)
	mapping, err = f.dkm.CreateSchemaMapping(ctx, "m", sync.MappingEntity, sync.MappingRules{
		Labels: map[string]string{"A": "C"},
	})
	require.NoError(t, err)
	assert.Equal(t, "C", mapping.Rules.Labels["A"])

	_, err = f.dkm.CreatePolicy(ctx, "sharing", sync.PolicySharing, nil)
	require.NoError(t, err)
	_, err = f.dkm.CreatePolicy(ctx, "sharing", sync.PolicySharing, nil)
	require.NoError(t, err)

	// Each name still maps to one meta node
	rules, err := f.local.FindNodes(ctx, ports.NodeFilter{Labels: []string{entities.LabelSyncRule}})
	require.NoError(t, err)
	ruleNames := 0
	for _, n := range rules {
		if name, _ := n.Properties.GetString(entities.PropName); name == "bidi" {
			ruleNames++
		}
	}
	assert.Equal(t, 1, ruleNames)
}

func TestApplySyncRuleRecordsTopology(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	kgNodes, err := f.local.FindNodes(ctx, ports.NodeFilter{Labels: []string{entities.LabelManagedKG}})
	require.NoError(t, err)
	byName := map[string]string{}
	for _, n := range kgNodes {
		name, _ := n.Properties.GetString(entities.PropName)
		byName[name] = n.ID
	}

	// Bidirectional rules record SYNCS_WITH both ways
	forward, err := f.local.FindRelationship(ctx, byName["local"], byName["global"], entities.RelSyncsWith)
	require.NoError(t, err)
	ruleName, _ := forward.Properties.GetString("rule")
	assert.Equal(t, "bidi", ruleName)
	_, err = f.local.FindRelationship(ctx, byName["global"], byName["local"], entities.RelSyncsWith)
	require.NoError(t, err)

	// The rule node points at both graphs it governs
	ruleNodes, err := f.local.FindNodes(ctx, ports.NodeFilter{Labels: []string{entities.LabelSyncRule}})
	require.NoError(t, err)
	require.Len(t, ruleNodes, 1)
	for _, kg := range []string{"local", "global"} {
		_, err = f.local.FindRelationship(ctx, ruleNodes[0].ID, byName[kg], entities.RelAppliesTo)
		require.NoError(t, err)
	}

	// Re-applying is a no-op, not a duplicate edge
	require.NoError(t, f.dkm.ApplySyncRule(ctx, "bidi", "local", "global"))
	rels, err := f.local.Relationships(ctx, byName["local"], ports.DirectionOutgoing, entities.RelSyncsWith)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestSynchronizeResolvesRuleFromTopology(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()
	f.addLocal(t, "Observation", "obs-1", "latency spike", nil)

	// An empty rule name resolves through the recorded SYNCS_WITH edge
	result := f.dkm.Synchronize(ctx, "local", "global", "")
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, result.NodesSynced)
	assert.Len(t, f.globalNodes(t, "Observation"), 1)
}

func TestSynchronizeWithoutTopologyFails(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	f.dkm.RegisterStore("third", inmemory.NewStore())
	_, err := f.dkm.CreateKG(ctx, "third", sync.KGGlobal, "")
	require.NoError(t, err)

	result := f.dkm.Synchronize(ctx, "local", "third", "")
	assert.NotEmpty(t, result.Error)
	assert.Contains(t, f.sink.events, "dual_knowledge_manager/sync_error")
}

func TestSynchronizeMirrorsEdgesToEarlierSyncedNodes(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	a := f.addLocal(t, "Observation", "obs-1", "a", nil)
	first := f.dkm.Synchronize(ctx, "local", "global", "bidi")
	require.Equal(t, 1, first.NodesSynced)

	// A later pass scoped to another label still mirrors the edge whose
	// far end crossed in the earlier pass.
	b, err := f.local.CreateNode(ctx, []string{"Incident"}, valueobjects.Properties{
		entities.PropID:   valueobjects.String("inc-1"),
		entities.PropName: valueobjects.String("b"),
	})
	require.NoError(t, err)
	_, err = f.local.CreateRelationship(ctx, b, a, entities.RelRelatedTo, valueobjects.NewProperties())
	require.NoError(t, err)

	second := f.dkm.SynchronizeWith(ctx, "local", "global", "bidi", services.SyncOptions{
		Labels: []string{"Incident"},
	})
	assert.Equal(t, 1, second.NodesSynced)
	assert.Equal(t, 1, second.RelationshipsSynced)

	incidents := f.globalNodes(t, "Incident")
	observations := f.globalNodes(t, "Observation")
	require.Len(t, incidents, 1)
	require.Len(t, observations, 1)
	_, err = f.global.FindRelationship(ctx, incidents[0].ID, observations[0].ID, entities.RelRelatedTo)
	require.NoError(t, err)
}

func TestCheckPolicyCompliance(t *testing.T) {
	f := newDKMFixture(t)
	ctx := context.Background()

	assert.True(t, f.dkm.CheckPolicyCompliance(valueobjects.Properties{
		entities.PropSensitive: valueobjects.Bool(true),
	}, "agent-a"))

	_, err := f.dkm.CreatePolicy(ctx, "sharing", sync.PolicySharing, nil)
	require.NoError(t, err)
	assert.False(t, f.dkm.CheckPolicyCompliance(valueobjects.Properties{
		entities.PropSensitive: valueobjects.Bool(true),
	}, "agent-a"))
	assert.True(t, f.dkm.CheckPolicyCompliance(valueobjects.Properties{}, "agent-a"))
}
