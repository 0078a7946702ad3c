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
	"fabric/domain/config"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	"fabric/infrastructure/persistence/inmemory"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) LogSystemEvent(ctx context.Context, component, eventType string, details map[string]valueobjects.Value, severity string) (string, error) {
	r.events = append(r.events, component+"/"+eventType)
	return "evt", nil
}

func newMemoryFixture(t *testing.T) (*services.AssociativeMemory, ports.GraphStore, *recordingSink) {
	t.Helper()
	store := inmemory.NewStore()
	sink := &recordingSink{}
	memory := services.NewAssociativeMemory(store, sink, config.DefaultDomainConfig(), zap.NewNop())
	return memory, store, sink
}

func TestMemoryStoreAndRecall(t *testing.T) {
	memory, _, _ := newMemoryFixture(t)
	ctx := context.Background()

	id, err := memory.Store(ctx,
		map[string]valueobjects.Value{"fact": valueobjects.String("backups run nightly")},
		map[string]valueobjects.Value{"source": valueobjects.String("runbook")},
		"observation", 0.8, nil)
	require.NoError(t, err)
	assert.Contains(t, id, "mem_")

	t.Run("recall by id records the access", func(t *testing.T) {
		records, err := memory.Recall(ctx, services.RecallQuery{MemoryID: id})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, int64(1), records[0].AccessCount)
		assert.Equal(t, 0.8, records[0].Importance)

		records, err = memory.Recall(ctx, services.RecallQuery{MemoryID: id})
		require.NoError(t, err)
		assert.Equal(t, int64(2), records[0].AccessCount)
	})

	t.Run("recall by type and content substring", func(t *testing.T) {
		_, err := memory.Store(ctx,
			map[string]valueobjects.Value{"fact": valueobjects.String("deploys happen on fridays")},
			nil, "observation", 0.5, nil)
		require.NoError(t, err)

		records, err := memory.Recall(ctx, services.RecallQuery{
			MemoryType: "observation",
			Content:    map[string]string{"fact": "backups"},
		})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "backups run nightly", records[0].Content["fact"].StringOr(""))
	})

	t.Run("recall of unknown id fails", func(t *testing.T) {
		_, err := memory.Recall(ctx, services.RecallQuery{MemoryID: "mem_missing"})
		assert.Error(t, err)
	})
}

func TestMemoryImportanceValidation(t *testing.T) {
	memory, _, _ := newMemoryFixture(t)
	ctx := context.Background()

	_, err := memory.Store(ctx, nil, nil, "observation", 1.5, nil)
	assert.Error(t, err)

	// Negative importance selects the default
	id, err := memory.Store(ctx, nil, nil, "observation", -1, nil)
	require.NoError(t, err)
	records, err := memory.Recall(ctx, services.RecallQuery{MemoryID: id})
	require.NoError(t, err)
	assert.Equal(t, 0.5, records[0].Importance)
}

func TestMemoryAssociationSymmetry(t *testing.T) {
	memory, store, _ := newMemoryFixture(t)
	ctx := context.Background()

	a, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("a")}, nil, "observation", 0.9, nil)
	require.NoError(t, err)
	b, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("b")}, nil, "observation", 0.4, nil)
	require.NoError(t, err)

	require.NoError(t, memory.Associate(ctx, a, b, 0.6))

	fromA, err := memory.RecallAssociations(ctx, a, 0)
	require.NoError(t, err)
	require.Len(t, fromA, 1)
	assert.Equal(t, b, fromA[0].ID)

	fromB, err := memory.RecallAssociations(ctx, b, 0)
	require.NoError(t, err)
	require.Len(t, fromB, 1)
	assert.Equal(t, a, fromB[0].ID)

	edge := associationEdge(t, store, a, b)
	strength, ok := edge.Properties.GetFloat("strength")
	require.True(t, ok)
	assert.Equal(t, 0.6, strength)

	// Re-associating updates the strength without a duplicate edge
	require.NoError(t, memory.Associate(ctx, b, a, 0.9))
	fromA, err = memory.RecallAssociations(ctx, a, 0)
	require.NoError(t, err)
	assert.Len(t, fromA, 1)
	edge = associationEdge(t, store, a, b)
	strength, ok = edge.Properties.GetFloat("strength")
	require.True(t, ok)
	assert.Equal(t, 0.9, strength)

	assert.Error(t, memory.Associate(ctx, a, a, 0.5))
	assert.Error(t, memory.Associate(ctx, a, b, 1.5))
}

// associationEdge finds the single ASSOCIATED_WITH edge between two
// memories, whichever direction it was stored in.
func associationEdge(t *testing.T, store ports.GraphStore, memA, memB string) *entities.Relationship {
	t.Helper()
	ctx := context.Background()
	nodeA := memoryNode(t, store, memA)
	nodeB := memoryNode(t, store, memB)
	rel, err := store.FindRelationship(ctx, nodeA.ID, nodeB.ID, entities.RelAssociatedWith)
	if err != nil {
		rel, err = store.FindRelationship(ctx, nodeB.ID, nodeA.ID, entities.RelAssociatedWith)
	}
	require.NoError(t, err)
	return rel
}

func memoryNode(t *testing.T, store ports.GraphStore, memoryID string) *entities.Node {
	t.Helper()
	nodes, err := store.FindNodes(context.Background(), ports.NodeFilter{
		Labels: []string{entities.LabelMemory},
		Equals: valueobjects.Properties{entities.PropID: valueobjects.String(memoryID)},
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	return nodes[0]
}

func TestMemoryDecayPrunesBelowThreshold(t *testing.T) {
	memory, store, sink := newMemoryFixture(t)
	ctx := context.Background()

	stale, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("stale")}, nil, "observation", 0.8, nil)
	require.NoError(t, err)
	fresh, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("fresh")}, nil, "observation", 0.9, nil)
	require.NoError(t, err)

	// Age the first record two days
	require.NoError(t, store.UpdateNode(ctx, memoryNode(t, store, stale).ID, valueobjects.Properties{
		"last_accessed": valueobjects.Time(time.Now().Add(-48 * time.Hour)),
	}))

	// The aged record decays below the threshold and is pruned in the
	// same pass; the fresh one barely moves and is not written back.
	updated, pruned, err := memory.Decay(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 1, pruned)
	assert.Contains(t, sink.events, "associative_memory/memories_pruned")

	_, err = memory.Recall(ctx, services.RecallQuery{MemoryID: stale})
	assert.Error(t, err)
	still, err := memory.Recall(ctx, services.RecallQuery{MemoryID: fresh})
	require.NoError(t, err)
	assert.Len(t, still, 1)
}

func TestMemoryDecayCutoffSkipsRecentRecords(t *testing.T) {
	memory, store, _ := newMemoryFixture(t)
	ctx := context.Background()

	stale, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("stale")}, nil, "observation", 0.8, nil)
	require.NoError(t, err)
	require.NoError(t, store.UpdateNode(ctx, memoryNode(t, store, stale).ID, valueobjects.Properties{
		"last_accessed": valueobjects.Time(time.Now().Add(-48 * time.Hour)),
	}))

	// Cutoff excludes everything stored in the last week, so even the
	// aged record is untouched.
	updated, pruned, err := memory.Decay(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 0, pruned)

	records, err := memory.Recall(ctx, services.RecallQuery{MemoryID: stale})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPruneMemoryRemovesRecordAndAssociations(t *testing.T) {
	memory, _, sink := newMemoryFixture(t)
	ctx := context.Background()

	a, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("a")}, nil, "observation", 0.9, nil)
	require.NoError(t, err)
	b, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("b")}, nil, "observation", 0.7, []string{a})
	require.NoError(t, err)

	removed, err := memory.PruneMemory(ctx, a)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Contains(t, sink.events, "associative_memory/memories_pruned")

	_, err = memory.Recall(ctx, services.RecallQuery{MemoryID: a})
	assert.Error(t, err)

	// The partner no longer lists the pruned memory
	fromB, err := memory.RecallAssociations(ctx, b, 0)
	require.NoError(t, err)
	assert.Empty(t, fromB)

	removed, err = memory.PruneMemory(ctx, "mem_missing")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryUpdateAndStats(t *testing.T) {
	memory, _, _ := newMemoryFixture(t)
	ctx := context.Background()

	a, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("a")}, nil, "observation", 0.6, nil)
	require.NoError(t, err)
	b, err := memory.Store(ctx, nil, nil, "insight", 0.4, []string{a})
	require.NoError(t, err)

	newImportance := 0.9
	require.NoError(t, memory.UpdateMemory(ctx, b, services.MemoryUpdate{
		Content:    map[string]valueobjects.Value{"summary": valueobjects.String("updated")},
		Importance: &newImportance,
	}))
	records, err := memory.Recall(ctx, services.RecallQuery{MemoryID: b})
	require.NoError(t, err)
	assert.Equal(t, 0.9, records[0].Importance)
	assert.Equal(t, "updated", records[0].Content["summary"].StringOr(""))

	stats, err := memory.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1, stats.CountByType["observation"])
	assert.Equal(t, 1, stats.CountByType["insight"])
	assert.Equal(t, 1, stats.AssociationCount)
	assert.Greater(t, stats.AverageImportance, 0.0)
}

func TestMemoryAssociationDepth(t *testing.T) {
	memory, _, _ := newMemoryFixture(t)
	ctx := context.Background()

	a, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("a")}, nil, "observation", 0.9, nil)
	require.NoError(t, err)
	b, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("b")}, nil, "observation", 0.5, nil)
	require.NoError(t, err)
	c, err := memory.Store(ctx, map[string]valueobjects.Value{"n": valueobjects.String("c")}, nil, "observation", 0.7, nil)
	require.NoError(t, err)
	require.NoError(t, memory.Associate(ctx, a, b, 0.5))
	require.NoError(t, memory.Associate(ctx, b, c, 0.5))

	oneHop, err := memory.RecallAssociations(ctx, a, 1)
	require.NoError(t, err)
	require.Len(t, oneHop, 1)
	assert.Equal(t, b, oneHop[0].ID)

	// Distance outranks importance: b (one hop, 0.5) before c (two hops, 0.7)
	twoHops, err := memory.RecallAssociations(ctx, a, 2)
	require.NoError(t, err)
	require.Len(t, twoHops, 2)
	assert.Equal(t, b, twoHops[0].ID)
	assert.Equal(t, c, twoHops[1].ID)
}
