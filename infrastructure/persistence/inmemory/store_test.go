package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabric/application/ports"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

func TestNodeCRUD(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, err := store.CreateNode(ctx, []string{"Service"}, valueobjects.Properties{
		"name": valueobjects.String("billing"),
	})
	require.NoError(t, err)

	node, err := store.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Service"}, node.Labels)

	require.NoError(t, store.UpdateNode(ctx, id, valueobjects.Properties{
		"tier": valueobjects.Int(1),
	}))
	node, err = store.GetNode(ctx, id)
	require.NoError(t, err)
	tier, _ := node.Properties.GetInt("tier")
	assert.Equal(t, int64(1), tier)

	require.NoError(t, store.DeleteNode(ctx, id))
	_, err = store.GetNode(ctx, id)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestCreateNodeValidation(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.CreateNode(ctx, nil, valueobjects.NewProperties())
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestReturnedNodesAreCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, err := store.CreateNode(ctx, []string{"Service"}, valueobjects.Properties{
		"name": valueobjects.String("billing"),
	})
	require.NoError(t, err)

	node, err := store.GetNode(ctx, id)
	require.NoError(t, err)
	node.Properties["name"] = valueobjects.String("mutated")

	fresh, err := store.GetNode(ctx, id)
	require.NoError(t, err)
	name, _ := fresh.Properties.GetString("name")
	assert.Equal(t, "billing", name)
}

func TestPreWriteHookRejectsCreates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	store.SetPreWriteHook(func(label string, props valueobjects.Properties) error {
		if _, ok := props["name"]; !ok {
			return pkgerrors.NewValidationError("name is required for " + label)
		}
		return nil
	})

	_, err := store.CreateNode(ctx, []string{"Service"}, valueobjects.NewProperties())
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = store.CreateNode(ctx, []string{"Service"}, valueobjects.Properties{
		"name": valueobjects.String("billing"),
	})
	assert.NoError(t, err)
}

func TestFindNodesFilters(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	mkEvent := func(eventType string, at time.Time) string {
		id, err := store.CreateNode(ctx, []string{entities.LabelEvent}, valueobjects.Properties{
			entities.PropType:      valueobjects.String(eventType),
			entities.PropTimestamp: valueobjects.Time(at),
			"note":                 valueobjects.String("event of type " + eventType),
		})
		require.NoError(t, err)
		return id
	}
	login := mkEvent("login", base)
	alert := mkEvent("alert", base.Add(time.Minute))
	_, err := store.CreateNode(ctx, []string{"Service"}, valueobjects.Properties{
		"name": valueobjects.String("billing"),
	})
	require.NoError(t, err)

	t.Run("by label", func(t *testing.T) {
		nodes, err := store.FindNodes(ctx, ports.NodeFilter{Labels: []string{entities.LabelEvent}})
		require.NoError(t, err)
		assert.Len(t, nodes, 2)
	})

	t.Run("by equals", func(t *testing.T) {
		nodes, err := store.FindNodes(ctx, ports.NodeFilter{
			Equals: valueobjects.Properties{entities.PropType: valueobjects.String("login")},
		})
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, login, nodes[0].ID)
	})

	t.Run("by substring", func(t *testing.T) {
		nodes, err := store.FindNodes(ctx, ports.NodeFilter{
			Contains: map[string]string{"note": "type alert"},
		})
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, alert, nodes[0].ID)
	})

	t.Run("time window excludes the upper bound", func(t *testing.T) {
		after := base
		before := base.Add(time.Minute)
		nodes, err := store.FindNodes(ctx, ports.NodeFilter{
			Labels: []string{entities.LabelEvent},
			After:  &after,
			Before: &before,
		})
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, login, nodes[0].ID)
	})

	t.Run("order and limit", func(t *testing.T) {
		nodes, err := store.FindNodes(ctx, ports.NodeFilter{
			Labels:  []string{entities.LabelEvent},
			OrderBy: entities.PropTimestamp,
			Desc:    true,
			Limit:   1,
		})
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, alert, nodes[0].ID)
	})
}

func TestRelationships(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	a, err := store.CreateNode(ctx, []string{"Service"}, valueobjects.Properties{"name": valueobjects.String("a")})
	require.NoError(t, err)
	b, err := store.CreateNode(ctx, []string{"Service"}, valueobjects.Properties{"name": valueobjects.String("b")})
	require.NoError(t, err)

	relID, err := store.CreateRelationship(ctx, a, b, entities.RelRelatedTo, valueobjects.Properties{
		"weight": valueobjects.Float(0.5),
	})
	require.NoError(t, err)

	t.Run("lookup by endpoints and type", func(t *testing.T) {
		rel, err := store.FindRelationship(ctx, a, b, entities.RelRelatedTo)
		require.NoError(t, err)
		assert.Equal(t, relID, rel.ID)

		_, err = store.FindRelationship(ctx, b, a, entities.RelRelatedTo)
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("directional traversal", func(t *testing.T) {
		out, err := store.Relationships(ctx, a, ports.DirectionOutgoing)
		require.NoError(t, err)
		assert.Len(t, out, 1)

		in, err := store.Relationships(ctx, a, ports.DirectionIncoming)
		require.NoError(t, err)
		assert.Empty(t, in)

		both, err := store.Relationships(ctx, b, ports.DirectionBoth)
		require.NoError(t, err)
		assert.Len(t, both, 1)

		typed, err := store.Relationships(ctx, a, ports.DirectionOutgoing, entities.RelAssociatedWith)
		require.NoError(t, err)
		assert.Empty(t, typed)
	})

	t.Run("update merges properties", func(t *testing.T) {
		require.NoError(t, store.UpdateRelationship(ctx, relID, valueobjects.Properties{
			"weight": valueobjects.Float(0.9),
		}))
		rel, err := store.FindRelationship(ctx, a, b, entities.RelRelatedTo)
		require.NoError(t, err)
		weight, _ := rel.Properties.GetFloat("weight")
		assert.Equal(t, 0.9, weight)
	})

	t.Run("dangling endpoints are rejected", func(t *testing.T) {
		_, err := store.CreateRelationship(ctx, a, "missing", entities.RelRelatedTo, valueobjects.NewProperties())
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("deleting a node detaches its edges", func(t *testing.T) {
		require.NoError(t, store.DeleteNode(ctx, b))
		out, err := store.Relationships(ctx, a, ports.DirectionOutgoing)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestCloseMarksStoreUnavailable(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	assert.True(t, store.VerifyConnectivity(ctx))
	require.NoError(t, store.Close(ctx))
	assert.False(t, store.VerifyConnectivity(ctx))

	_, err := store.CreateNode(ctx, []string{"Service"}, valueobjects.NewProperties())
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
}
