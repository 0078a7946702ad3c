package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fabric/application/services"
	"fabric/domain/config"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
)

func newSynchronizerFixture(t *testing.T) (*services.KnowledgeSynchronizer, *dkmFixture) {
	t.Helper()
	f := newDKMFixture(t)
	cfg := config.DefaultDomainConfig()
	cfg.SchedulerTick = 10 * time.Millisecond
	ks := services.NewKnowledgeSynchronizer(f.dkm, cfg, "local", "global", "bidi", zap.NewNop())
	return ks, f
}

func TestSyncAllUpdatesStatus(t *testing.T) {
	ks, f := newSynchronizerFixture(t)
	ctx := context.Background()
	f.addLocal(t, "Observation", "obs-1", "latency spike", nil)

	before := time.Now()
	results := ks.SyncAll(ctx)
	require.Contains(t, results, "to_global")
	require.Contains(t, results, "from_global")
	assert.Equal(t, 1, results["to_global"].NodesSynced)
	assert.Empty(t, results["from_global"].Error)

	status := ks.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "local", status.LocalKG)
	assert.Equal(t, "global", status.GlobalKG)
	assert.Equal(t, "bidi", status.Rule)
	assert.False(t, status.LastFullSync.Before(before))
	assert.Equal(t, status.LastFullSync, status.LastPrioritySync)
	assert.Equal(t, status.LastFullSync.Add(time.Duration(status.IntervalMinutes)*time.Minute), status.NextFullSync)
}

func TestSyncPriorityNodesFiltersByLabel(t *testing.T) {
	ks, f := newSynchronizerFixture(t)
	ctx := context.Background()

	f.addLocal(t, entities.LabelRedFlag, "flag-1", "anomaly", valueobjects.Properties{
		entities.PropTimestamp: valueobjects.Time(time.Now()),
	})
	f.addLocal(t, "Observation", "obs-1", "latency spike", nil)

	results := ks.SyncPriorityNodes(ctx)
	assert.Equal(t, 1, results["to_global"].NodesSynced)

	assert.Len(t, f.globalNodes(t, entities.LabelRedFlag), 1)
	assert.Empty(t, f.globalNodes(t, "Observation"))

	status := ks.Status()
	assert.True(t, status.LastFullSync.IsZero())
	assert.False(t, status.LastPrioritySync.IsZero())
}

func TestSyncSpecificNodes(t *testing.T) {
	ks, f := newSynchronizerFixture(t)
	ctx := context.Background()

	f.addLocal(t, entities.LabelRedFlag, "flag-1", "anomaly", nil)
	f.addLocal(t, "Observation", "obs-1", "latency spike", nil)

	t.Run("empty type list is rejected", func(t *testing.T) {
		_, err := ks.SyncSpecificNodes(ctx, nil)
		assert.Error(t, err)
	})

	t.Run("only nodes of the named types cross", func(t *testing.T) {
		result, err := ks.SyncSpecificNodes(ctx, []string{entities.LabelRedFlag})
		require.NoError(t, err)
		assert.Equal(t, 1, result.NodesSynced)

		nodes := f.globalNodes(t, entities.LabelRedFlag)
		require.Len(t, nodes, 1)
		name, _ := nodes[0].Properties.GetString(entities.PropName)
		assert.Equal(t, "anomaly", name)
		assert.Empty(t, f.globalNodes(t, "Observation"))
	})

	t.Run("unknown types match nothing", func(t *testing.T) {
		result, err := ks.SyncSpecificNodes(ctx, []string{"Nonexistent"})
		require.NoError(t, err)
		assert.Equal(t, 0, result.NodesSynced)
		assert.Empty(t, result.Error)
	})
}

func TestUpdateSchedule(t *testing.T) {
	ks, _ := newSynchronizerFixture(t)

	assert.Error(t, ks.UpdateSchedule(0, nil))
	assert.Error(t, ks.UpdateSchedule(-5, nil))

	require.NoError(t, ks.UpdateSchedule(30, nil))
	status := ks.Status()
	assert.Equal(t, 30, status.IntervalMinutes)
	assert.Equal(t, 10, status.PriorityIntervalMinutes)
	// A nil priority list keeps the configured defaults
	assert.Equal(t, config.DefaultDomainConfig().PriorityNodeTypes, status.PriorityNodeTypes)

	require.NoError(t, ks.UpdateSchedule(30, []string{"Observation"}))
	assert.Equal(t, []string{"Observation"}, ks.Status().PriorityNodeTypes)

	// Short full intervals floor the priority cadence at one minute
	require.NoError(t, ks.UpdateSchedule(2, nil))
	assert.Equal(t, 1, ks.Status().PriorityIntervalMinutes)
}

func TestSynchronizerLifecycle(t *testing.T) {
	ks, _ := newSynchronizerFixture(t)
	ctx := context.Background()

	started, err := ks.Start(ctx)
	require.NoError(t, err)
	assert.True(t, started)
	started, err = ks.Start(ctx)
	require.NoError(t, err)
	assert.False(t, started)
	assert.True(t, ks.Status().Running)

	stopped, err := ks.Stop(ctx)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.False(t, ks.Status().Running)
	stopped, err = ks.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestForceSyncNow(t *testing.T) {
	ks, f := newSynchronizerFixture(t)
	ctx := context.Background()
	f.addLocal(t, entities.LabelRedFlag, "flag-1", "anomaly", nil)
	f.addLocal(t, "Observation", "obs-1", "latency spike", nil)

	t.Run("no types runs a full pass", func(t *testing.T) {
		results := ks.ForceSyncNow(ctx)
		assert.Equal(t, 2, results["to_global"].NodesSynced)
		assert.False(t, ks.Status().LastFullSync.IsZero())
	})

	t.Run("named types narrow the pass", func(t *testing.T) {
		f.addLocal(t, entities.LabelRedFlag, "flag-2", "second anomaly", nil)
		f.addLocal(t, "Observation", "obs-2", "disk pressure", nil)

		// Both red flags are in scope; the one already in the global
		// graph matches by key instead of creating a duplicate.
		results := ks.ForceSyncNow(ctx, entities.LabelRedFlag)
		assert.Equal(t, 2, results["to_global"].NodesSynced)
		assert.Len(t, f.globalNodes(t, entities.LabelRedFlag), 2)
		assert.Len(t, f.globalNodes(t, "Observation"), 1)
	})
}
