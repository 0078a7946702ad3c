// Package di wires the fabric's components together. Wiring is generated
// by google/wire; see wire.go for the injector definition.
package di

import (
	"context"

	"go.uber.org/zap"

	"fabric/application/services"
	domaincfg "fabric/domain/config"
	"fabric/domain/sync"
	"fabric/infrastructure/config"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	DomainConfig *domaincfg.DomainConfig
	Logger       *zap.Logger
	LocalStore   LocalStore
	GlobalStore  GlobalStore
	EventLog     *services.EventLog
	Memory       *services.AssociativeMemory
	Processor    *services.EventProcessor
	DKM          *services.DualKnowledgeManager
	Synchronizer *services.KnowledgeSynchronizer
	Fabric       *services.KnowledgeFabric
}

// Bootstrap registers the configured graph pair and the default sync rule.
// Creation is idempotent, so rerunning on an already configured fabric is
// safe. Without a global graph only the local KG is registered.
func (c *Container) Bootstrap(ctx context.Context) error {
	if _, err := c.DKM.CreateKG(ctx, c.Config.LocalKGName, sync.KGLocal, "agent-local knowledge graph"); err != nil {
		return err
	}
	if c.GlobalStore == nil {
		return nil
	}
	if _, err := c.DKM.CreateKG(ctx, c.Config.GlobalKGName, sync.KGGlobal, "shared global knowledge graph"); err != nil {
		return err
	}
	if _, err := c.DKM.CreateSyncRule(ctx, c.Config.SyncRuleName, sync.RuleBidirectional, "default local/global synchronization"); err != nil {
		return err
	}
	return c.DKM.ApplySyncRule(ctx, c.Config.SyncRuleName, c.Config.LocalKGName, c.Config.GlobalKGName)
}

// Shutdown stops the fabric and releases store connections
func (c *Container) Shutdown(ctx context.Context) error {
	_, err := c.Fabric.Stop(ctx)
	if closeErr := c.LocalStore.Close(ctx); err == nil {
		err = closeErr
	}
	if c.GlobalStore != nil {
		if closeErr := c.GlobalStore.Close(ctx); err == nil {
			err = closeErr
		}
	}
	_ = c.Logger.Sync()
	return err
}
