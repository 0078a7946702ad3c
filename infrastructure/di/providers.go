package di

import (
	"context"

	"go.uber.org/zap"

	"fabric/application/ports"
	"fabric/application/services"
	domaincfg "fabric/domain/config"
	"fabric/domain/core/validators"
	"fabric/infrastructure/config"
	"fabric/infrastructure/persistence/breaker"
	"fabric/infrastructure/persistence/inmemory"
	"fabric/infrastructure/persistence/neo4j"
	pkgerrors "fabric/pkg/errors"
)

// LocalStore and GlobalStore give the two graph stores distinct types so
// the injector can tell them apart.
type LocalStore ports.GraphStore

type GlobalStore ports.GraphStore

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideDomainConfig applies environment overrides to the domain defaults
func ProvideDomainConfig(cfg *config.Config) *domaincfg.DomainConfig {
	return cfg.Domain()
}

// ProvideSchemaRegistry creates the soft-schema registry with the fabric's
// built-in entity specs.
func ProvideSchemaRegistry() *validators.SchemaRegistry {
	return validators.NewSchemaRegistry()
}

// ProvideLocalStore opens the agent's own graph store
func ProvideLocalStore(ctx context.Context, cfg *config.Config, registry *validators.SchemaRegistry, logger *zap.Logger) (LocalStore, error) {
	store, err := openStore(ctx, cfg, cfg.LocalGraph, "local-graph", logger)
	if err != nil {
		return nil, err
	}
	store.SetPreWriteHook(registry.Hook())
	return store, nil
}

// ProvideGlobalStore opens the shared graph store. A nil store means the
// fabric runs local-only; everything downstream of the global graph is
// skipped.
func ProvideGlobalStore(ctx context.Context, cfg *config.Config, registry *validators.SchemaRegistry, logger *zap.Logger) (GlobalStore, error) {
	if !cfg.HasGlobalGraph() {
		logger.Info("no global graph configured, running local-only")
		return nil, nil
	}
	store, err := openStore(ctx, cfg, cfg.GlobalGraph, "global-graph", logger)
	if err != nil {
		return nil, err
	}
	store.SetPreWriteHook(registry.Hook())
	return store, nil
}

func openStore(ctx context.Context, cfg *config.Config, endpoint config.GraphEndpoint, name string, logger *zap.Logger) (ports.GraphStore, error) {
	switch cfg.Backend {
	case "memory":
		return inmemory.NewStore(), nil
	case "neo4j":
		inner, err := neo4j.NewStore(ctx, endpoint.URI, endpoint.Username, endpoint.Password, endpoint.Database, logger)
		if err != nil {
			return nil, err
		}
		return breaker.Wrap(inner, breaker.DefaultConfig(name), logger), nil
	default:
		return nil, pkgerrors.NewValidationError("unknown store backend: " + cfg.Backend)
	}
}

// ProvideEventLog creates the event log over the local store
func ProvideEventLog(store LocalStore, dcfg *domaincfg.DomainConfig, logger *zap.Logger) *services.EventLog {
	return services.NewEventLog(store, dcfg, logger)
}

// ProvideEventSink exposes the event log as the shared system-event sink
func ProvideEventSink(events *services.EventLog) ports.EventSink {
	return events
}

// ProvideAssociativeMemory creates the memory layer over the local store
func ProvideAssociativeMemory(store LocalStore, sink ports.EventSink, dcfg *domaincfg.DomainConfig, logger *zap.Logger) *services.AssociativeMemory {
	return services.NewAssociativeMemory(store, sink, dcfg, logger)
}

// ProvideEventProcessor creates the worker-pool event processor and
// mirrors processed events into associative memory.
func ProvideEventProcessor(events *services.EventLog, memory *services.AssociativeMemory, dcfg *domaincfg.DomainConfig, logger *zap.Logger) (*services.EventProcessor, error) {
	processor, err := services.NewEventProcessor(events, dcfg, logger)
	if err != nil {
		return nil, err
	}
	processor.AttachMemory(memory)
	return processor, nil
}

// ProvideDualKnowledgeManager creates the sync manager with both stores
// registered under their configured graph names. Meta configuration nodes
// live in the local store.
func ProvideDualKnowledgeManager(local LocalStore, global GlobalStore, sink ports.EventSink, cfg *config.Config, logger *zap.Logger) *services.DualKnowledgeManager {
	dkm := services.NewDualKnowledgeManager(local, sink, cfg.AgentID, logger)
	dkm.RegisterStore(cfg.LocalKGName, local)
	if global != nil {
		dkm.RegisterStore(cfg.GlobalKGName, global)
	}
	return dkm
}

// ProvideSynchronizer creates the scheduler for the configured graph pair,
// or nil when no global graph is configured.
func ProvideSynchronizer(dkm *services.DualKnowledgeManager, global GlobalStore, dcfg *domaincfg.DomainConfig, cfg *config.Config, logger *zap.Logger) *services.KnowledgeSynchronizer {
	if global == nil {
		return nil
	}
	return services.NewKnowledgeSynchronizer(dkm, dcfg, cfg.LocalKGName, cfg.GlobalKGName, cfg.SyncRuleName, logger)
}

// ProvideKnowledgeFabric assembles the facade
func ProvideKnowledgeFabric(
	cfg *config.Config,
	local LocalStore,
	global GlobalStore,
	events *services.EventLog,
	memory *services.AssociativeMemory,
	processor *services.EventProcessor,
	dkm *services.DualKnowledgeManager,
	synchronizer *services.KnowledgeSynchronizer,
	logger *zap.Logger,
) *services.KnowledgeFabric {
	return services.NewKnowledgeFabric(cfg.AgentID, local, global, events, memory, processor, dkm, synchronizer, logger)
}
