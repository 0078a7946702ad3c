//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"fabric/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideDomainConfig,
	ProvideSchemaRegistry,
	ProvideLocalStore,
	ProvideGlobalStore,
	ProvideEventLog,
	ProvideEventSink,
	ProvideAssociativeMemory,
	ProvideEventProcessor,
	ProvideDualKnowledgeManager,
	ProvideSynchronizer,
	ProvideKnowledgeFabric,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
