//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/ecscore/internal/core/ecs/config"
	"github.com/zeusync/ecscore/internal/core/ecs/entity"
)

func InitializeManager(cfg *config.Config) (*entity.Manager, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
