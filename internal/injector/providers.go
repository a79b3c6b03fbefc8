package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/ecs/config"
	"github.com/zeusync/ecscore/internal/core/ecs/entity"
	"github.com/zeusync/ecscore/internal/core/ecs/events"
	"github.com/zeusync/ecscore/internal/core/ecs/template"
	"github.com/zeusync/ecscore/internal/core/events/bus"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// ProviderSet builds a ready entity manager from a config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideEventsDB,
	ProvideBus,
	ProvideTemplateDB,
	ProvideManager,
)

func ProvideLogger(cfg *config.Config) log.Log {
	logger := log.Provide()
	logger.SetLevel(cfg.LogLevel())
	return logger
}

// ProvideRegistry registers the built-in types and every component authored
// in the config.
func ProvideRegistry(logger log.Log, cfg *config.Config) (*component.Registry, error) {
	b, err := cfg.Builder()
	if err != nil {
		return nil, err
	}
	reg := component.NewRegistry(logger, cfg.Registry.Capacity)
	if err := reg.Initialize(b); err != nil {
		return nil, err
	}
	return reg, nil
}

func ProvideEventsDB(logger log.Log, cfg *config.Config) (*events.DB, error) {
	fallback, err := cfg.SchemelessFallback()
	if err != nil {
		return nil, err
	}
	db := events.NewDB(logger)
	db.SetSchemelessFallback(fallback)
	db.Validate()
	return db, nil
}

// ProvideBus attaches a logging observer when the config asks for delivery
// metrics.
func ProvideBus(logger log.Log, cfg *config.Config) bus.EventBus {
	b := bus.New()
	if cfg.Events.Observe {
		b.AddObserver(bus.NewLogObserver(logger))
	}
	return b
}

func ProvideTemplateDB(logger log.Log, cfg *config.Config) (*template.DB, error) {
	db := template.NewDB(logger)
	if err := db.AddAll(cfg.Templates); err != nil {
		return nil, err
	}
	return db, nil
}

func ProvideManager(
	logger log.Log,
	registry *component.Registry,
	eventsDB *events.DB,
	eventBus bus.EventBus,
	templateDB *template.DB,
	cfg *config.Config,
) *entity.Manager {
	return entity.New(logger, registry, eventsDB, eventBus, templateDB, cfg.ManagerOptions())
}
