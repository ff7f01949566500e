package app

import (
	"fmt"

	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/server"

	"github.com/eventstack/maestro/modules/api"
	"github.com/eventstack/maestro/modules/dispatcher"
	"github.com/eventstack/maestro/modules/gateway"
	"github.com/eventstack/maestro/modules/supervisor"
	"github.com/eventstack/maestro/objstore"
	"github.com/eventstack/maestro/pkg/secrets"
	"github.com/eventstack/maestro/pkg/util/log"
)

// The modules that make up the orchestrator.
const (
	Server     string = "server"
	Store      string = "store"
	Resolver   string = "resolver"
	Registry   string = "registry"
	Dispatcher string = "dispatcher"
	API        string = "api"
	All        string = "all"
)

func (t *App) initServer() (services.Service, error) {
	t.cfg.Server.MetricsNamespace = metricsNamespace
	t.cfg.Server.ExcludeRequestInLog = true

	server.DisableSignalHandling(&t.cfg.Server)

	srv, err := server.New(t.cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	servicesToWaitFor := func() []services.Service {
		svs := []services.Service(nil)
		for m, s := range t.serviceMap {
			if m != Server {
				svs = append(svs, s)
			}
		}
		return svs
	}

	t.Server = srv
	return server.NewServerService(srv, servicesToWaitFor), nil
}

func (t *App) initStore() (services.Service, error) {
	t.store = objstore.NewStore(t.cfg.Storage, log.Logger)
	return services.NewIdleService(nil, nil), nil
}

func (t *App) initResolver() (services.Service, error) {
	resolver, err := secrets.NewResolver(t.cfg.Secrets, log.Logger)
	if err != nil {
		return nil, err
	}
	t.resolver = resolver
	return services.NewIdleService(nil, nil), nil
}

func (t *App) initRegistry() (services.Service, error) {
	t.registry = gateway.NewRegistry(log.Logger)
	return services.NewIdleService(nil, nil), nil
}

func (t *App) initDispatcher() (services.Service, error) {
	deps := supervisor.Deps{
		Store:     t.store,
		Resolver:  t.resolver,
		Registry:  t.registry,
		WorkerCfg: t.cfg.Worker,
		ExecCfg:   t.cfg.Executor,
		Slot:      make(chan struct{}, 1),
		Logger:    log.Logger,
	}

	d, err := dispatcher.New(t.cfg.Dispatcher, deps, log.Logger)
	if err != nil {
		return nil, err
	}
	t.dispatcher = d
	return d, nil
}

func (t *App) initAPI() (services.Service, error) {
	t.gatewayClient = gateway.NewClient(t.cfg.Gateway, t.dispatcher, log.Logger)
	t.api = api.New(t.gatewayClient, log.Logger)
	t.api.RegisterRoutes(t.Server.HTTP)
	return services.NewIdleService(nil, nil), nil
}

func (t *App) setupModuleManager() error {
	mm := modules.NewManager(log.Logger)

	mm.RegisterModule(Server, t.initServer, modules.UserInvisibleModule)
	mm.RegisterModule(Store, t.initStore, modules.UserInvisibleModule)
	mm.RegisterModule(Resolver, t.initResolver, modules.UserInvisibleModule)
	mm.RegisterModule(Registry, t.initRegistry, modules.UserInvisibleModule)
	mm.RegisterModule(Dispatcher, t.initDispatcher, modules.UserInvisibleModule)
	mm.RegisterModule(API, t.initAPI, modules.UserInvisibleModule)
	mm.RegisterModule(All, nil)

	deps := map[string][]string{
		Store:      nil,
		Resolver:   nil,
		Registry:   nil,
		Dispatcher: {Store, Resolver, Registry},
		API:        {Server, Dispatcher},
		All:        {API},
	}
	for mod, d := range deps {
		if err := mm.AddDependency(mod, d...); err != nil {
			return err
		}
	}

	t.moduleManager = mm
	return nil
}
