// Package app wires the orchestrator's modules into a running process.
package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/server"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"
	"gopkg.in/yaml.v2"

	"github.com/eventstack/maestro/modules/api"
	"github.com/eventstack/maestro/modules/dispatcher"
	"github.com/eventstack/maestro/modules/gateway"
	"github.com/eventstack/maestro/objstore"
	"github.com/eventstack/maestro/pkg/secrets"
	"github.com/eventstack/maestro/pkg/util/log"
)

const metricsNamespace = "maestro"

// App is the root of the process: it owns the module manager and the shared
// singletons the modules hand each other.
type App struct {
	cfg Config

	Server        *server.Server
	store         *objstore.Store
	resolver      *secrets.Resolver
	registry      *gateway.Registry
	dispatcher    *dispatcher.Dispatcher
	gatewayClient *gateway.Client
	api           *api.API

	moduleManager *modules.Manager
	serviceMap    map[string]services.Service
}

func New(cfg Config) (*App, error) {
	t := &App{cfg: cfg}

	if err := t.setupModuleManager(); err != nil {
		return nil, err
	}
	return t, nil
}

// Run starts every service of the target and blocks until a signal arrives
// or a module fails.
func (t *App) Run() error {
	serviceMap, err := t.moduleManager.InitModuleServices(t.cfg.Target)
	if err != nil {
		return fmt.Errorf("failed to init module services: %w", err)
	}
	t.serviceMap = serviceMap

	servs := []services.Service(nil)
	for _, s := range serviceMap {
		servs = append(servs, s)
	}

	sm, err := services.NewManager(servs...)
	if err != nil {
		return fmt.Errorf("failed to create service manager: %w", err)
	}

	t.Server.HTTP.Path("/config").Handler(t.configHandler())
	t.Server.HTTP.Path("/ready").Handler(t.readyHandler(sm))

	healthy := func() { level.Info(log.Logger).Log("msg", "maestro started") }
	stopped := func() { level.Info(log.Logger).Log("msg", "maestro stopped") }
	serviceFailed := func(service services.Service) {
		sm.StopAsync()
		for m, s := range serviceMap {
			if s == service {
				level.Error(log.Logger).Log("msg", "module failed", "module", m, "err", service.FailureCase())
				return
			}
		}
		level.Error(log.Logger).Log("msg", "module failed", "module", "unknown", "err", service.FailureCase())
	}
	sm.AddListener(services.NewManagerListener(healthy, stopped, serviceFailed))

	handler := signals.NewHandler(t.Server.Log)
	go func() {
		handler.Loop()
		sm.StopAsync()
	}()

	if err := sm.StartAsync(context.Background()); err != nil {
		return fmt.Errorf("failed to start service manager: %w", err)
	}

	return sm.AwaitStopped(context.Background())
}

func (t *App) configHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out, err := yaml.Marshal(t.cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

func (t *App) readyHandler(sm *services.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !sm.IsHealthy() {
			msg := bytes.Buffer{}
			msg.WriteString("Some services are not Running:\n")
			for st, ls := range sm.ServicesByState() {
				msg.WriteString(fmt.Sprintf("%v: %d\n", st, len(ls)))
			}
			http.Error(w, msg.String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
