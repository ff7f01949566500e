package app

import (
	"flag"

	"github.com/grafana/dskit/server"

	"github.com/eventstack/maestro/modules/dispatcher"
	"github.com/eventstack/maestro/modules/executor"
	"github.com/eventstack/maestro/modules/gateway"
	"github.com/eventstack/maestro/modules/worker"
	"github.com/eventstack/maestro/objstore"
	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/secrets"
	"github.com/eventstack/maestro/pkg/util"
)

// Config is the root config for the orchestrator.
type Config struct {
	Target string `yaml:"target,omitempty"`

	Server     server.Config        `yaml:"server,omitempty"`
	Storage    objstore.Config      `yaml:"storage,omitempty"`
	Secrets    secrets.Config       `yaml:"secrets,omitempty"`
	Worker     worker.Config        `yaml:"worker,omitempty"`
	Executor   executor.Config      `yaml:"executor,omitempty"`
	Dispatcher dispatcher.Config    `yaml:"dispatcher,omitempty"`
	Gateway    gateway.ClientConfig `yaml:"gateway,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Target = All
	f.StringVar(&c.Target, "target", All, "target module")

	// server settings; the rest of server.Config keeps dskit defaults
	c.Server.RegisterFlags(flag.NewFlagSet("", flag.PanicOnError))
	c.Server.LogLevel.RegisterFlags(f)
	f.IntVar(&c.Server.HTTPListenPort, "server.http-listen-port", 3600, "HTTP server listen port.")

	c.Storage.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "storage"), f)
	c.Secrets.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "secrets"), f)
	c.Worker.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "worker"), f)
	c.Executor.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "executor"), f)
	c.Dispatcher.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "dispatcher"), f)
	c.Gateway.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "gateway"), f)
}

// CheckConfig validates cross-module settings.
func (c *Config) CheckConfig() error {
	if err := c.Secrets.Validate(); err != nil {
		return err
	}
	if c.Worker.BootstrapServers == "" {
		return fault.New(fault.KindConfiguration, "worker.bootstrap-servers must be set")
	}
	return nil
}
