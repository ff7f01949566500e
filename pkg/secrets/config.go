package secrets

import (
	"flag"
	"time"

	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/mapping"
	"github.com/eventstack/maestro/pkg/util"
)

// CredentialMappings declares how response fields become Credentials.
type CredentialMappings struct {
	Username  mapping.FieldMapping `yaml:"username"`
	Password  mapping.FieldMapping `yaml:"password"`
	Mechanism mapping.FieldMapping `yaml:"mechanism"`
}

type Config struct {
	Endpoint        string            `yaml:"endpoint"`
	RequestTimeout  time.Duration     `yaml:"request_timeout"`
	MaxAttempts     int               `yaml:"max_attempts"`
	InitialBackoff  time.Duration     `yaml:"initial_backoff"`
	RequestTemplate string            `yaml:"request_template"`
	RequestParams   map[string]string `yaml:"request_params"`
	Mappings        CredentialMappings `yaml:"mappings"`
	DefaultProtocol string            `yaml:"default_protocol"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "endpoint"), "", "Secret service endpoint URL.")
	f.DurationVar(&cfg.RequestTimeout, util.PrefixConfig(prefix, "request-timeout"), 10*time.Second, "Per-request timeout against the secret service.")
	f.IntVar(&cfg.MaxAttempts, util.PrefixConfig(prefix, "max-attempts"), 3, "Maximum requests per (topic, role) credential fetch.")
	f.DurationVar(&cfg.InitialBackoff, util.PrefixConfig(prefix, "initial-backoff"), 100*time.Millisecond, "Base backoff between credential fetch attempts.")

	cfg.DefaultProtocol = string(ProtocolAuthTLS)
	cfg.RequestTemplate = `{"principal": "{{clientPrincipal}}", "topic": "{{topic}}", "role": "{{role}}"}`
	cfg.Mappings = CredentialMappings{
		Username: mapping.FieldMapping{Paths: []string{"$.username"}},
		Password: mapping.FieldMapping{Paths: []string{"$.password"}},
		Mechanism: mapping.FieldMapping{
			Paths:           []string{"$.mechanism?"},
			Transformations: []string{"default(SCRAM-SHA-512)"},
		},
	}
}

func (cfg *Config) Validate() error {
	// a plaintext-only deployment may legitimately run without an endpoint
	if cfg.Endpoint == "" && Protocol(cfg.DefaultProtocol) != ProtocolPlaintext {
		return fault.New(fault.KindConfiguration, "secret service endpoint is not configured")
	}
	if cfg.MaxAttempts < 1 {
		return fault.New(fault.KindConfiguration, "secret service max attempts must be >= 1")
	}
	switch Protocol(cfg.DefaultProtocol) {
	case ProtocolPlaintext, ProtocolAuthTLS:
	default:
		return fault.New(fault.KindConfiguration, "unknown default protocol %q", cfg.DefaultProtocol)
	}
	return nil
}
