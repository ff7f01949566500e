package gcs

import (
	"flag"
	"time"

	"github.com/eventstack/maestro/pkg/util"
)

type Config struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	HedgeRequestsAt   time.Duration `yaml:"hedge_requests_at"`
	HedgeRequestsUpTo int           `yaml:"hedge_requests_up_to"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "gcs.endpoint"), "", "Optional GCS API endpoint override.")
	f.BoolVar(&cfg.Insecure, util.PrefixConfig(prefix, "gcs.insecure"), false, "Disable TLS to the GCS endpoint (emulators).")
	cfg.HedgeRequestsUpTo = 2
}
