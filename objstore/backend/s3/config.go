package s3

import (
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"

	"github.com/eventstack/maestro/pkg/util"
)

type Config struct {
	Endpoint       string         `yaml:"endpoint"`
	Region         string         `yaml:"region"`
	AccessKey      string         `yaml:"access_key"`
	SecretKey      flagext.Secret `yaml:"secret_key"`
	Insecure       bool           `yaml:"insecure"`
	HedgeRequestsAt   time.Duration `yaml:"hedge_requests_at"`
	HedgeRequestsUpTo int           `yaml:"hedge_requests_up_to"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "s3.endpoint"), "", "S3 endpoint, host:port.")
	f.StringVar(&cfg.Region, util.PrefixConfig(prefix, "s3.region"), "", "S3 region.")
	f.StringVar(&cfg.AccessKey, util.PrefixConfig(prefix, "s3.access-key"), "", "S3 access key.")
	f.Var(&cfg.SecretKey, util.PrefixConfig(prefix, "s3.secret-key"), "S3 secret key.")
	f.BoolVar(&cfg.Insecure, util.PrefixConfig(prefix, "s3.insecure"), false, "Disable TLS to the S3 endpoint.")
	cfg.HedgeRequestsUpTo = 2
}
