package local

import (
	"flag"

	"github.com/eventstack/maestro/pkg/util"
)

type Config struct {
	Path string `yaml:"path"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Path, util.PrefixConfig(prefix, "local.path"), "", "Root directory backing local:// buckets.")
}
