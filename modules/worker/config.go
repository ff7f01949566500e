package worker

import (
	"flag"
	"time"

	"github.com/eventstack/maestro/pkg/util"
)

type Config struct {
	BootstrapServers string        `yaml:"bootstrap_servers"`
	ClientID         string        `yaml:"client_id"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	ProduceTimeout   time.Duration `yaml:"produce_timeout"`
	FetchMaxWait     time.Duration `yaml:"fetch_max_wait"`
	BufferSize       int           `yaml:"buffer_size"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.BootstrapServers, util.PrefixConfig(prefix, "bootstrap-servers"), "localhost:9092", "Comma-separated broker list used when a directive carries no override.")
	f.StringVar(&cfg.ClientID, util.PrefixConfig(prefix, "client-id"), "maestro", "Kafka client id.")
	f.DurationVar(&cfg.DialTimeout, util.PrefixConfig(prefix, "dial-timeout"), 10*time.Second, "Broker dial timeout.")
	f.DurationVar(&cfg.ProduceTimeout, util.PrefixConfig(prefix, "produce-timeout"), 10*time.Second, "Per-record produce timeout.")
	f.DurationVar(&cfg.FetchMaxWait, util.PrefixConfig(prefix, "fetch-max-wait"), 2*time.Second, "Maximum time a poll waits for records.")
	f.IntVar(&cfg.BufferSize, util.PrefixConfig(prefix, "buffer-size"), 1000, "Bound of the per-consumer correlation buffer.")
}
