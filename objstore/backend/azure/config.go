package azure

import (
	"flag"

	"github.com/grafana/dskit/flagext"

	"github.com/eventstack/maestro/pkg/util"
)

type Config struct {
	StorageAccountName string         `yaml:"storage_account_name"`
	StorageAccountKey  flagext.Secret `yaml:"storage_account_key"`
	Endpoint           string         `yaml:"endpoint_suffix"`
	MaxBuffers         int            `yaml:"max_buffers"`
	BufferSize         int            `yaml:"buffer_size"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.StorageAccountName, util.PrefixConfig(prefix, "azure.storage-account-name"), "", "Azure storage account name.")
	f.Var(&cfg.StorageAccountKey, util.PrefixConfig(prefix, "azure.storage-account-key"), "Azure storage account key.")
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "azure.endpoint-suffix"), "blob.core.windows.net", "Azure endpoint suffix.")
	cfg.MaxBuffers = 4
	cfg.BufferSize = 3 * 1024 * 1024
}
