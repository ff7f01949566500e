package objstore

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/eventstack/maestro/objstore/backend/azure"
	"github.com/eventstack/maestro/objstore/backend/gcs"
	"github.com/eventstack/maestro/objstore/backend/local"
	"github.com/eventstack/maestro/objstore/backend/s3"
	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/util"
)

// DefaultDirectiveFile is the expected name of the topic-directive document
// at the root of every asset tree.
const DefaultDirectiveFile = "topic-directives.yaml"

type Config struct {
	ScratchRoot   string `yaml:"scratch_root"`
	DirectiveFile string `yaml:"directive_file"`

	Local local.Config `yaml:"local"`
	S3    s3.Config    `yaml:"s3"`
	GCS   gcs.Config   `yaml:"gcs"`
	Azure azure.Config `yaml:"azure"`

	StreamingRetry fault.StreamingRetryConfig `yaml:"streaming_retry"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.ScratchRoot, util.PrefixConfig(prefix, "scratch-root"), filepath.Join(os.TempDir(), "maestro"), "Directory staging per-test asset and evidence trees.")
	f.StringVar(&cfg.DirectiveFile, util.PrefixConfig(prefix, "directive-file"), DefaultDirectiveFile, "Name of the topic-directive document within an asset tree.")

	cfg.Local.RegisterFlagsAndApplyDefaults(prefix, f)
	cfg.S3.RegisterFlagsAndApplyDefaults(prefix, f)
	cfg.GCS.RegisterFlagsAndApplyDefaults(prefix, f)
	cfg.Azure.RegisterFlagsAndApplyDefaults(prefix, f)

	cfg.StreamingRetry = fault.StreamingRetryConfig{
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		MaxRetries: 3,
	}
}
