// Package executor runs the BDD scenarios of a fetched asset tree. Scenarios
// are executed sequentially; their steps talk to the active workers through
// the DSL. The cucumber report written during the run is the primary piece
// of evidence.
package executor

import (
	"bufio"
	"context"
	"flag"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cucumber/godog"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/eventstack/maestro/objstore"
	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/secrets"
	"github.com/eventstack/maestro/pkg/util"
)

// EvidenceReport is the cucumber report filename under the evidence root.
const EvidenceReport = "cucumber.json"

type Config struct {
	DefaultFetchTimeout time.Duration `yaml:"default_fetch_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.DefaultFetchTimeout, util.PrefixConfig(prefix, "default-fetch-timeout"), 10*time.Second, "Fetch timeout used when a step does not name one.")
}

// TestExecutionResult summarizes one scenario run.
type TestExecutionResult struct {
	Passed        bool
	ScenarioCount int
	PassedCount   int
	FailedCount   int
	EvidencePaths []string
}

type Executor struct {
	cfg    Config
	dsl    DSL
	logger log.Logger

	mtx          sync.Mutex
	initialized  bool
	assetRoot    string
	evidenceRoot string
	tags         []string
	glue         []StepSet
	env          *Env
	stopOnce     *sync.Once
}

func New(cfg Config, dsl DSL, logger log.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		dsl:    dsl,
		logger: log.With(logger, "component", "executor"),
	}
}

// Initialize binds the executor to a fetched asset tree: it resolves the glue
// packages the manifest names and checks that every required tag appears in
// the feature files. A second Initialize with the same asset root is a no-op
// success.
func (e *Executor) Initialize(sd *objstore.StorageDirective, secs []secrets.SecurityDirective) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.initialized {
		if e.assetRoot == sd.AssetRoot {
			return nil
		}
		return fault.New(fault.KindExecutor, "executor already initialized for %s", e.assetRoot)
	}

	names := sd.Manifest.GluePackages
	if len(names) == 0 {
		names = []string{"kafka"}
	}
	sets := make([]StepSet, 0, len(names))
	for _, n := range names {
		s, ok := lookupGlue(n)
		if !ok {
			return fault.New(fault.KindExecutor, "unknown glue package %q, registered: %s", n, strings.Join(glueNames(), ", "))
		}
		sets = append(sets, s)
	}

	tags := normalizeTags(sd.Manifest.Tags)
	if err := validateTags(filepath.Join(sd.AssetRoot, "features"), tags); err != nil {
		return err
	}

	e.assetRoot = sd.AssetRoot
	e.evidenceRoot = sd.EvidenceRoot
	e.tags = tags
	e.glue = sets
	e.env = &Env{DSL: e.dsl, FetchTimeout: e.cfg.DefaultFetchTimeout, stop: make(chan struct{})}
	e.stopOnce = &sync.Once{}
	e.initialized = true

	level.Info(e.logger).Log("msg", "executor initialized", "glue", strings.Join(names, ","), "tags", strings.Join(tags, ","), "security_directives", len(secs))
	return nil
}

// StartTest runs every matching scenario sequentially and writes the
// cucumber report into the evidence root.
func (e *Executor) StartTest(ctx context.Context) (*TestExecutionResult, error) {
	e.mtx.Lock()
	if !e.initialized {
		e.mtx.Unlock()
		return nil, fault.New(fault.KindExecutor, "executor is not initialized")
	}
	env := e.env
	sets := e.glue
	assetRoot, evidenceRoot, tags := e.assetRoot, e.evidenceRoot, e.tags
	e.mtx.Unlock()

	reportPath := filepath.Join(evidenceRoot, EvidenceReport)
	report, err := os.Create(reportPath)
	if err != nil {
		return nil, fault.Wrap(fault.KindExecutor, err, "creating cucumber report")
	}

	opts := godog.Options{
		Format:         "cucumber",
		Output:         report,
		Paths:          []string{filepath.Join(assetRoot, "features")},
		Tags:           strings.Join(tags, " && "),
		Concurrency:    1,
		Strict:         true,
		DefaultContext: ctx,
	}
	suite := godog.TestSuite{
		Name: "maestro",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			for _, g := range sets {
				g.Register(sc, env)
			}
		},
		Options: &opts,
	}

	status := suite.Run()
	if err := report.Close(); err != nil {
		return nil, fault.Wrap(fault.KindExecutor, err, "closing cucumber report")
	}
	if status > 1 {
		return nil, fault.New(fault.KindExecutor, "scenario suite could not run, exit status %d", status)
	}

	scenarios, passed, failed, err := parseCucumberReport(reportPath)
	if err != nil {
		return nil, err
	}

	res := &TestExecutionResult{
		Passed:        status == 0 && failed == 0,
		ScenarioCount: scenarios,
		PassedCount:   passed,
		FailedCount:   failed,
		EvidencePaths: evidencePaths(evidenceRoot),
	}
	level.Info(e.logger).Log("msg", "scenario run finished", "passed", res.Passed, "scenarios", scenarios, "failed", failed)
	return res, nil
}

// Stop requests best-effort cancellation of the running scenarios. Stopping
// an uninitialized executor is a clean no-op.
func (e *Executor) Stop() {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.env == nil {
		return
	}
	e.stopOnce.Do(func() { close(e.env.stop) })
}

func evidencePaths(root string) []string {
	var paths []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			if rel, rerr := filepath.Rel(root, p); rerr == nil {
				paths = append(paths, filepath.ToSlash(rel))
			}
		}
		return nil
	})
	return paths
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "@") {
			t = "@" + t
		}
		out = append(out, t)
	}
	return out
}

// validateTags checks that every required tag occurs in at least one feature
// file, so a typo in the manifest fails before any worker spins up.
func validateTags(featuresDir string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	present := map[string]bool{}
	err := filepath.WalkDir(featuresDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".feature") {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			for _, field := range strings.Fields(scanner.Text()) {
				if strings.HasPrefix(field, "@") {
					present[field] = true
				}
			}
		}
		return scanner.Err()
	})
	if err != nil {
		return fault.Wrap(fault.KindExecutor, err, "scanning feature tags")
	}

	for _, t := range tags {
		if !present[t] {
			return fault.New(fault.KindExecutor, "required tag %s matches no scenario", t)
		}
	}
	return nil
}
