// Package supervisor drives one test from submission to a terminal state. A
// supervisor fetches the asset tree, resolves credentials, spins up the
// per-topic workers, hands the executing slot to the scenario run, and
// always tries to leave evidence in the bucket on the way out.
package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/eventstack/maestro/modules/executor"
	"github.com/eventstack/maestro/modules/gateway"
	"github.com/eventstack/maestro/modules/worker"
	"github.com/eventstack/maestro/objstore"
	"github.com/eventstack/maestro/pkg/directive"
	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/secrets"
	"github.com/eventstack/maestro/pkg/teststate"
)

// Update is one state-change notification flowing back to the dispatcher.
type Update struct {
	TestID       string
	State        teststate.State
	Outcome      teststate.Outcome
	ErrorKind    fault.Kind
	ErrorMessage string
	Result       *executor.TestExecutionResult
}

// Deps are the collaborators a supervisor spawns its children from. Slot is
// the shared capacity-one semaphore guarding the executing state.
type Deps struct {
	Store     *objstore.Store
	Resolver  *secrets.Resolver
	Registry  *gateway.Registry
	WorkerCfg worker.Config
	ExecCfg   executor.Config
	Slot      chan struct{}
	Logger    log.Logger
}

// Supervisor runs the lifecycle of exactly one test on its own goroutine.
type Supervisor struct {
	deps            Deps
	teardownTimeout time.Duration

	testID  string
	bucket  objstore.BucketRef
	tags    []string
	updates chan<- Update
	logger  log.Logger

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func New(deps Deps, teardownTimeout time.Duration, testID string, bucket objstore.BucketRef, tags []string, updates chan<- Update) *Supervisor {
	return &Supervisor{
		deps:            deps,
		teardownTimeout: teardownTimeout,
		testID:          testID,
		bucket:          bucket,
		tags:            tags,
		updates:         updates,
		logger:          log.With(deps.Logger, "component", "supervisor", "test", testID),
		cancelCh:        make(chan struct{}),
	}
}

// Cancel asks the supervisor to stop. Children finish their in-flight unit;
// teardown stays bounded. Safe to call more than once.
func (s *Supervisor) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

func (s *Supervisor) cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// Run drives the whole lifecycle. It always emits a terminal Update, always
// attempts evidence upload, and always cleans the scratch tree.
func (s *Supervisor) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.cancelCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	s.emit(Update{State: teststate.Loading})

	sd, err := s.deps.Store.Fetch(runCtx, s.testID, s.bucket)
	if err != nil {
		s.finish(ctx, nil, nil, nil, nil, err)
		return
	}
	// tags supplied on the start request take precedence over manifest defaults
	if len(s.tags) > 0 {
		sd.Manifest.Tags = s.tags
	}

	secs, err := s.deps.Resolver.ResolveAll(runCtx, sd.Manifest.Topics)
	if err != nil {
		s.finish(ctx, sd, nil, nil, nil, err)
		return
	}

	workers, mgr, err := s.spawnWorkers(runCtx, sd.Manifest.Topics, secs)
	if err != nil {
		s.finish(ctx, sd, nil, workers, mgr, err)
		return
	}

	exec := executor.New(s.deps.ExecCfg, s.deps.Registry, s.logger)
	if err := exec.Initialize(sd, secs); err != nil {
		s.finish(ctx, sd, exec, workers, mgr, err)
		return
	}

	s.emit(Update{State: teststate.Loaded})

	// at most one test executes at a time; wait here for the slot
	select {
	case s.deps.Slot <- struct{}{}:
	case <-runCtx.Done():
		s.finish(ctx, sd, exec, workers, mgr, runCtx.Err())
		return
	}
	releaseSlot := func() { <-s.deps.Slot }

	schemas, err := loadSchemaCatalog(sd.AssetRoot)
	if err != nil {
		releaseSlot()
		s.finish(ctx, sd, exec, workers, mgr, err)
		return
	}
	if err := s.deps.Registry.Arm(s.testID, *workers, schemas); err != nil {
		releaseSlot()
		s.finish(ctx, sd, exec, workers, mgr, err)
		return
	}

	s.emit(Update{State: teststate.Executing})

	execDone := make(chan struct{})
	go func() {
		select {
		case <-s.cancelCh:
			exec.Stop()
		case <-execDone:
		}
	}()
	res, execErr := exec.StartTest(runCtx)
	close(execDone)

	s.deps.Registry.Disarm(s.testID)
	releaseSlot()

	s.writeConsumerStats(sd, workers)
	s.finishWithResult(ctx, sd, exec, workers, mgr, res, execErr)
}

// spawnWorkers builds one producer or consumer per directive and waits for
// all of them to come up. A single failing worker stops the rest.
func (s *Supervisor) spawnWorkers(ctx context.Context, ds []directive.TopicDirective, secs []secrets.SecurityDirective) (*gateway.Workers, *services.Manager, error) {
	byTopic := make(map[string]secrets.SecurityDirective, len(secs))
	for _, sec := range secs {
		byTopic[sec.Topic+"/"+string(sec.Role)] = sec
	}

	w := &gateway.Workers{
		Producers: map[string]*worker.Producer{},
		Consumers: map[string]*worker.Consumer{},
	}
	var svcs []services.Service
	for _, d := range ds {
		sec := byTopic[d.Topic+"/"+string(d.Role)]
		switch d.Role {
		case directive.RoleProducer:
			p := worker.NewProducer(s.deps.WorkerCfg, d, sec, s.logger)
			w.Producers[d.Topic] = p
			svcs = append(svcs, p)
		case directive.RoleConsumer:
			c := worker.NewConsumer(s.deps.WorkerCfg, d, sec, s.logger)
			w.Consumers[d.Topic] = c
			svcs = append(svcs, c)
		}
	}

	mgr, err := services.NewManager(svcs...)
	if err != nil {
		return w, nil, fault.Wrap(fault.KindInternal, err, "building worker manager")
	}
	if err := services.StartManagerAndAwaitHealthy(ctx, mgr); err != nil {
		return w, mgr, fault.Wrap(fault.KindOf(err), err, "starting workers")
	}

	level.Info(s.logger).Log("msg", "workers ready", "producers", len(w.Producers), "consumers", len(w.Consumers))
	return w, mgr, nil
}

func (s *Supervisor) finish(ctx context.Context, sd *objstore.StorageDirective, exec *executor.Executor, workers *gateway.Workers, mgr *services.Manager, cause error) {
	s.finishWithResult(ctx, sd, exec, workers, mgr, nil, cause)
}

// finishWithResult is the single terminal path: teardown children, upload
// whatever evidence exists, clean scratch, and emit the final update.
func (s *Supervisor) finishWithResult(ctx context.Context, sd *objstore.StorageDirective, exec *executor.Executor, workers *gateway.Workers, mgr *services.Manager, res *executor.TestExecutionResult, cause error) {
	s.deps.Registry.Disarm(s.testID)

	teardownErr := s.teardown(exec, mgr)

	if sd != nil {
		if err := s.deps.Store.Upload(ctx, s.testID, s.bucket, sd.EvidenceRoot); err != nil {
			level.Warn(s.logger).Log("msg", "evidence upload failed", "err", err)
			if cause == nil && teardownErr == nil {
				cause = err
			}
		}
	}
	s.deps.Store.Cleanup(s.testID)

	final := Update{Result: res}
	switch {
	case s.cancelled():
		final.State = teststate.Cancelled
		final.Outcome = teststate.OutcomeCancelled
		final.ErrorKind = fault.KindCancelled
		final.ErrorMessage = "cancelled by request"
	case teardownErr != nil:
		final.State = teststate.Failed
		final.Outcome = teststate.OutcomeFailed
		final.ErrorKind = fault.KindTeardownTimeout
		final.ErrorMessage = teardownErr.Error()
	case cause != nil:
		final.State = teststate.Failed
		final.Outcome = teststate.OutcomeFailed
		final.ErrorKind = fault.KindOf(cause)
		final.ErrorMessage = cause.Error()
	case res != nil && !res.Passed:
		final.State = teststate.Completed
		final.Outcome = teststate.OutcomeFailed
	default:
		final.State = teststate.Completed
		final.Outcome = teststate.OutcomePassed
	}

	level.Info(s.logger).Log("msg", "test finished", "state", final.State, "outcome", final.Outcome, "error_kind", final.ErrorKind)
	s.emit(final)
}

// teardown stops the executor and the workers within the teardown budget. An
// unresponsive child is abandoned and reported as a teardown timeout.
func (s *Supervisor) teardown(exec *executor.Executor, mgr *services.Manager) error {
	if exec != nil {
		exec.Stop()
	}
	if mgr == nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.teardownTimeout)
	defer cancel()

	mgr.StopAsync()
	if err := mgr.AwaitStopped(stopCtx); err != nil {
		return fault.Wrap(fault.KindTeardownTimeout, err, "workers did not stop within %s", s.teardownTimeout)
	}
	return nil
}

// writeConsumerStats records per-topic unmatched counters as evidence.
func (s *Supervisor) writeConsumerStats(sd *objstore.StorageDirective, workers *gateway.Workers) {
	if sd == nil || workers == nil || len(workers.Consumers) == 0 {
		return
	}
	stats := make(map[string]int, len(workers.Consumers))
	for topic, c := range workers.Consumers {
		stats[topic] = c.UnmatchedCount()
	}
	raw, err := json.MarshalIndent(map[string]any{"unmatchedRecords": stats}, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(sd.EvidenceRoot, "consumer-stats.json"), raw, 0o600); err != nil {
		level.Warn(s.logger).Log("msg", "writing consumer stats failed", "err", err)
	}
}

func (s *Supervisor) emit(u Update) {
	u.TestID = s.testID
	s.updates <- u
}

// loadSchemaCatalog reads optional schema documents under assetRoot/schemas.
// The subject is the filename without its .json suffix.
func loadSchemaCatalog(assetRoot string) (map[string]json.RawMessage, error) {
	dir := filepath.Join(assetRoot, "schemas")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "reading schema catalog")
	}

	catalog := map[string]json.RawMessage{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "reading schema %s", e.Name())
		}
		if !json.Valid(raw) {
			return nil, fault.New(fault.KindValidation, "schema %s is not valid json", e.Name())
		}
		catalog[strings.TrimSuffix(e.Name(), ".json")] = raw
	}
	return catalog, nil
}
