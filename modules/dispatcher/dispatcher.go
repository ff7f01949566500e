// Package dispatcher is the admission queue: one ordered mailbox owning every
// test record. All control-plane asks and all supervisor updates are applied
// by a single goroutine, so state transitions are totally ordered and the
// at-most-one-executing invariant holds by construction.
package dispatcher

import (
	"context"
	"flag"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/services"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eventstack/maestro/modules/supervisor"
	"github.com/eventstack/maestro/objstore"
	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/teststate"
	"github.com/eventstack/maestro/pkg/util"
)

type Config struct {
	MaxCompletedRecords int           `yaml:"max_completed_records"`
	TeardownTimeout     time.Duration `yaml:"teardown_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxCompletedRecords, util.PrefixConfig(prefix, "max-completed-records"), 1000, "Terminal test records retained for status queries.")
	f.DurationVar(&cfg.TeardownTimeout, util.PrefixConfig(prefix, "teardown-timeout"), 30*time.Second, "Bound on per-test teardown before the test is abandoned.")
}

type record struct {
	status teststate.Status
	sup    *supervisor.Supervisor
}

type Dispatcher struct {
	services.Service

	cfg     Config
	supDeps supervisor.Deps
	logger  log.Logger

	asks    chan func()
	updates chan supervisor.Update

	// owned by the mailbox goroutine
	live      map[string]*record
	completed *lru.Cache[string, teststate.Status]
	executing string

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, supDeps supervisor.Deps, logger log.Logger) (*Dispatcher, error) {
	completed, err := lru.New[string, teststate.Status](cfg.MaxCompletedRecords)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		cfg:       cfg,
		supDeps:   supDeps,
		logger:    log.With(logger, "component", "dispatcher"),
		asks:      make(chan func()),
		updates:   make(chan supervisor.Update, 64),
		live:      map[string]*record{},
		completed: completed,
	}
	d.Service = services.NewBasicService(d.starting, d.running, d.stopping)
	return d, nil
}

func (d *Dispatcher) starting(context.Context) error {
	d.runCtx, d.runCancel = context.WithCancel(context.Background())
	return nil
}

func (d *Dispatcher) running(ctx context.Context) error {
	for {
		select {
		case op := <-d.asks:
			op()
		case u := <-d.updates:
			d.applyUpdate(u)
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Dispatcher) stopping(_ error) error {
	for _, rec := range d.live {
		if rec.sup != nil {
			rec.sup.Cancel()
		}
	}
	d.runCancel()
	return nil
}

// Ready reports whether the mailbox goroutine is serving asks.
func (d *Dispatcher) Ready() bool {
	return d.State() == services.Running
}

func (d *Dispatcher) ask(ctx context.Context, op func()) error {
	if !d.Ready() {
		return fault.New(fault.KindNotReady, "dispatcher is %s", d.State())
	}
	done := make(chan struct{})
	select {
	case d.asks <- func() { op(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit allocates a test id and inserts a record in Setup.
func (d *Dispatcher) Submit(ctx context.Context) (string, error) {
	id := uuid.NewString()
	err := d.ask(ctx, func() {
		d.live[id] = &record{status: teststate.Status{TestID: id, State: teststate.Setup}}
		metricSubmitted.Inc()
		d.observeQueue()
	})
	if err != nil {
		return "", err
	}
	level.Info(d.logger).Log("msg", "test submitted", "test", id)
	return id, nil
}

// Start moves a Setup record into Loading and spawns its supervisor. A start
// for a test that is already past Setup is an idempotent accept.
func (d *Dispatcher) Start(ctx context.Context, testID, bucketRef, testType string, tags []string) (bool, string, error) {
	ref, parseErr := objstore.ParseBucketURI(bucketRef)

	var (
		accepted bool
		reason   string
		err      error
	)
	askErr := d.ask(ctx, func() {
		if _, done := d.completed.Get(testID); done {
			reason = "test already terminal"
			return
		}
		rec, ok := d.live[testID]
		if !ok {
			err = fault.New(fault.KindNotFound, "no such test %s", testID)
			return
		}
		if rec.status.State != teststate.Setup {
			accepted, reason = true, "test already started"
			return
		}
		if parseErr != nil {
			err = parseErr
			return
		}

		sup := supervisor.New(d.supDeps, d.cfg.TeardownTimeout, testID, ref, tags, d.updates)
		now := time.Now()
		rec.sup = sup
		rec.status.State = teststate.Loading
		rec.status.BucketRef = ref.String()
		rec.status.TestType = testType
		rec.status.StartedAt = &now
		go sup.Run(d.runCtx)

		accepted = true
		d.observeQueue()
	})
	if askErr != nil {
		return false, "", askErr
	}
	if err != nil {
		return false, "", err
	}
	if accepted && reason == "" {
		level.Info(d.logger).Log("msg", "test started", "test", testID, "bucket", bucketRef, "tags", len(tags))
	}
	return accepted, reason, err
}

// Status returns a snapshot for one test.
func (d *Dispatcher) Status(ctx context.Context, testID string) (teststate.Status, error) {
	var (
		st  teststate.Status
		err error
	)
	askErr := d.ask(ctx, func() {
		if rec, ok := d.live[testID]; ok {
			st = rec.status
			return
		}
		if done, ok := d.completed.Get(testID); ok {
			st = done
			return
		}
		err = fault.New(fault.KindNotFound, "no such test %s", testID)
	})
	if askErr != nil {
		return teststate.Status{}, askErr
	}
	return st, err
}

// QueueStatus counts records by state. With a filter only that test is
// counted; an unknown filter is not an error, just an empty snapshot.
func (d *Dispatcher) QueueStatus(ctx context.Context, testID string) (teststate.QueueStatus, error) {
	qs := teststate.QueueStatus{Counts: map[teststate.State]int{}}
	err := d.ask(ctx, func() {
		include := func(id string) bool { return testID == "" || testID == id }

		for id, rec := range d.live {
			if include(id) {
				qs.Counts[rec.status.State]++
			}
		}
		for _, id := range d.completed.Keys() {
			if include(id) {
				if st, ok := d.completed.Get(id); ok {
					qs.Counts[st.State]++
				}
			}
		}
		if include(d.executing) {
			qs.Executing = d.executing
		}
	})
	if err != nil {
		return teststate.QueueStatus{}, err
	}
	return qs, nil
}

// Cancel signals the supervisor of a live test. Terminal tests report false.
func (d *Dispatcher) Cancel(ctx context.Context, testID string) (bool, string, error) {
	var (
		cancelled bool
		reason    string
		err       error
	)
	askErr := d.ask(ctx, func() {
		if _, done := d.completed.Get(testID); done {
			reason = "test already terminal"
			return
		}
		rec, ok := d.live[testID]
		if !ok {
			err = fault.New(fault.KindNotFound, "no such test %s", testID)
			return
		}
		if rec.sup == nil {
			// never started; retire the record directly
			now := time.Now()
			rec.status.State = teststate.Cancelled
			rec.status.Outcome = teststate.OutcomeCancelled
			rec.status.EndedAt = &now
			d.retire(testID, rec.status)
			cancelled = true
			return
		}
		rec.sup.Cancel()
		cancelled = true
	})
	if askErr != nil {
		return false, "", askErr
	}
	if cancelled {
		level.Info(d.logger).Log("msg", "cancel delivered", "test", testID)
	}
	return cancelled, reason, err
}

func (d *Dispatcher) applyUpdate(u supervisor.Update) {
	rec, ok := d.live[u.TestID]
	if !ok {
		level.Warn(d.logger).Log("msg", "update for unknown test", "test", u.TestID, "state", u.State)
		return
	}

	rec.status.State = u.State
	if u.State == teststate.Executing {
		d.executing = u.TestID
	} else if d.executing == u.TestID {
		d.executing = ""
	}

	if u.State.Terminal() {
		now := time.Now()
		rec.status.EndedAt = &now
		rec.status.Outcome = u.Outcome
		if u.State != teststate.Completed {
			rec.status.ErrorKind = u.ErrorKind
			rec.status.ErrorMessage = u.ErrorMessage
		}
		if u.Result != nil {
			rec.status.ScenarioCount = u.Result.ScenarioCount
			rec.status.PassedCount = u.Result.PassedCount
			rec.status.FailedCount = u.Result.FailedCount
		}
		d.retire(u.TestID, rec.status)
	}
	d.observeQueue()
}

func (d *Dispatcher) retire(testID string, st teststate.Status) {
	d.completed.Add(testID, st)
	delete(d.live, testID)
	metricCompleted.WithLabelValues(string(st.Outcome)).Inc()
}

func (d *Dispatcher) observeQueue() {
	counts := map[teststate.State]int{}
	for _, rec := range d.live {
		counts[rec.status.State]++
	}
	for _, s := range []teststate.State{teststate.Setup, teststate.Loading, teststate.Loaded, teststate.Executing} {
		metricQueueDepth.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
