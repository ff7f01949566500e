package executor

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cucumber/godog"

	"github.com/eventstack/maestro/modules/worker"
)

// DSL is the surface glue steps call into. The gateway registry implements
// it; tests substitute an in-memory fake.
type DSL interface {
	Produce(ctx context.Context, topic string, req worker.ProduceRequest) (*worker.ProduceAck, error)
	FetchByCorrelation(ctx context.Context, topic, correlationID string, timeout time.Duration) (*worker.ConsumedRecord, error)
	Schema(subject string) (json.RawMessage, error)
}

// Env is handed to every glue step set when a test run starts.
type Env struct {
	DSL          DSL
	FetchTimeout time.Duration

	stop chan struct{}
}

// Stopping is closed when the test is cancelled; long steps select on it.
func (e *Env) Stopping() <-chan struct{} { return e.stop }

// StepSet is a named bundle of step definitions. Glue packages referenced by
// a topic-directive manifest resolve against the registered sets.
type StepSet interface {
	Name() string
	Register(sc *godog.ScenarioContext, env *Env)
}

var (
	glueMtx sync.RWMutex
	glue    = map[string]StepSet{}
)

// RegisterGlue adds a step set to the process-wide catalog. Later
// registrations under the same name win, which lets tests override builtins.
func RegisterGlue(s StepSet) {
	glueMtx.Lock()
	defer glueMtx.Unlock()
	glue[s.Name()] = s
}

func lookupGlue(name string) (StepSet, bool) {
	glueMtx.RLock()
	defer glueMtx.RUnlock()
	s, ok := glue[name]
	return s, ok
}

func glueNames() []string {
	glueMtx.RLock()
	defer glueMtx.RUnlock()
	names := make([]string, 0, len(glue))
	for n := range glue {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
