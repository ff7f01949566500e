// Package gateway is the bridge between user glue and the rest of the
// orchestrator. Its registry holds the worker handles of the one test that is
// currently executing; glue resolves topics against it. Its client wraps the
// dispatcher asks that back the control-plane surface.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/eventstack/maestro/modules/worker"
	"github.com/eventstack/maestro/pkg/fault"
)

// Workers are the handles armed for one executing test.
type Workers struct {
	Producers map[string]*worker.Producer
	Consumers map[string]*worker.Consumer
}

// Registry is the process-wide glue target. Lifecycle is empty, then armed
// for exactly one test, then empty again. The supervisor is the single
// writer; glue goroutines only read.
type Registry struct {
	logger log.Logger

	mtx       sync.RWMutex
	testID    string
	producers map[string]*worker.Producer
	consumers map[string]*worker.Consumer
	schemas   map[string]json.RawMessage
}

func NewRegistry(logger log.Logger) *Registry {
	return &Registry{logger: log.With(logger, "component", "gateway")}
}

// Arm binds the registry to a test. Arming while another test holds the
// registry is a supervisor bug and fails loudly.
func (r *Registry) Arm(testID string, w Workers, schemas map[string]json.RawMessage) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.testID != "" && r.testID != testID {
		return fault.New(fault.KindInternal, "registry already armed for test %s", r.testID)
	}
	r.testID = testID
	r.producers = w.Producers
	r.consumers = w.Consumers
	r.schemas = schemas

	level.Info(r.logger).Log("msg", "registry armed", "test", testID, "producers", len(w.Producers), "consumers", len(w.Consumers))
	return nil
}

// Disarm releases the registry if it is held by testID. Disarming a registry
// armed for a different test is a no-op.
func (r *Registry) Disarm(testID string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.testID != testID {
		return
	}
	r.testID = ""
	r.producers = nil
	r.consumers = nil
	r.schemas = nil

	level.Info(r.logger).Log("msg", "registry disarmed", "test", testID)
}

// ArmedTest reports which test currently holds the registry.
func (r *Registry) ArmedTest() (string, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.testID, r.testID != ""
}

// Produce dispatches a glue publish to the armed producer for topic.
func (r *Registry) Produce(ctx context.Context, topic string, req worker.ProduceRequest) (*worker.ProduceAck, error) {
	r.mtx.RLock()
	armed := r.testID != ""
	p := r.producers[topic]
	r.mtx.RUnlock()

	if !armed {
		return nil, fault.New(fault.KindDSLNotInitialized, "no test is executing")
	}
	if p == nil {
		return nil, fault.New(fault.KindProducerNotAvailable, "no producer directive for topic %q", topic)
	}
	return p.Produce(ctx, req)
}

// FetchByCorrelation dispatches a glue fetch to the armed consumer for topic.
func (r *Registry) FetchByCorrelation(ctx context.Context, topic, correlationID string, timeout time.Duration) (*worker.ConsumedRecord, error) {
	r.mtx.RLock()
	armed := r.testID != ""
	c := r.consumers[topic]
	r.mtx.RUnlock()

	if !armed {
		return nil, fault.New(fault.KindDSLNotInitialized, "no test is executing")
	}
	if c == nil {
		return nil, fault.New(fault.KindConsumerNotAvailable, "no consumer directive for topic %q", topic)
	}
	return c.FetchByCorrelation(ctx, correlationID, timeout)
}

// Schema returns the registered schema document for a subject.
func (r *Registry) Schema(subject string) (json.RawMessage, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	if r.testID == "" || r.schemas == nil {
		return nil, fault.New(fault.KindSchemaRegistryNotInitialized, "no schema catalog is armed")
	}
	s, ok := r.schemas[subject]
	if !ok {
		return nil, fault.New(fault.KindSchemaNotFound, "no schema for subject %q", subject)
	}
	return s, nil
}
