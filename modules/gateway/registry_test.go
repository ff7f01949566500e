package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventstack/maestro/modules/worker"
	"github.com/eventstack/maestro/pkg/fault"
)

func TestRegistryUnarmedRejectsDSLCalls(t *testing.T) {
	r := NewRegistry(log.NewNopLogger())

	_, err := r.Produce(context.Background(), "orders", worker.ProduceRequest{})
	assert.Equal(t, fault.KindDSLNotInitialized, fault.KindOf(err))

	_, err = r.FetchByCorrelation(context.Background(), "orders", "evt-1", time.Second)
	assert.Equal(t, fault.KindDSLNotInitialized, fault.KindOf(err))

	_, err = r.Schema("orders-value")
	assert.Equal(t, fault.KindSchemaRegistryNotInitialized, fault.KindOf(err))
}

func TestRegistryArmDisarmLifecycle(t *testing.T) {
	r := NewRegistry(log.NewNopLogger())

	_, armed := r.ArmedTest()
	assert.False(t, armed)

	require.NoError(t, r.Arm("test-1", Workers{}, nil))

	id, armed := r.ArmedTest()
	assert.True(t, armed)
	assert.Equal(t, "test-1", id)

	// second arm for a different test fails loudly
	err := r.Arm("test-2", Workers{}, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindInternal, fault.KindOf(err))

	// re-arming the same test is idempotent
	require.NoError(t, r.Arm("test-1", Workers{}, nil))

	// disarming a different test is a no-op
	r.Disarm("test-2")
	_, armed = r.ArmedTest()
	assert.True(t, armed)

	r.Disarm("test-1")
	_, armed = r.ArmedTest()
	assert.False(t, armed)
}

func TestRegistryUnknownTopic(t *testing.T) {
	r := NewRegistry(log.NewNopLogger())
	require.NoError(t, r.Arm("test-1", Workers{
		Producers: map[string]*worker.Producer{},
		Consumers: map[string]*worker.Consumer{},
	}, nil))

	_, err := r.Produce(context.Background(), "absent", worker.ProduceRequest{})
	assert.Equal(t, fault.KindProducerNotAvailable, fault.KindOf(err))

	_, err = r.FetchByCorrelation(context.Background(), "absent", "evt-1", time.Second)
	assert.Equal(t, fault.KindConsumerNotAvailable, fault.KindOf(err))
}

func TestRegistrySchemaCatalog(t *testing.T) {
	r := NewRegistry(log.NewNopLogger())
	require.NoError(t, r.Arm("test-1", Workers{}, map[string]json.RawMessage{
		"orders-value": json.RawMessage(`{"type":"object"}`),
	}))

	s, err := r.Schema("orders-value")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object"}`, string(s))

	_, err = r.Schema("missing-value")
	assert.Equal(t, fault.KindSchemaNotFound, fault.KindOf(err))
}
