package gateway

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/teststate"
)

type fakeDispatcher struct {
	ready     bool
	submitErr error
	status    teststate.Status
	statusErr error
	block     time.Duration
}

func (f *fakeDispatcher) Submit(ctx context.Context) (string, error) {
	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "test-1", nil
}

func (f *fakeDispatcher) Start(ctx context.Context, testID, bucketRef, testType string, tags []string) (bool, string, error) {
	return true, "", nil
}

func (f *fakeDispatcher) Status(ctx context.Context, testID string) (teststate.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeDispatcher) QueueStatus(ctx context.Context, testID string) (teststate.QueueStatus, error) {
	return teststate.QueueStatus{Counts: map[teststate.State]int{}}, nil
}

func (f *fakeDispatcher) Cancel(ctx context.Context, testID string) (bool, string, error) {
	return false, "already terminal", nil
}

func (f *fakeDispatcher) Ready() bool { return f.ready }

func newTestClient(t *testing.T, d Dispatcher) *Client {
	t.Helper()
	cfg := ClientConfig{}
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))
	cfg.AskTimeout = 200 * time.Millisecond
	return NewClient(cfg, d, log.NewNopLogger())
}

func TestClientHappyPath(t *testing.T) {
	c := newTestClient(t, &fakeDispatcher{ready: true})

	id, err := c.InitializeTest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-1", id)

	accepted, _, err := c.StartTest(context.Background(), id, "local://b/p", "", nil)
	require.NoError(t, err)
	assert.True(t, accepted)

	cancelled, reason, err := c.CancelTest(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "already terminal", reason)

	require.NoError(t, c.Health(context.Background()))
}

func TestClientNotReady(t *testing.T) {
	c := newTestClient(t, &fakeDispatcher{ready: false})

	_, err := c.InitializeTest(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.KindNotReady, fault.KindOf(err))
}

func TestClientAskTimeout(t *testing.T) {
	c := newTestClient(t, &fakeDispatcher{ready: true, block: 5 * time.Second})

	_, err := c.InitializeTest(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.KindServiceTimeout, fault.KindOf(err))
}

func TestClientBreakerOpensOnInternalFaults(t *testing.T) {
	d := &fakeDispatcher{ready: true, submitErr: fault.New(fault.KindInternal, "wedged")}
	cfg := ClientConfig{AskTimeout: 200 * time.Millisecond, BreakerMaxFailures: 2, BreakerOpenFor: time.Minute}
	c := NewClient(cfg, d, log.NewNopLogger())

	for i := 0; i < 2; i++ {
		_, err := c.InitializeTest(context.Background())
		require.Error(t, err)
		assert.Equal(t, fault.KindInternal, fault.KindOf(err))
	}

	_, err := c.InitializeTest(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.KindServiceUnavailable, fault.KindOf(err))
}

func TestClientBusinessErrorsDoNotTrip(t *testing.T) {
	d := &fakeDispatcher{ready: true, statusErr: fault.New(fault.KindNotFound, "no such test")}
	cfg := ClientConfig{AskTimeout: 200 * time.Millisecond, BreakerMaxFailures: 2, BreakerOpenFor: time.Minute}
	c := NewClient(cfg, d, log.NewNopLogger())

	for i := 0; i < 5; i++ {
		_, err := c.GetStatus(context.Background(), "absent")
		require.Error(t, err)
		assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
	}
}
