package dispatcher

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"

	"github.com/eventstack/maestro/modules/executor"
	"github.com/eventstack/maestro/modules/gateway"
	"github.com/eventstack/maestro/modules/supervisor"
	"github.com/eventstack/maestro/modules/worker"
	"github.com/eventstack/maestro/objstore"
	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/secrets"
	"github.com/eventstack/maestro/pkg/teststate"
)

const dispTestTopic = "disp-test-topic"

type harness struct {
	d         *Dispatcher
	localRoot string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fake, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, dispTestTopic))
	require.NoError(t, err)
	t.Cleanup(fake.Close)

	localRoot := t.TempDir()
	storeCfg := objstore.Config{}
	storeCfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))
	storeCfg.ScratchRoot = t.TempDir()
	storeCfg.Local.Path = localRoot

	secCfg := secrets.Config{}
	secCfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))
	secCfg.Endpoint = "http://secrets.invalid/creds"
	secCfg.DefaultProtocol = string(secrets.ProtocolPlaintext)
	resolver, err := secrets.NewResolver(secCfg, log.NewNopLogger())
	require.NoError(t, err)

	workerCfg := worker.Config{}
	workerCfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))
	workerCfg.BootstrapServers = fake.ListenAddrs()[0]
	workerCfg.FetchMaxWait = 200 * time.Millisecond

	execCfg := executor.Config{}
	execCfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))

	deps := supervisor.Deps{
		Store:     objstore.NewStore(storeCfg, log.NewNopLogger()),
		Resolver:  resolver,
		Registry:  gateway.NewRegistry(log.NewNopLogger()),
		WorkerCfg: workerCfg,
		ExecCfg:   execCfg,
		Slot:      make(chan struct{}, 1),
		Logger:    log.NewNopLogger(),
	}

	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))
	d, err := New(cfg, deps, log.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, services.StartAndAwaitRunning(context.Background(), d))
	t.Cleanup(func() {
		_ = services.StopAndAwaitTerminated(context.Background(), d)
	})

	return &harness{d: d, localRoot: localRoot}
}

func (h *harness) seed(t *testing.T, bucketPath string) string {
	t.Helper()
	feature := fmt.Sprintf(`Feature: round trip
  Scenario: produce and consume
    When I produce event "evt-%s" to topic "%s"
    Then I receive event "evt-%s" from topic "%s" within 10 seconds
`, bucketPath, dispTestTopic, bucketPath, dispTestTopic)
	files := map[string]string{
		"features/main.feature": feature,
		"topic-directives.yaml": fmt.Sprintf(`
topics:
  - topic: %[1]s
    role: producer
    client_principal: svc-test
  - topic: %[1]s
    role: consumer
    client_principal: svc-test
glue_packages:
  - kafka
`, dispTestTopic),
	}
	for name, content := range files {
		p := filepath.Join(h.localRoot, bucketPath, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o700))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return "local://" + bucketPath
}

func awaitState(t *testing.T, d *Dispatcher, testID string, want teststate.State, within time.Duration) teststate.Status {
	t.Helper()
	var last teststate.Status
	require.Eventually(t, func() bool {
		st, err := d.Status(context.Background(), testID)
		if err != nil {
			return false
		}
		last = st
		return st.State == want
	}, within, 50*time.Millisecond, "test %s never reached %s, last %+v", testID, want, &last)
	return last
}

func TestSubmitCreatesSetupRecord(t *testing.T) {
	h := newHarness(t)

	id, err := h.d.Submit(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := h.d.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, teststate.Setup, st.State)
	assert.Nil(t, st.StartedAt)
}

func TestStatusUnknownTest(t *testing.T) {
	h := newHarness(t)

	_, err := h.d.Status(context.Background(), "absent")
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestStartUnknownTest(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.d.Start(context.Background(), "absent", "local://b/p", "", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestStartRejectsBadBucketURI(t *testing.T) {
	h := newHarness(t)

	id, err := h.d.Submit(context.Background())
	require.NoError(t, err)

	_, _, err = h.d.Start(context.Background(), id, "ftp://nope", "", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindBucketURIParse, fault.KindOf(err))

	// the record stays in Setup and can be started properly later
	st, err := h.d.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, teststate.Setup, st.State)
}

func TestFullLifecycle(t *testing.T) {
	h := newHarness(t)
	uri := h.seed(t, "run-1")

	id, err := h.d.Submit(context.Background())
	require.NoError(t, err)

	accepted, _, err := h.d.Start(context.Background(), id, uri, "bdd", nil)
	require.NoError(t, err)
	require.True(t, accepted)

	// starting again while live is an idempotent accept
	accepted, reason, err := h.d.Start(context.Background(), id, uri, "bdd", nil)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, "test already started", reason)

	st := awaitState(t, h.d, id, teststate.Completed, 60*time.Second)
	assert.Equal(t, teststate.OutcomePassed, st.Outcome)
	assert.Equal(t, "bdd", st.TestType)
	assert.Equal(t, 1, st.ScenarioCount)
	assert.Equal(t, 1, st.PassedCount)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.EndedAt)

	// terminal record survives in the completed cache
	accepted, reason, err = h.d.Start(context.Background(), id, uri, "bdd", nil)
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, "test already terminal", reason)
}

func TestAtMostOneExecuting(t *testing.T) {
	h := newHarness(t)

	ids := make([]string, 2)
	for i := range ids {
		uri := h.seed(t, fmt.Sprintf("race-%d", i))
		id, err := h.d.Submit(context.Background())
		require.NoError(t, err)
		accepted, _, err := h.d.Start(context.Background(), id, uri, "", nil)
		require.NoError(t, err)
		require.True(t, accepted)
		ids[i] = id
	}

	deadline := time.Now().Add(90 * time.Second)
	for {
		qs, err := h.d.QueueStatus(context.Background(), "")
		require.NoError(t, err)
		assert.LessOrEqual(t, qs.Counts[teststate.Executing], 1)

		if qs.Counts[teststate.Completed] == 2 {
			break
		}
		require.True(t, time.Now().Before(deadline), "both tests should complete, have %+v", qs)
		time.Sleep(50 * time.Millisecond)
	}

	for _, id := range ids {
		st, err := h.d.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, teststate.Completed, st.State)
		assert.Equal(t, teststate.OutcomePassed, st.Outcome)
	}
}

func TestCancelSetupRecord(t *testing.T) {
	h := newHarness(t)

	id, err := h.d.Submit(context.Background())
	require.NoError(t, err)

	cancelled, _, err := h.d.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	st, err := h.d.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, teststate.Cancelled, st.State)
	assert.Equal(t, teststate.OutcomeCancelled, st.Outcome)

	// cancelling a terminal test reports false
	cancelled, reason, err := h.d.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "test already terminal", reason)
}

func TestCancelUnknownTest(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.d.Cancel(context.Background(), "absent")
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestQueueStatusFilter(t *testing.T) {
	h := newHarness(t)

	a, err := h.d.Submit(context.Background())
	require.NoError(t, err)
	_, err = h.d.Submit(context.Background())
	require.NoError(t, err)

	qs, err := h.d.QueueStatus(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, qs.Counts[teststate.Setup])

	qs, err = h.d.QueueStatus(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 1, qs.Counts[teststate.Setup])
}

func TestReadyFollowsServiceState(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.d.Ready())

	_, err := h.d.Submit(context.Background())
	require.NoError(t, err)
}
