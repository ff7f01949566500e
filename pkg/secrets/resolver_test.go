package secrets

import (
	"bytes"
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventstack/maestro/pkg/directive"
	"github.com/eventstack/maestro/pkg/fault"
)

func testConfig(endpoint string) Config {
	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))
	cfg.Endpoint = endpoint
	cfg.MaxAttempts = 3
	cfg.InitialBackoff = time.Millisecond
	return cfg
}

func testDirective() directive.TopicDirective {
	return directive.TopicDirective{
		Topic:           "orders",
		Role:            directive.RoleProducer,
		ClientPrincipal: "svc-orders",
	}
}

func TestResolveHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"username": "alice", "password": "hunter2"}`))
	}))
	defer srv.Close()

	r, err := NewResolver(testConfig(srv.URL), kitlog.NewNopLogger())
	require.NoError(t, err)

	sec, err := r.Resolve(context.Background(), testDirective())
	require.NoError(t, err)
	assert.Equal(t, "orders", sec.Topic)
	assert.Equal(t, ProtocolAuthTLS, sec.Protocol)

	creds, err := ParseAuthConfig(sec.AuthConfig)
	require.NoError(t, err)
	assert.Equal(t, "alice", creds.Username)
	assert.Equal(t, "hunter2", creds.Password)
	assert.Equal(t, "SCRAM-SHA-512", creds.Mechanism)
}

func TestResolveTransientEventualSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"username": "u", "password": "p"}`))
	}))
	defer srv.Close()

	r, err := NewResolver(testConfig(srv.URL), kitlog.NewNopLogger())
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testDirective())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolveRetryBound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r, err := NewResolver(testConfig(srv.URL), kitlog.NewNopLogger())
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testDirective())
	require.Error(t, err)
	assert.Equal(t, fault.KindTransientExhausted, fault.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolveAuthFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	r, err := NewResolver(testConfig(srv.URL), kitlog.NewNopLogger())
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testDirective())
	require.Error(t, err)
	assert.Equal(t, fault.KindAuth, fault.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveMappingFailureIsNonTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"unexpected": true}`))
	}))
	defer srv.Close()

	r, err := NewResolver(testConfig(srv.URL), kitlog.NewNopLogger())
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testDirective())
	require.Error(t, err)
	assert.Equal(t, fault.KindMapping, fault.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolvePlaintextSkipsVault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("plaintext directive must not hit the secret service")
	}))
	defer srv.Close()

	r, err := NewResolver(testConfig(srv.URL), kitlog.NewNopLogger())
	require.NoError(t, err)

	d := testDirective()
	d.Metadata = map[string]string{"security_protocol": "plaintext"}

	sec, err := r.Resolve(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, ProtocolPlaintext, sec.Protocol)
	assert.True(t, sec.AuthConfig.IsZero())
}

func TestResolveAllCancelsSiblingsOnAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	r, err := NewResolver(testConfig(srv.URL), kitlog.NewNopLogger())
	require.NoError(t, err)

	ds := []directive.TopicDirective{
		{Topic: "a", Role: directive.RoleProducer, ClientPrincipal: "p"},
		{Topic: "b", Role: directive.RoleConsumer, ClientPrincipal: "p"},
		{Topic: "c", Role: directive.RoleConsumer, ClientPrincipal: "p"},
	}
	_, err = r.ResolveAll(context.Background(), ds)
	require.Error(t, err)
	assert.Equal(t, fault.KindAuth, fault.KindOf(err))
}

func TestResolveLogsAreRedacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"username": "alice", "password": "sup3r-s3cr3t-pw"}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(&buf))

	r, err := NewResolver(testConfig(srv.URL), logger)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), testDirective())
	require.NoError(t, err)

	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		assert.False(t, ContainsSecrets(string(line)), "log line leaks a secret: %s", line)
	}
	assert.NotContains(t, buf.String(), "sup3r-s3cr3t-pw")
}

func TestSecretRedaction(t *testing.T) {
	s := NewSecret("raw-value")
	assert.Equal(t, Redacted, s.String())

	j, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(j), "raw-value")

	assert.Equal(t, "raw-value", s.Unsafe())
	assert.True(t, ContainsSecrets("leaked raw-value here"))
	assert.False(t, ContainsSecrets("clean line"))
}

func TestBuildParseAuthConfigRoundTrip(t *testing.T) {
	in := Credentials{Username: `us"er`, Password: `pa\ss"word`, Mechanism: "SCRAM-SHA-256"}
	out, err := ParseAuthConfig(BuildAuthConfig(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
