package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/eventstack/maestro/pkg/directive"
	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/mapping"
)

// metadata key a directive may use to opt out of authenticated transport
const metadataProtocolKey = "security_protocol"

// Resolver turns topic directives into security directives by invoking the
// remote credential function once per (topic, role).
type Resolver struct {
	cfg    Config
	client *http.Client
	logger log.Logger
}

func NewResolver(cfg Config, logger log.Logger) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: log.With(logger, "component", "secrets"),
	}, nil
}

// ResolveAll processes all directives concurrently. The first non-transient
// failure cancels the remaining fetches.
func (r *Resolver) ResolveAll(ctx context.Context, ds []directive.TopicDirective) ([]SecurityDirective, error) {
	out := make([]SecurityDirective, len(ds))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range ds {
		g.Go(func() error {
			sec, err := r.Resolve(gctx, d)
			if err != nil {
				return err
			}
			out[i] = sec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve fetches and maps credentials for a single directive, retrying
// transient failures on the configured linear backoff schedule.
func (r *Resolver) Resolve(ctx context.Context, d directive.TopicDirective) (SecurityDirective, error) {
	proto := Protocol(r.cfg.DefaultProtocol)
	if p, ok := d.Metadata[metadataProtocolKey]; ok {
		proto = Protocol(p)
	}
	if proto == ProtocolPlaintext {
		return SecurityDirective{Topic: d.Topic, Role: d.Role, Protocol: ProtocolPlaintext}, nil
	}

	body, err := r.requestBody(d)
	if err != nil {
		return SecurityDirective{}, err
	}

	var sec SecurityDirective
	err = fault.WithRetry(ctx, r.cfg.MaxAttempts, r.cfg.InitialBackoff, func(ctx context.Context) error {
		var attemptErr error
		sec, attemptErr = r.fetchOnce(ctx, d, body)
		return attemptErr
	})
	if err != nil {
		return SecurityDirective{}, err
	}

	level.Debug(r.logger).Log("msg", "credentials resolved", "topic", d.Topic, "role", d.Role, "authConfig", sec.AuthConfig)
	return sec, nil
}

func (r *Resolver) requestBody(d directive.TopicDirective) ([]byte, error) {
	body, err := mapping.RenderTemplate([]byte(r.cfg.RequestTemplate), mapping.TemplateContext{
		RequestParams: namespaced(r.cfg.RequestParams),
		Metadata:      d.Metadata,
		Fields: map[string]string{
			"topic":           d.Topic,
			"role":            string(d.Role),
			"clientPrincipal": d.ClientPrincipal,
		},
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, err, "rendering request template for topic %q", d.Topic)
	}
	return body, nil
}

func (r *Resolver) fetchOnce(ctx context.Context, d directive.TopicDirective, body []byte) (SecurityDirective, error) {
	start := time.Now()
	metricRequestsTotal.WithLabelValues(d.Topic).Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return SecurityDirective{}, fault.Wrap(fault.KindConfiguration, err, "building secret service request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return SecurityDirective{}, ctx.Err()
		}
		return SecurityDirective{}, fault.Wrap(fault.KindTransient, err, "secret service request for topic %q", d.Topic)
	}
	defer resp.Body.Close()
	metricRequestDuration.Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		kind := classifyStatus(resp.StatusCode)
		return SecurityDirective{}, fault.New(kind, "secret service returned %d for topic %q role %q", resp.StatusCode, d.Topic, d.Role)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SecurityDirective{}, fault.Wrap(fault.KindTransient, err, "reading secret service response")
	}

	creds, err := r.mapCredentials(raw)
	if err != nil {
		return SecurityDirective{}, err
	}

	return SecurityDirective{
		Topic:      d.Topic,
		Role:       d.Role,
		Protocol:   ProtocolAuthTLS,
		AuthConfig: BuildAuthConfig(creds),
	}, nil
}

// mapCredentials is deterministic: the same response and mappings always
// produce the same Credentials.
func (r *Resolver) mapCredentials(raw []byte) (Credentials, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Credentials{}, fault.Wrap(fault.KindMapping, err, "secret service response is not JSON")
	}

	username, err := mapping.Apply(doc, r.cfg.Mappings.Username)
	if err != nil {
		return Credentials{}, fault.Wrap(fault.KindMapping, err, "mapping username")
	}
	password, err := mapping.Apply(doc, r.cfg.Mappings.Password)
	if err != nil {
		return Credentials{}, fault.Wrap(fault.KindMapping, err, "mapping password")
	}
	mechanism, err := mapping.Apply(doc, r.cfg.Mappings.Mechanism)
	if err != nil {
		return Credentials{}, fault.Wrap(fault.KindMapping, err, "mapping mechanism")
	}

	return Credentials{Username: username, Password: password, Mechanism: mechanism}, nil
}

func namespaced(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[mapping.RequestParamsNamespace+k] = v
	}
	return out
}
