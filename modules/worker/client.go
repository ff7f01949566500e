// Package worker owns the per-topic producer and consumer sessions of a
// running test. Workers are dskit services; the supervisor joins on their
// lifecycle and the DSL gateway dispatches glue calls to them.
package worker

import (
	"crypto/tls"
	"strings"

	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/eventstack/maestro/pkg/directive"
	"github.com/eventstack/maestro/pkg/secrets"
)

// one shared metrics hook; kprom registers on the default registerer at init
var kafkaMetrics = kprom.NewMetrics("maestro_kafka")

// newKafkaClient builds a kgo client for one worker. This is the only place
// that unwraps the auth config secret.
func newKafkaClient(cfg Config, d directive.TopicDirective, sec secrets.SecurityDirective, opts ...kgo.Opt) (*kgo.Client, error) {
	bootstrap := cfg.BootstrapServers
	if d.BootstrapOverride != "" {
		bootstrap = d.BootstrapOverride
	}

	opts = append(opts,
		kgo.SeedBrokers(strings.Split(bootstrap, ",")...),
		kgo.ClientID(cfg.ClientID),
		kgo.DialTimeout(cfg.DialTimeout),
		kgo.AllowAutoTopicCreation(),
		kgo.WithHooks(kafkaMetrics),
	)

	if sec.Protocol == secrets.ProtocolAuthTLS {
		creds, err := secrets.ParseAuthConfig(sec.AuthConfig)
		if err != nil {
			return nil, err
		}
		mech, err := saslMechanism(creds)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			kgo.SASL(mech),
			kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}),
		)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating kafka client")
	}
	return client, nil
}

func saslMechanism(creds secrets.Credentials) (sasl.Mechanism, error) {
	switch creds.Mechanism {
	case "SCRAM-SHA-512":
		return scram.Auth{User: creds.Username, Pass: creds.Password}.AsSha512Mechanism(), nil
	case "SCRAM-SHA-256":
		return scram.Auth{User: creds.Username, Pass: creds.Password}.AsSha256Mechanism(), nil
	case "PLAIN":
		return plain.Auth{User: creds.Username, Pass: creds.Password}.AsMechanism(), nil
	default:
		return nil, errors.Errorf("unsupported sasl mechanism %q", creds.Mechanism)
	}
}
