// Package directive models the per-topic test configuration parsed out of the
// asset tree. Directives are read-only after parse; the supervisor hands them
// to the secret resolver and the workers.
package directive

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/eventstack/maestro/pkg/fault"
)

type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// EventFilter narrows which event payloads a consumer cares about.
type EventFilter struct {
	EventType      string `yaml:"event_type"`
	PayloadVersion string `yaml:"payload_version"`
}

// TopicDirective configures one (topic, role) pair of a test.
type TopicDirective struct {
	Topic             string            `yaml:"topic"`
	Role              Role              `yaml:"role"`
	ClientPrincipal   string            `yaml:"client_principal"`
	EventFilters      []EventFilter     `yaml:"event_filters,omitempty"`
	Metadata          map[string]string `yaml:"metadata,omitempty"`
	BootstrapOverride string            `yaml:"bootstrap_servers,omitempty"`
}

// Manifest is the single topic-directive document of an asset tree.
type Manifest struct {
	Topics       []TopicDirective `yaml:"topics"`
	GluePackages []string         `yaml:"glue_packages,omitempty"`
	Tags         []string         `yaml:"tags,omitempty"`
}

// Parse unmarshals and validates a topic-directive document.
func Parse(b []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.UnmarshalStrict(b, &m); err != nil {
		return nil, fault.Wrap(fault.KindInvalidTopicDirective, err, "parsing topic directives")
	}
	if len(m.Topics) == 0 {
		return nil, fault.New(fault.KindInvalidTopicDirective, "topic directive document declares no topics")
	}
	if err := Validate(m.Topics); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate enforces the directive set invariants: (topic, role) pairs are
// unique and bootstrap overrides are well-formed host:port lists.
func Validate(ds []TopicDirective) error {
	type key struct {
		topic string
		role  Role
	}
	seen := make(map[key]struct{}, len(ds))

	for _, d := range ds {
		if d.Topic == "" {
			return fault.New(fault.KindInvalidTopicDirective, "directive with empty topic")
		}
		if d.Role != RoleProducer && d.Role != RoleConsumer {
			return fault.New(fault.KindInvalidTopicDirective, "topic %q has unknown role %q", d.Topic, d.Role)
		}
		k := key{d.Topic, d.Role}
		if _, dup := seen[k]; dup {
			return fault.New(fault.KindDuplicateTopic, "duplicate directive for topic %q role %q", d.Topic, d.Role)
		}
		seen[k] = struct{}{}

		if d.BootstrapOverride != "" {
			if err := validateBootstrapServers(d.BootstrapOverride); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateBootstrapServers accepts host:port(,host:port)* with ports in [1,65535].
func validateBootstrapServers(s string) error {
	for _, hp := range strings.Split(s, ",") {
		idx := strings.LastIndex(hp, ":")
		if idx <= 0 || idx == len(hp)-1 {
			return fault.New(fault.KindInvalidBootstrapServers, "bootstrap server %q is not host:port", hp)
		}
		port, err := strconv.Atoi(hp[idx+1:])
		if err != nil || port < 1 || port > 65535 {
			return fault.New(fault.KindInvalidBootstrapServers, "bootstrap server %q has invalid port", hp)
		}
	}
	return nil
}
