package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventstack/maestro/pkg/fault"
)

const validDoc = `
topics:
  - topic: orders
    role: producer
    client_principal: svc-orders
    metadata:
      format: json
  - topic: orders
    role: consumer
    client_principal: svc-orders
  - topic: shipments
    role: consumer
    client_principal: svc-shipments
    bootstrap_servers: broker-1:9092,broker-2:9092
glue_packages:
  - kafka
tags:
  - smoke
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(validDoc))
	require.NoError(t, err)

	require.Len(t, m.Topics, 3)
	assert.Equal(t, "orders", m.Topics[0].Topic)
	assert.Equal(t, RoleProducer, m.Topics[0].Role)
	assert.Equal(t, "json", m.Topics[0].Metadata["format"])
	assert.Equal(t, []string{"kafka"}, m.GluePackages)
	assert.Equal(t, []string{"smoke"}, m.Tags)
}

func TestParseAllowsOppositeRolesOnSameTopic(t *testing.T) {
	m, err := Parse([]byte(validDoc))
	require.NoError(t, err)
	assert.Equal(t, m.Topics[0].Topic, m.Topics[1].Topic)
	assert.NotEqual(t, m.Topics[0].Role, m.Topics[1].Role)
}

func TestValidateDuplicateTopicRole(t *testing.T) {
	err := Validate([]TopicDirective{
		{Topic: "orders", Role: RoleProducer},
		{Topic: "orders", Role: RoleProducer},
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindDuplicateTopic, fault.KindOf(err))
	assert.Contains(t, err.Error(), "orders")
}

func TestValidateBootstrapServers(t *testing.T) {
	valid := []string{
		"broker:9092",
		"a:1,b:65535",
		"10.0.0.1:9092",
	}
	for _, s := range valid {
		t.Run(s, func(t *testing.T) {
			assert.NoError(t, Validate([]TopicDirective{{Topic: "t", Role: RoleProducer, BootstrapOverride: s}}))
		})
	}

	invalid := []string{
		"broker",
		"broker:",
		":9092",
		"broker:0",
		"broker:65536",
		"broker:port",
		"a:9092,b",
	}
	for _, s := range invalid {
		t.Run(s, func(t *testing.T) {
			err := Validate([]TopicDirective{{Topic: "t", Role: RoleProducer, BootstrapOverride: s}})
			require.Error(t, err)
			assert.Equal(t, fault.KindInvalidBootstrapServers, fault.KindOf(err))
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for name, doc := range map[string]string{
		"not yaml":     "{{{{",
		"no topics":    "glue_packages: [kafka]",
		"unknown role": "topics:\n  - topic: t\n    role: spectator",
		"empty topic":  "topics:\n  - topic: \"\"\n    role: producer",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
