package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/eventstack/maestro/pkg/directive"
	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/secrets"
)

// Consumer owns one kafka consumer session for a single topic directive. It
// polls continuously into a bounded correlation buffer; glue code claims
// records out of the buffer by correlation id.
type Consumer struct {
	services.Service

	cfg    Config
	d      directive.TopicDirective
	sec    secrets.SecurityDirective
	logger log.Logger

	client *kgo.Client
	buffer *correlationBuffer
}

func NewConsumer(cfg Config, d directive.TopicDirective, sec secrets.SecurityDirective, logger log.Logger) *Consumer {
	c := &Consumer{
		cfg:    cfg,
		d:      d,
		sec:    sec,
		logger: log.With(logger, "component", "consumer", "topic", d.Topic),
		buffer: newCorrelationBuffer(cfg.BufferSize),
	}
	c.Service = services.NewBasicService(c.starting, c.running, c.stopping)
	return c
}

func (c *Consumer) starting(ctx context.Context) error {
	client, err := newKafkaClient(c.cfg, c.d, c.sec,
		kgo.ConsumeTopics(c.d.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.FetchMaxWait(c.cfg.FetchMaxWait),
	)
	if err != nil {
		return fault.Wrap(fault.KindConfiguration, err, "building consumer for topic %q", c.d.Topic)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return fault.Wrap(fault.KindTransient, err, "pinging brokers for topic %q", c.d.Topic)
	}
	c.client = client
	level.Info(c.logger).Log("msg", "consumer session ready")
	return nil
}

func (c *Consumer) running(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			level.Warn(c.logger).Log("msg", "fetch error", "partition", partition, "err", err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			c.ingest(rec)
		})
	}
}

func (c *Consumer) stopping(_ error) error {
	if c.client != nil {
		c.client.Close()
	}
	c.buffer.close()
	return nil
}

func (c *Consumer) ingest(rec *kgo.Record) {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}

	correlationID := string(rec.Key)
	if correlationID == "" {
		correlationID = headers[CorrelationHeader]
	}
	if correlationID == "" {
		metricDroppedRecords.WithLabelValues(c.d.Topic).Inc()
		return
	}
	if !c.matchesFilters(rec.Value) {
		metricDroppedRecords.WithLabelValues(c.d.Topic).Inc()
		return
	}

	metricConsumedRecords.WithLabelValues(c.d.Topic).Inc()
	c.buffer.add(&ConsumedRecord{
		Topic:         rec.Topic,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
		Key:           string(rec.Key),
		Payload:       rec.Value,
		Headers:       headers,
		CorrelationID: correlationID,
	})
}

// matchesFilters applies the directive's event filters to a json payload. A
// directive without filters accepts everything; a payload that is not a json
// object only passes when no filters are set.
func (c *Consumer) matchesFilters(payload []byte) bool {
	if len(c.d.EventFilters) == 0 {
		return true
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return false
	}
	eventType, _ := doc["event_type"].(string)
	version, _ := doc["payload_version"].(string)

	for _, f := range c.d.EventFilters {
		if f.EventType != "" && f.EventType != eventType {
			continue
		}
		if f.PayloadVersion != "" && f.PayloadVersion != version {
			continue
		}
		return true
	}
	return false
}

// FetchByCorrelation claims the record with the given correlation id,
// waiting up to timeout for it to arrive.
func (c *Consumer) FetchByCorrelation(ctx context.Context, correlationID string, timeout time.Duration) (*ConsumedRecord, error) {
	if c.State() != services.Running {
		return nil, fault.New(fault.KindExecutor, "consumer for topic %q is %s", c.d.Topic, c.State())
	}
	return c.buffer.fetch(ctx, correlationID, timeout)
}

// UnmatchedCount reports how many consumed records were never claimed.
func (c *Consumer) UnmatchedCount() int { return c.buffer.unmatchedCount() }

// Topic returns the directive topic this consumer serves.
func (c *Consumer) Topic() string { return c.d.Topic }
