package worker

import (
	"context"
	"encoding/json"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/eventstack/maestro/pkg/directive"
	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/secrets"
)

// CorrelationHeader carries the event test id on every produced record so
// consumers without a key can still correlate.
const CorrelationHeader = "event-test-id"

// ProduceRequest is one glue-initiated publish. PayloadType, when set,
// overrides the format declared in the directive metadata.
type ProduceRequest struct {
	EventTestID string
	Key         string
	Payload     []byte
	Headers     map[string]string
	PayloadType string
}

// ProduceAck reports where the record landed.
type ProduceAck struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Producer owns one kafka producer session for a single topic directive.
// Records with the same key keep their publish order.
type Producer struct {
	services.Service

	cfg    Config
	d      directive.TopicDirective
	sec    secrets.SecurityDirective
	logger log.Logger

	client *kgo.Client
}

func NewProducer(cfg Config, d directive.TopicDirective, sec secrets.SecurityDirective, logger log.Logger) *Producer {
	p := &Producer{
		cfg:    cfg,
		d:      d,
		sec:    sec,
		logger: log.With(logger, "component", "producer", "topic", d.Topic),
	}
	p.Service = services.NewBasicService(p.starting, p.running, p.stopping)
	return p
}

func (p *Producer) starting(ctx context.Context) error {
	client, err := newKafkaClient(p.cfg, p.d, p.sec,
		kgo.DefaultProduceTopic(p.d.Topic),
		kgo.ProduceRequestTimeout(p.cfg.ProduceTimeout),
	)
	if err != nil {
		return fault.Wrap(fault.KindConfiguration, err, "building producer for topic %q", p.d.Topic)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return fault.Wrap(fault.KindTransient, err, "pinging brokers for topic %q", p.d.Topic)
	}
	p.client = client
	level.Info(p.logger).Log("msg", "producer session ready")
	return nil
}

func (p *Producer) running(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (p *Producer) stopping(_ error) error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// Produce publishes one record and waits for the broker ack.
func (p *Producer) Produce(ctx context.Context, req ProduceRequest) (*ProduceAck, error) {
	if p.State() != services.Running {
		return nil, fault.New(fault.KindProduceError, "producer for topic %q is %s", p.d.Topic, p.State())
	}
	if err := p.validatePayload(req.Payload, req.PayloadType); err != nil {
		return nil, err
	}

	key := req.Key
	if key == "" {
		key = req.EventTestID
	}

	rec := &kgo.Record{
		Topic: p.d.Topic,
		Key:   []byte(key),
		Value: req.Payload,
	}
	rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: CorrelationHeader, Value: []byte(req.EventTestID)})
	for k, v := range req.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProduceTimeout)
	defer cancel()

	res := p.client.ProduceSync(ctx, rec)
	if err := res.FirstErr(); err != nil {
		metricProduceFailures.WithLabelValues(p.d.Topic).Inc()
		return nil, fault.Wrap(fault.KindProduceError, err, "producing to topic %q", p.d.Topic)
	}

	r, _ := res.First()
	metricProducedRecords.WithLabelValues(p.d.Topic).Inc()
	level.Debug(p.logger).Log("msg", "record produced", "event_test_id", req.EventTestID, "partition", r.Partition, "offset", r.Offset)

	return &ProduceAck{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}, nil
}

// validatePayload rejects payloads that do not match the declared format
// before they reach the broker. Formats other than json pass through.
func (p *Producer) validatePayload(payload []byte, payloadType string) error {
	format := payloadType
	if format == "" {
		format = p.d.Metadata["format"]
	}
	if format == "" {
		format = "json"
	}
	if format == "json" && !json.Valid(payload) {
		return fault.New(fault.KindProduceError, "payload for topic %q is not valid json", p.d.Topic)
	}
	return nil
}

// Topic returns the directive topic this producer serves.
func (p *Producer) Topic() string { return p.d.Topic }
