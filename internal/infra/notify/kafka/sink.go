// Package kafka publishes scan lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/dastctl/internal/app/notify"
	"github.com/ahrav/dastctl/internal/domain/scanning"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

// Encoding selects how events are serialized onto the topic.
type Encoding string

const (
	EncodingJSON     Encoding = "json"
	EncodingProtobuf Encoding = "protobuf"
)

// HeaderEventType carries the lifecycle event type on every record.
const HeaderEventType = "event-type"

// Config holds the producer settings.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	Encoding Encoding
	// ConnectTimeout bounds how long Connect keeps retrying. Zero means one
	// minute.
	ConnectTimeout time.Duration
	// SendTimeout bounds each network step of a delivery and the produce ack.
	// When set, failed sends are not retried by the producer.
	SendTimeout time.Duration
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	switch c.Encoding {
	case "", EncodingJSON, EncodingProtobuf:
		return nil
	default:
		return fmt.Errorf("kafka: unsupported encoding %q", c.Encoding)
	}
}

var _ notify.Sink = (*Sink)(nil)

// Sink sends one record per lifecycle event, keyed by run id so every event
// of a run lands on the same partition.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	encoding Encoding

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSink wraps an existing producer.
func NewSink(producer sarama.SyncProducer, cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = EncodingJSON
	}
	return &Sink{
		producer: producer,
		topic:    cfg.Topic,
		encoding: enc,
		logger:   logger.With("component", "kafka_notify_sink", "topic", cfg.Topic),
		tracer:   tracer,
	}, nil
}

// Connect dials the brokers with exponential backoff and returns a Sink
// backed by a synchronous producer.
func Connect(cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pcfg := producerConfig(cfg)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = cfg.ConnectTimeout
	if expBackoff.MaxElapsedTime <= 0 {
		expBackoff.MaxElapsedTime = time.Minute
	}

	var producer sarama.SyncProducer
	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, pcfg)
		if err != nil {
			logger.Warn(context.Background(), "Kafka not reachable yet", "brokers", cfg.Brokers, "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return NewSink(producer, cfg, logger, tracer)
}

func producerConfig(cfg Config) *sarama.Config {
	pcfg := sarama.NewConfig()
	if cfg.ClientID != "" {
		pcfg.ClientID = cfg.ClientID
	}
	pcfg.Producer.RequiredAcks = sarama.WaitForAll
	pcfg.Producer.Return.Successes = true
	pcfg.Producer.Partitioner = sarama.NewHashPartitioner

	if t := cfg.SendTimeout; t > 0 {
		pcfg.Net.DialTimeout = t
		pcfg.Net.ReadTimeout = t
		pcfg.Net.WriteTimeout = t
		pcfg.Producer.Timeout = t
		pcfg.Producer.Retry.Max = 0
		pcfg.Metadata.Retry.Max = 0
	}
	return pcfg
}

// Name implements notify.Sink.
func (s *Sink) Name() string { return "kafka" }

// Deliver publishes evt once. The producer does not observe ctx after the
// send starts; SendTimeout bounds it instead.
func (s *Sink) Deliver(ctx context.Context, evt scanning.LifecycleEvent) error {
	ctx, span := startProducerSpan(ctx, s.topic, s.tracer)
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", evt.Type.String()),
		attribute.String("event.key", evt.RunID.String()),
	)

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("not publishing %s event: %w", evt.Type, err)
	}

	payload, err := s.encode(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode event")
		return fmt.Errorf("failed to encode %s event: %w", evt.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(evt.RunID.String()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(evt.Type.String())},
		},
	}
	injectTraceContext(ctx, msg)

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		return fmt.Errorf("failed to send message to kafka topic %s: %w", s.topic, err)
	}

	s.logger.Debug(ctx, "Published lifecycle event",
		"event", evt.Type,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (s *Sink) encode(evt scanning.LifecycleEvent) ([]byte, error) {
	if s.encoding == EncodingJSON {
		return json.Marshal(evt)
	}

	targets := make([]any, len(evt.Targets))
	for i, t := range evt.Targets {
		targets[i] = t
	}
	st, err := structpb.NewStruct(map[string]any{
		"event":     evt.Type.String(),
		"run_id":    evt.RunID.String(),
		"scan_name": evt.ScanName,
		"scan_id":   evt.ScanID,
		"status":    evt.Status.String(),
		"outcome":   string(evt.Outcome),
		"policy":    evt.Policy,
		"targets":   targets,
		"timestamp": evt.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// Close closes the underlying producer.
func (s *Sink) Close() error { return s.producer.Close() }
