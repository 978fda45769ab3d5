package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/dastctl/internal/domain/scanning"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

func testEvent() scanning.LifecycleEvent {
	return scanning.LifecycleEvent{
		Type:      scanning.EventScanEnd,
		RunID:     uuid.MustParse("6f1c8a52-2d4e-4b55-9a63-0c7d1f0e9b11"),
		ScanName:  "nightly-1",
		ScanID:    "job-42",
		Status:    scanning.ScanStatusComplete,
		Outcome:   scanning.OutcomeSucceeded,
		Policy:    "QuickScan",
		Targets:   []string{"https://shop.example.com"},
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestSink(t *testing.T, producer sarama.SyncProducer, enc Encoding) *Sink {
	t.Helper()
	s, err := NewSink(producer, Config{Brokers: []string{"localhost:9092"}, Topic: "scan-events", Encoding: enc},
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return s
}

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestSinkPublishesJSON(t *testing.T) {
	t.Parallel()
	producer := mocks.NewSyncProducer(t, nil)
	evt := testEvent()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "scan-events" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != evt.RunID.String() {
			return errors.New("record not keyed by run id")
		}
		if headerValue(msg, HeaderEventType) != "scan_end" {
			return errors.New("missing event type header")
		}
		raw, _ := msg.Value.Encode()
		var got scanning.LifecycleEvent
		if err := json.Unmarshal(raw, &got); err != nil {
			return err
		}
		if got.ScanID != "job-42" || got.Outcome != scanning.OutcomeSucceeded {
			return errors.New("unexpected payload")
		}
		return nil
	})

	s := newTestSink(t, producer, "")
	require.NoError(t, s.Deliver(context.Background(), evt))
	require.NoError(t, s.Close())
}

func TestSinkPublishesProtobuf(t *testing.T) {
	t.Parallel()
	producer := mocks.NewSyncProducer(t, nil)

	var payload []byte
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		var err error
		payload, err = msg.Value.Encode()
		return err
	})

	s := newTestSink(t, producer, EncodingProtobuf)
	require.NoError(t, s.Deliver(context.Background(), testEvent()))
	require.NoError(t, s.Close())

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(payload, &st))
	fields := st.AsMap()
	assert.Equal(t, "scan_end", fields["event"])
	assert.Equal(t, "Complete", fields["status"])
	assert.Equal(t, []any{"https://shop.example.com"}, fields["targets"])
}

func TestSinkSendFailure(t *testing.T) {
	t.Parallel()
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := newTestSink(t, producer, EncodingJSON)
	err := s.Deliver(context.Background(), testEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, s.Close())
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Brokers: []string{"b:9092"}, Topic: "t"}},
		{name: "no brokers", cfg: Config{Topic: "t"}, wantErr: true},
		{name: "no topic", cfg: Config{Brokers: []string{"b:9092"}}, wantErr: true},
		{name: "bad encoding", cfg: Config{Brokers: []string{"b:9092"}, Topic: "t", Encoding: "avro"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestProducerConfigBoundsDelivery(t *testing.T) {
	t.Parallel()

	t.Run("send timeout set", func(t *testing.T) {
		t.Parallel()
		pcfg := producerConfig(Config{ClientID: "dastctl", SendTimeout: 3 * time.Second})

		assert.Equal(t, "dastctl", pcfg.ClientID)
		assert.Equal(t, 3*time.Second, pcfg.Net.DialTimeout)
		assert.Equal(t, 3*time.Second, pcfg.Net.ReadTimeout)
		assert.Equal(t, 3*time.Second, pcfg.Net.WriteTimeout)
		assert.Equal(t, 3*time.Second, pcfg.Producer.Timeout)
		assert.Zero(t, pcfg.Producer.Retry.Max)
		assert.Zero(t, pcfg.Metadata.Retry.Max)
		assert.Equal(t, sarama.WaitForAll, pcfg.Producer.RequiredAcks)
		assert.True(t, pcfg.Producer.Return.Successes)
	})

	t.Run("sarama defaults kept without a send timeout", func(t *testing.T) {
		t.Parallel()
		pcfg := producerConfig(Config{})
		def := sarama.NewConfig()

		assert.Equal(t, def.Net.DialTimeout, pcfg.Net.DialTimeout)
		assert.Equal(t, def.Producer.Retry.Max, pcfg.Producer.Retry.Max)
	})
}

func TestSinkSkipsSendWhenContextDone(t *testing.T) {
	t.Parallel()
	producer := mocks.NewSyncProducer(t, nil)
	s := newTestSink(t, producer, EncodingJSON)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Deliver(ctx, testEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, producer.Close())
}
