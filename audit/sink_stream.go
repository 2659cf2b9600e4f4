package audit

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
)

// StreamAdder is the subset of a go-redis client used by RedisStreamSink.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink appends events to a Redis stream with XADD.
type RedisStreamSink struct {
	client StreamAdder
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink on stream. A positive maxLen trims
// the stream approximately to that length.
func NewRedisStreamSink(client StreamAdder, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = "phigate:audit"
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Write adds one stream entry per event.
func (s *RedisStreamSink) Write(ctx context.Context, events []Event) error {
	for i := range events {
		e := &events[i]
		payload, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "marshal audit event")
		}
		args := &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]any{
				"event_type": string(e.EventType),
				"sequence":   strconv.FormatUint(e.Sequence, 10),
				"event":      payload,
			},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		if err := s.client.XAdd(ctx, args).Err(); err != nil {
			return errors.Mark(errors.Wrapf(err, "xadd %s", s.stream), ErrSinkUnavailable)
		}
	}
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStreamSink) Close() error {
	return nil
}

// Producer is the subset of a franz-go client used by KafkaSink.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink produces events to a Kafka topic. All events share one key so
// they land on one partition and keep their order.
type KafkaSink struct {
	producer Producer
	topic    string
	key      []byte
	closer   func()
}

// NewKafkaSink creates a sink producing to topic through p.
func NewKafkaSink(p Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic, key: []byte("phigate-audit")}
}

// NewKafkaSinkBrokers creates a franz-go client for brokers with acks from all
// in-sync replicas, and a sink that closes it on Close.
func NewKafkaSinkBrokers(brokers []string, topic string) (*KafkaSink, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	s := NewKafkaSink(cl, topic)
	s.closer = cl.Close
	return s, nil
}

// Write produces the batch synchronously.
func (s *KafkaSink) Write(ctx context.Context, events []Event) error {
	records := make([]*kgo.Record, 0, len(events))
	for i := range events {
		e := &events[i]
		payload, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "marshal audit event")
		}
		records = append(records, &kgo.Record{
			Topic: s.topic,
			Key:   s.key,
			Value: payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.EventType)},
				{Key: "hash", Value: []byte(e.Hash)},
			},
		})
	}
	if err := s.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return errors.Mark(errors.Wrapf(err, "produce to %s", s.topic), ErrSinkUnavailable)
	}
	return nil
}

// Close closes the client when the sink created it.
func (s *KafkaSink) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}
