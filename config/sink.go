package config

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/audit"
)

// OpenSink opens the configured audit sink. The returned sink owns every
// connection it opened.
func (c *Config) OpenSink(ctx context.Context) (audit.Sink, error) {
	switch c.Audit.Sink {
	case SinkFile:
		s, err := audit.NewFileSink(c.AuditLogPath)
		if err != nil {
			return nil, ph.WrapConfigurationError(err, "audit_log_path")
		}
		return s, nil

	case SinkPostgres:
		s, err := audit.NewPostgresSinkDSN(c.Audit.Postgres.DSN, audit.WithTable(c.Audit.Postgres.Table))
		if err != nil {
			return nil, ph.WrapConfigurationError(err, "audit.postgres.dsn")
		}
		if err := s.CreateTable(ctx); err != nil {
			_ = s.Close()
			return nil, ph.WrapConfigurationError(err, "audit.postgres")
		}
		return s, nil

	case SinkRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Audit.Redis.Addr,
			Password: c.Audit.Redis.Password,
			DB:       c.Audit.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, ph.WrapConfigurationError(err, "audit.redis.addr")
		}
		return &ownedSink{
			Sink:  audit.NewRedisStreamSink(client, c.Audit.Redis.Stream, c.Audit.Redis.MaxLen),
			close: client.Close,
		}, nil

	case SinkKafka:
		s, err := audit.NewKafkaSinkBrokers(c.Audit.Kafka.Brokers, c.Audit.Kafka.Topic)
		if err != nil {
			return nil, ph.WrapConfigurationError(err, "audit.kafka")
		}
		return s, nil

	case SinkNone:
		return audit.DiscardSink{}, nil
	}
	return nil, ph.NewConfigurationError("audit.sink", "unknown sink "+c.Audit.Sink)
}

// OpenAuditor opens the configured sink and starts an emitter on it. The
// caller must Close the emitter, which also closes the sink. reg may be nil.
func (c *Config) OpenAuditor(ctx context.Context, log *zap.Logger, reg prometheus.Registerer) (*audit.Emitter, error) {
	sink, err := c.OpenSink(ctx)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts := []audit.Option{
		audit.WithConfig(audit.Config{
			BufferSize:    c.Audit.BufferSize,
			BatchSize:     c.Audit.BatchSize,
			MaxRetries:    c.Audit.MaxRetries,
			RetryBackoff:  c.Audit.RetryBackoff,
			FlushInterval: c.Audit.FlushInterval,
		}),
		audit.WithLogger(log.Named("audit")),
	}
	if reg != nil {
		opts = append(opts, audit.WithRegisterer(reg))
	}
	return audit.NewEmitter(sink, opts...), nil
}

// ownedSink closes a client the wrapped sink does not own.
type ownedSink struct {
	audit.Sink
	close func() error
}

func (s *ownedSink) Close() error {
	err := s.Sink.Close()
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}
