// Package config loads phigate configuration from a file and PHIGATE_*
// environment variables and turns it into validator options.
package config

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/pkg/logger"
	"github.com/gofhir/phigate/terminology"
)

// EnvPrefix is the prefix of environment variables overriding file keys.
// Nested keys join with an underscore: PHIGATE_AUDIT_SINK.
const EnvPrefix = "PHIGATE"

// Audit sink kinds.
const (
	SinkFile     = "file"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
	SinkKafka    = "kafka"
	SinkNone     = "none"
)

// Config is the file representation of the validator configuration.
type Config struct {
	AuditLogPath        string              `mapstructure:"audit_log_path"`
	StrictMode          bool                `mapstructure:"strict_mode"`
	WarnUnknownFields   bool                `mapstructure:"warn_unknown_fields"`
	IncludePHIFindings  bool                `mapstructure:"include_phi_findings"`
	IncludeQuality      bool                `mapstructure:"include_quality"`
	PHIPatterns         []ph.PatternConfig  `mapstructure:"phi_patterns"`
	PHIFieldNames       map[string]string   `mapstructure:"phi_field_names"`
	FreeTextThreshold   int                 `mapstructure:"free_text_threshold"`
	AggregateDateFields []string            `mapstructure:"aggregate_date_fields"`
	ValidationRules     []ph.RuleConfig     `mapstructure:"validation_rules"`
	ReferenceRanges     map[string]ph.Range `mapstructure:"reference_ranges"`
	QualityWeights      ph.QualityWeights   `mapstructure:"quality_weights"`
	Workers             int                 `mapstructure:"workers"`
	Actor               string              `mapstructure:"actor"`

	Audit       AuditConfig       `mapstructure:"audit"`
	Terminology TerminologyConfig `mapstructure:"terminology"`
	Log         LogConfig         `mapstructure:"log"`
}

// AuditConfig selects and tunes the audit sink.
type AuditConfig struct {
	Sink          string        `mapstructure:"sink"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// PostgresConfig configures the postgres audit sink.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// RedisConfig configures the Redis stream audit sink.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// KafkaConfig configures the Kafka audit sink.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// TerminologyConfig points at FHIR ValueSet and CodeSystem resources.
type TerminologyConfig struct {
	Dir      string        `mapstructure:"dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	d := ph.DefaultOptions()

	v.SetDefault("audit_log_path", d.AuditLogPath)
	v.SetDefault("strict_mode", d.StrictMode)
	v.SetDefault("warn_unknown_fields", d.WarnUnknownFields)
	v.SetDefault("include_phi_findings", d.IncludePHIFindings)
	v.SetDefault("include_quality", d.IncludeQuality)
	v.SetDefault("free_text_threshold", d.FreeTextThreshold)
	v.SetDefault("quality_weights.completeness", d.QualityWeights.Completeness)
	v.SetDefault("quality_weights.consistency", d.QualityWeights.Consistency)
	v.SetDefault("quality_weights.accuracy", d.QualityWeights.Accuracy)
	v.SetDefault("workers", d.WorkerCount)
	v.SetDefault("actor", d.Actor)

	v.SetDefault("audit.sink", SinkFile)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.batch_size", d.Audit.BatchSize)
	v.SetDefault("audit.max_retries", d.Audit.MaxRetries)
	v.SetDefault("audit.retry_backoff", d.Audit.RetryBackoff)
	v.SetDefault("audit.flush_interval", d.Audit.FlushInterval)
	v.SetDefault("audit.postgres.table", "phigate_audit_events")
	v.SetDefault("audit.redis.stream", "phigate:audit")
	v.SetDefault("audit.kafka.topic", "phigate.audit")

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads path, if not empty, overlays PHIGATE_* variables and
// validates the result. The file format follows the extension.
func Load(path string) (*Config, error) {
	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// ReadFile reads the configuration file at path into v. An empty path is
// a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return ph.WrapConfigurationError(errors.Wrapf(err, "read config %s", path), "config")
	}
	return nil
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, ph.WrapConfigurationError(errors.Wrap(err, "decode config"), "config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that the validator itself does not check at
// construction time.
func (c *Config) Validate() error {
	for term, cat := range c.PHIFieldNames {
		if _, ok := ph.ParseCategory(cat); !ok {
			return ph.NewConfigurationError("phi_field_names."+term, "unknown PHI category "+cat)
		}
	}
	if c.FreeTextThreshold < 0 {
		return ph.NewConfigurationError("free_text_threshold", "must not be negative")
	}
	if c.Workers < 0 {
		return ph.NewConfigurationError("workers", "must not be negative")
	}
	switch c.Audit.Sink {
	case SinkFile:
		if c.AuditLogPath == "" {
			return ph.NewConfigurationError("audit_log_path", "file sink needs a path")
		}
	case SinkPostgres:
		if c.Audit.Postgres.DSN == "" {
			return ph.NewConfigurationError("audit.postgres.dsn", "postgres sink needs a dsn")
		}
	case SinkRedis:
		if c.Audit.Redis.Addr == "" {
			return ph.NewConfigurationError("audit.redis.addr", "redis sink needs an address")
		}
	case SinkKafka:
		if len(c.Audit.Kafka.Brokers) == 0 || c.Audit.Kafka.Topic == "" {
			return ph.NewConfigurationError("audit.kafka", "kafka sink needs brokers and a topic")
		}
	case SinkNone:
	default:
		return ph.NewConfigurationError("audit.sink", "unknown sink "+c.Audit.Sink)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return ph.WrapConfigurationError(err, "log.level")
	}
	return nil
}

// Options converts the configuration into validator options. The audit
// publisher is not included; see OpenAuditor.
func (c *Config) Options() []ph.Option {
	opts := []ph.Option{
		ph.WithStrictMode(c.StrictMode),
		ph.WithWarnUnknownFields(c.WarnUnknownFields),
		ph.WithPHIFindings(c.IncludePHIFindings),
		ph.WithQuality(c.IncludeQuality),
		ph.WithFreeTextThreshold(c.FreeTextThreshold),
		ph.WithQualityWeights(c.QualityWeights),
		ph.WithAuditLogPath(c.AuditLogPath),
		ph.WithAuditTuning(ph.AuditOptions{
			BufferSize:    c.Audit.BufferSize,
			BatchSize:     c.Audit.BatchSize,
			MaxRetries:    c.Audit.MaxRetries,
			RetryBackoff:  c.Audit.RetryBackoff,
			FlushInterval: c.Audit.FlushInterval,
		}),
		ph.WithActor(c.Actor),
	}
	if c.Workers > 0 {
		opts = append(opts, ph.WithWorkerCount(c.Workers))
	}
	if len(c.PHIPatterns) > 0 {
		opts = append(opts, ph.WithPHIPatterns(c.PHIPatterns...))
	}
	terms := make([]string, 0, len(c.PHIFieldNames))
	for term := range c.PHIFieldNames {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		cat, _ := ph.ParseCategory(c.PHIFieldNames[term])
		opts = append(opts, ph.WithPHIFieldName(term, cat))
	}
	if len(c.AggregateDateFields) > 0 {
		opts = append(opts, ph.WithAggregateDateFields(c.AggregateDateFields...))
	}
	if len(c.ValidationRules) > 0 {
		opts = append(opts, ph.WithValidationRules(c.ValidationRules...))
	}
	fields := make([]string, 0, len(c.ReferenceRanges))
	for f := range c.ReferenceRanges {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		r := c.ReferenceRanges[f]
		opts = append(opts, ph.WithReferenceRange(f, r.Min, r.Max))
	}
	return opts
}

// Logger builds the process logger.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, ph.WrapConfigurationError(err, "log.level")
	}
	format := logger.FormatConsole
	if c.Log.JSON {
		format = logger.FormatJSON
	}
	return logger.New(logger.Config{Level: level, Format: format})
}

// LoadTerminology loads the configured terminology directory into a store
// with the common value sets. It returns nil when no directory is set. A
// positive cache TTL wraps the store in a cache.
func (c *Config) LoadTerminology() (ph.Terminology, terminology.LoadStats, error) {
	if c.Terminology.Dir == "" {
		return nil, terminology.LoadStats{}, nil
	}
	store := terminology.NewStore()
	stats, err := store.LoadDir(c.Terminology.Dir)
	if err != nil {
		return nil, stats, ph.WrapConfigurationError(err, "terminology.dir")
	}
	if c.Terminology.CacheTTL > 0 {
		cfg := terminology.DefaultCacheConfig()
		cfg.TTL = c.Terminology.CacheTTL
		return terminology.NewCached(store, cfg), stats, nil
	}
	return store, stats, nil
}
