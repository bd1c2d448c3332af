package config

import "time"

// Config is the root configuration structure loaded from YAML.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Parser  ParserConfig  `yaml:"parser"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Sink    SinkConfig    `yaml:"sink"`
	Source  SourceConfig  `yaml:"source"`
	Report  ReportConfig  `yaml:"report"`
	Server  ServerConfig  `yaml:"server"`
}

// LoggingConfig controls log verbosity and format.
type LoggingConfig struct {
	Level string `yaml:"level"` // e.g. "info", "debug"
	JSON  bool   `yaml:"json"`
}

// ParserConfig controls how access-log lines are normalized.
type ParserConfig struct {
	TimeFormat      string   `yaml:"time_format"`      // Go layout, e.g. "02/Jan/2006:15:04:05 -0700"
	AcceptedMethods []string `yaml:"accepted_methods"` // methods outside this list are flagged, not rejected
	Extensions      []string `yaml:"extensions"`       // optional fields kept on each record
}

// IngestConfig tunes the ingestion driver.
type IngestConfig struct {
	BatchSize      int         `yaml:"batch_size"`
	MaxSkipReasons int         `yaml:"max_skip_reasons"` // how many skip reasons the summary keeps
	Spool          SpoolConfig `yaml:"spool"`
}

// SpoolConfig describes a drop directory for `logan watch`.
type SpoolConfig struct {
	Dir      string        `yaml:"dir"`
	Pattern  string        `yaml:"pattern"`  // glob matched against the base name, e.g. "access.log*"
	DoneDir  string        `yaml:"done_dir"` // optional; ingested files are moved here
	Debounce time.Duration `yaml:"debounce"`
}

// SinkConfig selects and configures the storage sink.
type SinkConfig struct {
	Type  string `yaml:"type"` // "sqlite", "postgres", "mysql", "clickhouse", "nats", "discard"
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`

	ClickHouse *ClickHouseConfig `yaml:"clickhouse,omitempty"`
	NATS       *NATSConfig       `yaml:"nats,omitempty"`

	// if true, records are counted but never written
	DryRun bool `yaml:"dry_run,omitempty"`
}

// ClickHouseConfig configures the native ClickHouse sink.
type ClickHouseConfig struct {
	Addr     []string      `yaml:"addr"` // host:port, e.g. localhost:9000
	Database string        `yaml:"database"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"dial_timeout"`
}

// NATSConfig configures the NATS publishing sink.
type NATSConfig struct {
	URL       string        `yaml:"url"`
	Subject   string        `yaml:"subject"`
	JetStream bool          `yaml:"jetstream"`
	Timeout   time.Duration `yaml:"flush_timeout"`
}

// SourceConfig configures remote log sources.
type SourceConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config configures s3:// inputs. Empty credentials fall back to the default AWS chain.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	PathStyle       bool   `yaml:"path_style,omitempty"`
}

// ReportConfig controls report defaults and caching.
type ReportConfig struct {
	TopN  int         `yaml:"top_n"`
	Days  int         `yaml:"days"` // window for daily traffic
	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig configures the optional Redis report cache.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"` // empty disables caching
	Password  string        `yaml:"password,omitempty"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
}

// ServerConfig configures the read-only report API.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}
