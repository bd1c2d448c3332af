package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeFormat     = "02/Jan/2006:15:04:05 -0700"
	DefaultBatchSize      = 1000
	DefaultMaxSkipReasons = 10
	DefaultTable          = "logs"
	DefaultTopN           = 10
	DefaultDays           = 30
	DefaultCacheTTL       = 60 * time.Second
	DefaultServerAddr     = ":8080"
)

var (
	// DefaultMethods lists the methods counted as known in ingestion statistics.
	DefaultMethods = []string{"GET", "POST", "HEAD", "PUT", "DELETE", "PATCH", "OPTIONS", "CONNECT", "TRACE"}

	// DefaultExtensions lists the optional fields kept on each record.
	DefaultExtensions = []string{"protocol", "referrer", "user_agent"}

	knownExtensions = map[string]bool{
		"protocol":    true,
		"referrer":    true,
		"user_agent":  true,
		"remote_user": true,
		"ident":       true,
	}

	envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	// validate cannot fail on the zero config: sqlite with its default DSN.
	_ = validate(&cfg)
	return &cfg
}

// Load reads, parses, and validates configuration from the provided path.
// ${VAR} references are expanded from the environment before parsing.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	// Check file permissions (Unix only).
	if runtime.GOOS != "windows" {
		if info, err := os.Stat(path); err == nil {
			mode := info.Mode().Perm()
			// Warn if file is world-readable (may contain DSNs with passwords).
			if mode&0o004 != 0 {
				fmt.Fprintf(os.Stderr, "WARNING: config file %s is world-readable (mode %o). Consider: chmod 600 %s\n", path, mode, path)
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse expands, decodes, and validates raw YAML.
func Parse(data []byte) (*Config, error) {
	expanded := envRef.ReplaceAllStringFunc(string(data), func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate fills defaults and checks c. Call it after overriding fields
// of a loaded config, e.g. from command-line flags.
func (c *Config) Validate() error {
	return validate(c)
}

func validate(c *Config) error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Parser.TimeFormat == "" {
		c.Parser.TimeFormat = DefaultTimeFormat
	}
	if len(c.Parser.AcceptedMethods) == 0 {
		c.Parser.AcceptedMethods = append([]string(nil), DefaultMethods...)
	}
	for i, m := range c.Parser.AcceptedMethods {
		c.Parser.AcceptedMethods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	if c.Parser.Extensions == nil {
		c.Parser.Extensions = append([]string(nil), DefaultExtensions...)
	}
	for _, ext := range c.Parser.Extensions {
		if !knownExtensions[ext] {
			return fmt.Errorf("parser.extensions: unknown field %q", ext)
		}
	}

	if c.Ingest.BatchSize == 0 {
		c.Ingest.BatchSize = DefaultBatchSize
	}
	if c.Ingest.BatchSize < 0 {
		return fmt.Errorf("ingest.batch_size must be > 0")
	}
	if c.Ingest.MaxSkipReasons == 0 {
		c.Ingest.MaxSkipReasons = DefaultMaxSkipReasons
	}
	if c.Ingest.Spool.Pattern == "" {
		c.Ingest.Spool.Pattern = "*"
	}
	if _, err := path.Match(c.Ingest.Spool.Pattern, ""); err != nil {
		return fmt.Errorf("ingest.spool.pattern: %w", err)
	}
	if c.Ingest.Spool.Debounce == 0 {
		c.Ingest.Spool.Debounce = 500 * time.Millisecond
	}

	if err := validateSink(&c.Sink); err != nil {
		return err
	}

	if c.Report.TopN <= 0 {
		c.Report.TopN = DefaultTopN
	}
	if c.Report.Days <= 0 {
		c.Report.Days = DefaultDays
	}
	if c.Report.Cache.TTL <= 0 {
		c.Report.Cache.TTL = DefaultCacheTTL
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}

	return nil
}

func validateSink(s *SinkConfig) error {
	if s.Type == "" {
		s.Type = "sqlite"
	}
	if s.Table == "" {
		s.Table = DefaultTable
	}
	if !validIdent(s.Table) {
		return fmt.Errorf("sink.table %q is not a valid identifier", s.Table)
	}

	switch s.Type {
	case "sqlite":
		if s.DSN == "" {
			s.DSN = "logan.db"
		}
	case "postgres", "mysql":
		if s.DSN == "" {
			return fmt.Errorf("sink.dsn is required when sink.type=%s", s.Type)
		}
	case "clickhouse":
		if s.ClickHouse == nil {
			return fmt.Errorf("sink.clickhouse must be set when sink.type=clickhouse")
		}
		if len(s.ClickHouse.Addr) == 0 {
			return fmt.Errorf("sink.clickhouse.addr is required")
		}
		if s.ClickHouse.Database == "" {
			s.ClickHouse.Database = "default"
		}
		if s.ClickHouse.Timeout == 0 {
			s.ClickHouse.Timeout = 10 * time.Second
		}
	case "nats":
		if s.NATS == nil {
			return fmt.Errorf("sink.nats must be set when sink.type=nats")
		}
		if s.NATS.URL == "" || s.NATS.Subject == "" {
			return fmt.Errorf("sink.nats.url and sink.nats.subject are required")
		}
		if s.NATS.Timeout == 0 {
			s.NATS.Timeout = 5 * time.Second
		}
	case "discard":
	default:
		return fmt.Errorf("unsupported sink.type %q", s.Type)
	}
	return nil
}

func validIdent(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
