package config

import "time"

// Database type constants
const (
	// DatabaseTypeMemory keeps documents in process
	DatabaseTypeMemory = "memory"
	// DatabaseTypeMongoDB represents MongoDB database
	DatabaseTypeMongoDB = "mongodb"
	// DatabaseTypeDynamoDB represents AWS DynamoDB
	DatabaseTypeDynamoDB = "dynamodb"
)

// Cache type constants
const (
	CacheTypeNone     = "none"
	CacheTypeInMemory = "inmemory"
	CacheTypeRedis    = "redis"
)

// Config is the root configuration of docops.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Access        AccessConfig        `mapstructure:"access"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and configures the document store.
type DatabaseConfig struct {
	Type           string        `mapstructure:"type"` // memory, mongodb, dynamodb
	URL            string        `mapstructure:"url" secret:"true"`
	DatabaseName   string        `mapstructure:"database_name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	// KeyAttribute names the DynamoDB partition key holding document ids.
	KeyAttribute    string `mapstructure:"key_attribute"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" secret:"true"`
	SecretAccessKey string `mapstructure:"secret_access_key" secret:"true"`
	SessionToken    string `mapstructure:"session_token" secret:"true"`
	// MaxAttempts caps AWS SDK retries; zero keeps the SDK default.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// CacheConfig configures the query cache backend.
type CacheConfig struct {
	Type             string        `mapstructure:"type"` // none, inmemory, redis
	URL              string        `mapstructure:"url" secret:"true"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Namespace        string        `mapstructure:"namespace"`
	TTL              time.Duration `mapstructure:"ttl"`
}

// AccessConfig holds the per-collection rules of principal-scoped stores.
// Collections without rules fall back to the built-in membership rules.
type AccessConfig struct {
	Rules map[string]RuleConfig `mapstructure:"rules"`
}

// RuleConfig is a pair of CEL expressions guarding one collection.
type RuleConfig struct {
	Read  string `mapstructure:"read"`
	Write string `mapstructure:"write"`
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel          string             `mapstructure:"log_level"`
	LogFormat         string             `mapstructure:"log_format"` // json, text
	TracingEnabled    bool               `mapstructure:"tracing_enabled"`
	TracingSampleRate float64            `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string             `mapstructure:"tracing_endpoint"`
	AsyncLogging      AsyncLoggingConfig `mapstructure:"async_logging"`
}

// AsyncLoggingConfig configures optional asynchronous logger dispatching.
type AsyncLoggingConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	QueueSize    int  `mapstructure:"queue_size"`
	WorkerCount  int  `mapstructure:"worker_count"`
	DropWhenFull bool `mapstructure:"drop_when_full"`
}

// DefaultConfig returns a configuration that runs entirely in process.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "docops",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Type:           DatabaseTypeMemory,
			ConnectTimeout: 10 * time.Second,
			QueryTimeout:   10 * time.Second,
			KeyAttribute:   "id",
		},
		Cache: CacheConfig{
			Type:             CacheTypeInMemory,
			MaxConns:         10,
			OperationTimeout: 2 * time.Second,
			Namespace:        "docops-cache",
			TTL:              30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 1.0,
			TracingEndpoint:   "localhost:4317",
			AsyncLogging: AsyncLoggingConfig{
				QueueSize:   1024,
				WorkerCount: 1,
			},
		},
	}
}
