// Package config provides configuration structures and validation for the
// credit engine. It handles environment-based configuration for all major
// components including the HTTP server, databases, the billing events queue,
// the image provider, and billing policy parameters.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all
// components. Each field represents a major subsystem's configuration and is
// validated during application startup.
type Config struct {
	Application  ApplicationConfig
	Logging      LoggingConfig
	Server       ServerConfig
	Kafka        KafkaConfig
	Postgres     PostgresConfig
	MongoDB      MongoDBConfig
	Auth         AuthConfig
	Provider     ProviderConfig
	Storage      StorageConfig
	Generation   GenerationConfig
	Referral     ReferralConfig
	Distribution DistributionConfig
	Outbox       OutboxConfig
	WorkerPool   WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains billing events queue configuration
type KafkaConfig struct {
	Brokers           string
	BillingTopic      string
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string // Topic for Dead Letter Queue
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration for the audit archive
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// AuthConfig contains settings for the auth collaborator that resolves
// bearer tokens to account ids
type AuthConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ProviderConfig contains settings for the external image generation provider
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // Budget for a single generation call
}

// StorageConfig contains settings for the object storage collaborator
type StorageConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Folder  string // Default folder for generated assets
}

// GenerationConfig contains generation request policy parameters
type GenerationConfig struct {
	MaxPromptLength    int
	MaxReferenceImages int
	SubmitBudget       time.Duration // Deadline for the whole provider phase
	StaleAfter         time.Duration // Age at which a generating row is swept
	PoolSize           int           // Maximum concurrent provider calls
}

// ReferralConfig contains referral policy parameters
type ReferralConfig struct {
	CommissionCredits int64
}

// DistributionConfig contains periodic distribution policy parameters
type DistributionConfig struct {
	Credits        int64         // Credits granted per account per period
	Parallelism    int           // Concurrent grants during a run
	ActivityWindow time.Duration // How recently an account must have been active
	TriggerToken   string        // Shared credential for the trigger endpoint
}

// OutboxConfig contains settlement outbox configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int // Maximum number of retry attempts for outbox tasks
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.BillingTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_BILLING_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Auth config
	if c.Auth.BaseURL == "" {
		validationErrors = append(validationErrors, "AUTH_BASE_URL is required")
	}
	if c.Auth.Timeout <= 0 {
		validationErrors = append(validationErrors, "AUTH_TIMEOUT must be greater than 0")
	}

	// Validate Provider config
	if c.Provider.BaseURL == "" {
		validationErrors = append(validationErrors, "PROVIDER_BASE_URL is required")
	}
	if c.Provider.Timeout <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_TIMEOUT must be greater than 0")
	}

	// Validate Storage config
	if c.Storage.BaseURL == "" {
		validationErrors = append(validationErrors, "STORAGE_BASE_URL is required")
	}
	if c.Storage.Timeout <= 0 {
		validationErrors = append(validationErrors, "STORAGE_TIMEOUT must be greater than 0")
	}

	// Validate Generation config
	if c.Generation.MaxPromptLength <= 0 {
		validationErrors = append(validationErrors, "GENERATION_MAX_PROMPT_LENGTH must be greater than 0")
	}
	if c.Generation.MaxReferenceImages <= 0 {
		validationErrors = append(validationErrors, "GENERATION_MAX_REFERENCE_IMAGES must be greater than 0")
	}
	if c.Generation.SubmitBudget <= 0 {
		validationErrors = append(validationErrors, "GENERATION_SUBMIT_BUDGET must be greater than 0")
	} else if c.Provider.Timeout > 0 && c.Generation.SubmitBudget <= c.Provider.Timeout {
		validationErrors = append(validationErrors, "GENERATION_SUBMIT_BUDGET must exceed PROVIDER_TIMEOUT")
	}
	if c.Generation.StaleAfter <= c.Generation.SubmitBudget {
		validationErrors = append(validationErrors, "GENERATION_STALE_AFTER must exceed GENERATION_SUBMIT_BUDGET")
	}
	if c.Generation.PoolSize <= 0 {
		validationErrors = append(validationErrors, "GENERATION_POOL_SIZE must be greater than 0")
	}

	// Validate Referral config
	if c.Referral.CommissionCredits <= 0 {
		validationErrors = append(validationErrors, "REFERRAL_COMMISSION_CREDITS must be greater than 0")
	}

	// Validate Distribution config
	if c.Distribution.Credits <= 0 {
		validationErrors = append(validationErrors, "DISTRIBUTION_CREDITS must be greater than 0")
	}
	if c.Distribution.Parallelism <= 0 {
		validationErrors = append(validationErrors, "DISTRIBUTION_PARALLELISM must be greater than 0")
	}
	if c.Distribution.ActivityWindow <= 0 {
		validationErrors = append(validationErrors, "DISTRIBUTION_ACTIVITY_WINDOW must be greater than 0")
	}
	if c.Distribution.TriggerToken == "" {
		validationErrors = append(validationErrors, "DISTRIBUTION_TRIGGER_TOKEN is required")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
