package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Ramsey-B/clover/pkg/utils"
)

type Config struct {
	AppName                     string `validate:"required"`
	Version                     string
	Port                        int    `validate:"min=1,max=65535"`
	LogLevel                    string `validate:"oneof=debug info warn error"`
	PrettyLogs                  bool
	HttpServerWriteTimeout      time.Duration
	HttpServerReadTimeout       time.Duration
	HttpServerIdleTimeout       time.Duration
	HttpServerReadHeaderTimeout time.Duration
	MaxHeaderBytes              int
	StartupMaxAttempts          int `validate:"min=1"`

	// PostgreSQL
	DatabaseDriver                string `validate:"required"`
	DatabaseHost                  string
	DatabasePort                  string
	DatabaseUserName              string
	DatabasePassword              string
	DatabaseName                  string `validate:"required"`
	DatabaseSSLMode               string
	DatabaseMaxOpenConns          int
	DatabaseMaxIdleConns          int
	DatabaseConnMaxLifetime       time.Duration
	DatabaseMigrationFolderPath   string
	DatabaseMigrationVersion      int
	DatabaseMigrationForce        int
	DatabaseMigrationAutoRollback bool

	// Graph Database (Memgraph), lineage projection is off when GraphDBHost is empty
	GraphDBHost     string
	GraphDBPort     int
	GraphDBUser     string
	GraphDBPassword string

	// Redis, the tenant run lock is off when RedisHost is empty
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Kafka consumer (dedup triggers)
	KafkaBrokers         []string
	KafkaTriggerTopic    string
	KafkaConsumerGroup   string
	KafkaConsumerEnabled bool

	// Kafka producer (lead events), off when KafkaOutputTopic is empty
	KafkaOutputTopic  string
	KafkaBatchSize    int
	KafkaBatchTimeout time.Duration
	KafkaRequiredAcks int
	KafkaCompression  string `validate:"oneof=snappy gzip lz4 zstd none"`

	// Dedup
	DedupLockTTL       time.Duration `validate:"min=1s"`
	DedupWorkerCount   int           `validate:"min=1"`
	TenantIDMustBeUUID bool

	// Tracing, spans are discarded when the endpoint is empty
	OtelExporterEndpoint string
	OtelExporterProtocol string `validate:"oneof=grpc http"`
	OtelExporterInsecure bool
}

var defaults = map[string]any{
	"APP_NAME":                        "clover",
	"APP_VERSION":                     "dev",
	"PORT":                            3004,
	"LOG_LEVEL":                       "info",
	"PRETTY_LOGS":                     false,
	"HTTP_SERVER_WRITE_TIMEOUT":       "10s",
	"HTTP_SERVER_READ_TIMEOUT":        "10s",
	"HTTP_SERVER_IDLE_TIMEOUT":        "10s",
	"HTTP_SERVER_READ_HEADER_TIMEOUT": "10s",
	"HTTP_SERVER_MAX_HEADER_BYTES":    64000,
	"STARTUP_MAX_ATTEMPTS":            5,

	"DB_DRIVER":                  "postgres",
	"DB_HOST":                    "localhost",
	"DB_PORT":                    "5432",
	"DB_USER_NAME":               "",
	"DB_PASSWORD":                "",
	"DB_NAME":                    "clover",
	"DB_SSL_MODE":                "disable",
	"DB_MAX_OPEN_CONNS":          25,
	"DB_MAX_IDLE_CONNS":          10,
	"DB_CONN_MAX_LIFETIME":       "10s",
	"DB_MIGRATION_FOLDER_PATH":   "db/pg",
	"DB_MIGRATION_VERSION":       0,
	"DB_MIGRATION_FORCE":         0,
	"DB_MIGRATION_AUTO_ROLLBACK": true,

	"GRAPH_DB_HOST":     "",
	"GRAPH_DB_PORT":     7687,
	"GRAPH_DB_USER":     "",
	"GRAPH_DB_PASSWORD": "",

	"REDIS_HOST":     "",
	"REDIS_PORT":     6379,
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"KAFKA_BROKERS":          "localhost:9092",
	"KAFKA_TRIGGER_TOPIC":    "dedup-triggers",
	"KAFKA_CONSUMER_GROUP":   "clover-consumer",
	"KAFKA_CONSUMER_ENABLED": true,
	"KAFKA_OUTPUT_TOPIC":     "lead-events",
	"KAFKA_BATCH_SIZE":       100,
	"KAFKA_BATCH_TIMEOUT":    "100ms",
	"KAFKA_REQUIRED_ACKS":    1,
	"KAFKA_COMPRESSION":      "snappy",

	"DEDUP_LOCK_TTL":         "5m",
	"DEDUP_WORKER_COUNT":     4,
	"TENANT_ID_MUST_BE_UUID": false,

	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_PROTOCOL": "grpc",
	"OTEL_EXPORTER_OTLP_INSECURE": true,
}

// Flags maps command line flags onto the env keys they override.
var Flags = map[string]string{
	"log-level":    "LOG_LEVEL",
	"port":         "PORT",
	"db-host":      "DB_HOST",
	"workers":      "DEDUP_WORKER_COUNT",
	"require-uuid": "TENANT_ID_MUST_BE_UUID",
}

// Load reads .env when present, then the environment, then any changed
// flags in flags. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range Flags {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := Config{
		AppName:                     v.GetString("APP_NAME"),
		Version:                     v.GetString("APP_VERSION"),
		Port:                        v.GetInt("PORT"),
		LogLevel:                    strings.ToLower(v.GetString("LOG_LEVEL")),
		PrettyLogs:                  v.GetBool("PRETTY_LOGS"),
		HttpServerWriteTimeout:      v.GetDuration("HTTP_SERVER_WRITE_TIMEOUT"),
		HttpServerReadTimeout:       v.GetDuration("HTTP_SERVER_READ_TIMEOUT"),
		HttpServerIdleTimeout:       v.GetDuration("HTTP_SERVER_IDLE_TIMEOUT"),
		HttpServerReadHeaderTimeout: v.GetDuration("HTTP_SERVER_READ_HEADER_TIMEOUT"),
		MaxHeaderBytes:              v.GetInt("HTTP_SERVER_MAX_HEADER_BYTES"),
		StartupMaxAttempts:          v.GetInt("STARTUP_MAX_ATTEMPTS"),

		DatabaseDriver:                v.GetString("DB_DRIVER"),
		DatabaseHost:                  v.GetString("DB_HOST"),
		DatabasePort:                  v.GetString("DB_PORT"),
		DatabaseUserName:              v.GetString("DB_USER_NAME"),
		DatabasePassword:              v.GetString("DB_PASSWORD"),
		DatabaseName:                  v.GetString("DB_NAME"),
		DatabaseSSLMode:               v.GetString("DB_SSL_MODE"),
		DatabaseMaxOpenConns:          v.GetInt("DB_MAX_OPEN_CONNS"),
		DatabaseMaxIdleConns:          v.GetInt("DB_MAX_IDLE_CONNS"),
		DatabaseConnMaxLifetime:       v.GetDuration("DB_CONN_MAX_LIFETIME"),
		DatabaseMigrationFolderPath:   v.GetString("DB_MIGRATION_FOLDER_PATH"),
		DatabaseMigrationVersion:      v.GetInt("DB_MIGRATION_VERSION"),
		DatabaseMigrationForce:        v.GetInt("DB_MIGRATION_FORCE"),
		DatabaseMigrationAutoRollback: v.GetBool("DB_MIGRATION_AUTO_ROLLBACK"),

		GraphDBHost:     v.GetString("GRAPH_DB_HOST"),
		GraphDBPort:     v.GetInt("GRAPH_DB_PORT"),
		GraphDBUser:     v.GetString("GRAPH_DB_USER"),
		GraphDBPassword: v.GetString("GRAPH_DB_PASSWORD"),

		RedisHost:     v.GetString("REDIS_HOST"),
		RedisPort:     v.GetInt("REDIS_PORT"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		KafkaBrokers:         splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTriggerTopic:    v.GetString("KAFKA_TRIGGER_TOPIC"),
		KafkaConsumerGroup:   v.GetString("KAFKA_CONSUMER_GROUP"),
		KafkaConsumerEnabled: v.GetBool("KAFKA_CONSUMER_ENABLED"),
		KafkaOutputTopic:     v.GetString("KAFKA_OUTPUT_TOPIC"),
		KafkaBatchSize:       v.GetInt("KAFKA_BATCH_SIZE"),
		KafkaBatchTimeout:    v.GetDuration("KAFKA_BATCH_TIMEOUT"),
		KafkaRequiredAcks:    v.GetInt("KAFKA_REQUIRED_ACKS"),
		KafkaCompression:     strings.ToLower(v.GetString("KAFKA_COMPRESSION")),

		DedupLockTTL:       v.GetDuration("DEDUP_LOCK_TTL"),
		DedupWorkerCount:   v.GetInt("DEDUP_WORKER_COUNT"),
		TenantIDMustBeUUID: v.GetBool("TENANT_ID_MUST_BE_UUID"),

		OtelExporterEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OtelExporterProtocol: strings.ToLower(v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL")),
		OtelExporterInsecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
	}

	validated, err := utils.Validate(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &validated, nil
}

// splitList splits a comma separated env value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DatabaseDSN builds the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	dsn := fmt.Sprintf("host=%s port=%s dbname=%s sslmode=%s", c.DatabaseHost, c.DatabasePort, c.DatabaseName, c.DatabaseSSLMode)
	if c.DatabaseUserName != "" {
		dsn += fmt.Sprintf(" user=%s", c.DatabaseUserName)
	}
	if c.DatabasePassword != "" {
		dsn += fmt.Sprintf(" password=%s", c.DatabasePassword)
	}
	return dsn
}
