package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// StorageDriverMemory хранит заказы и outbox в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит заказы и outbox в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Переменные окружения, из которых читается конфигурация.
const (
	envGRPCAddr            = "ORDERPROC_GRPC_ADDR"
	envHTTPAddr            = "ORDERPROC_HTTP_ADDR"
	envMetricsAddr         = "ORDERPROC_METRICS_ADDR"
	envStorageDriver       = "ORDERPROC_STORAGE_DRIVER"
	envPostgresDSN         = "ORDERPROC_POSTGRES_DSN"
	envPostgresAutoMigrate = "ORDERPROC_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns    = "ORDERPROC_POSTGRES_MAX_CONNS"
	envKafkaBrokers        = "KAFKA_BROKERS"
	envKafkaTopic          = "ORDERPROC_KAFKA_TOPIC"
	envKafkaDLQTopic       = "ORDERPROC_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval  = "ORDERPROC_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "ORDERPROC_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "ORDERPROC_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay    = "ORDERPROC_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending    = "ORDERPROC_OUTBOX_MAX_PENDING"
	envOutboxMaxAge        = "ORDERPROC_OUTBOX_MAX_AGE"
	envLogLevel            = "ORDERPROC_LOG_LEVEL"
)

const defaultEnvFile = ".env"

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// PostgresMaxConns ограничивает пул соединений; 0 оставляет значение по умолчанию.
	PostgresMaxConns int

	// KafkaBrokers — список брокеров через запятую; пустая строка отключает публикацию outbox.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
	OutboxMaxAge       time.Duration

	LogLevel string
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:            ":50051",
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		KafkaTopic:          "orderproc.order.events",
		KafkaDLQTopic:       "orderproc.dlq",
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    100 * time.Millisecond,
		OutboxMaxPending:    1000,
		OutboxMaxAge:        5 * time.Minute,
		LogLevel:            "info",
	}
}

// LoadConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Перед чтением подгружаются env-файлы (по умолчанию .env); отсутствующий файл
// ошибкой не считается, а уже выставленные переменные не перезаписываются.
func LoadConfigFromEnv(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{defaultEnvFile}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	r := envReader{}

	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.str(envHTTPAddr, &cfg.HTTPAddr)
	r.str(envMetricsAddr, &cfg.MetricsAddr)
	r.str(envStorageDriver, &cfg.StorageDriver)
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	r.integer(envPostgresMaxConns, &cfg.PostgresMaxConns)
	r.str(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envKafkaTopic, &cfg.KafkaTopic)
	r.str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)
	r.duration(envOutboxPollInterval, &cfg.OutboxPollInterval)
	r.integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	r.integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	r.duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay)
	r.integer(envOutboxMaxPending, &cfg.OutboxMaxPending)
	r.duration(envOutboxMaxAge, &cfg.OutboxMaxAge)
	r.str(envLogLevel, &cfg.LogLevel)

	if r.err != nil {
		return Config{}, r.err
	}
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("%s is required for storage driver %q", envPostgresDSN, StorageDriverPostgres)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	if c.GRPCAddr == "" {
		return errors.New("grpc address must not be empty")
	}
	if c.PostgresMaxConns < 0 {
		return errors.New("postgres pool size must not be negative")
	}
	if c.OutboxBatchSize < 0 || c.OutboxMaxAttempts < 0 || c.OutboxMaxPending < 0 {
		return errors.New("outbox limits must not be negative")
	}
	if c.OutboxPollInterval < 0 || c.OutboxRetryDelay < 0 || c.OutboxMaxAge < 0 {
		return errors.New("outbox durations must not be negative")
	}
	return nil
}

// brokerList разбирает KafkaBrokers, отбрасывая пустые элементы.
func (c Config) brokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// envReader запоминает первую ошибку разбора.
type envReader struct {
	err error
}

func (r *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != "" && r.err == nil
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = v
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		r.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = parsed
}
