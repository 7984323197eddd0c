// internal/config/config.go
package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendBadger   = "badger"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Port     int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	StoreBackend     string `env:"STORE_BACKEND,default=badger" validate:"oneof=badger redis postgres memory"`
	BadgerFilepath   string `env:"BADGER_FILEPATH,default=./data/registry"`
	RedisAddr        string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisDB          int    `env:"REDIS_DB,default=0" validate:"min=0"`
	RedisSnapshotKey string `env:"REDIS_SNAPSHOT_KEY,default=courier:registry"`
	// ActivityQueue is the redis list claim records are pushed to. Empty disables publishing.
	ActivityQueue string `env:"ACTIVITY_QUEUE"`
	DatabaseURL   string `env:"DATABASE_URL"`

	WorkerCount   int           `env:"WORKER_COUNT,default=8" validate:"min=1"`
	QueueSize     int           `env:"QUEUE_SIZE,default=256" validate:"min=0"`
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT,default=5s" validate:"gt=0"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT,default=5s" validate:"gt=0"`

	ReminderDelay   time.Duration `env:"REMINDER_DELAY,default=5m" validate:"gt=0"`
	StatsInterval   time.Duration `env:"STATS_INTERVAL,default=1h" validate:"gt=0"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=6h" validate:"gt=0"`
	SweepFirstDelay time.Duration `env:"SWEEP_FIRST_DELAY,default=10s" validate:"gt=0"`
	SessionDuration time.Duration `env:"SESSION_DURATION,default=1h" validate:"gt=0"`

	DefaultCapacity int `env:"DEFAULT_CAPACITY,default=2" validate:"min=1"`
	MaxCapacity     int `env:"MAX_CAPACITY,default=10" validate:"gtefield=DefaultCapacity"`
	OpenRoomsLimit  int `env:"OPEN_ROOMS_LIMIT,default=5" validate:"min=1"`

	// TokenExpireTime is a Go duration, or "never"/"0" for tokens without expiry.
	TokenExpireTime string `env:"TOKEN_EXPIRE_TIME,default=72h"`
	// SessionIssuerSecret is the shared secret POST /session callers must send.
	SessionIssuerSecret string `env:"SESSION_ISSUER_SECRET" validate:"required,min=16"`
}

// Load reads and validates the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.StoreBackend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("invalid configuration: DATABASE_URL is required for the postgres backend")
	}
	if _, err := c.TokenExpiry(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TokenExpiry parses TokenExpireTime; zero means tokens never expire.
func (c Config) TokenExpiry() (time.Duration, error) {
	switch c.TokenExpireTime {
	case "", "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(c.TokenExpireTime)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// Logger builds the process logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	return newLogger(c.LogLevel)
}

// LedgerConfig configures the claim ledger consumer.
type LedgerConfig struct {
	LogLevel      string        `env:"LOG_LEVEL,default=info"`
	RedisAddr     string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisDB       int           `env:"REDIS_DB,default=0" validate:"min=0"`
	ActivityQueue string        `env:"ACTIVITY_QUEUE,default=courier_claims" validate:"required"`
	DatabaseURL   string        `env:"DATABASE_URL" validate:"required"`
	BatchSize     int           `env:"LEDGER_BATCH_SIZE,default=20" validate:"min=1"`
	FlushDelay    time.Duration `env:"LEDGER_FLUSH_DELAY,default=1s" validate:"gt=0"`
	// PopWait bounds one BLPOP. The flush tick is only checked between pops,
	// so it may not exceed FlushDelay.
	PopWait time.Duration `env:"LEDGER_POP_WAIT,default=1s" validate:"gt=0,ltefield=FlushDelay"`
}

// LoadLedger reads and validates the ledger configuration.
func LoadLedger() (LedgerConfig, error) {
	var cfg LedgerConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return LedgerConfig{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return LedgerConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Logger builds the process logger at the configured level.
func (c LedgerConfig) Logger() *logrus.Logger {
	return newLogger(c.LogLevel)
}

func newLogger(lvl string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(lvl)
	if err != nil {
		logger.Warnf("unknown LOG_LEVEL %q, using info", lvl)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
