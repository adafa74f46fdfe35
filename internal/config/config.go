package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Gateway   GatewayConfig
	Queue     QueueConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
}

type GatewayConfig struct {
	URL     string
	Token   string
	Sender  string
	Timeout time.Duration

	// RatePerSecond caps outbound gateway calls; Burst allows short spikes.
	RatePerSecond float64
	Burst         int

	Retry   RetryConfig
	Breaker BreakerConfig
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	CoolDown         time.Duration
}

type QueueConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	StuckAfter        time.Duration
	RetentionDays     int
	MaxPayloadRunes   int
}

func LoadAll() (*Config, error) {
	var errs []error

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intOr := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		collect(err)
		return v
	}
	floatOr := func(key string, def float64) float64 {
		v, err := getEnvFloat(key, def)
		collect(err)
		return v
	}
	require := func(key string) string {
		v, err := requireEnv(key)
		collect(err)
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: require("POSTGRES_URL"),
		},
		Gateway: GatewayConfig{
			URL:           require("GATEWAY_URL"),
			Token:         os.Getenv("GATEWAY_TOKEN"),
			Sender:        os.Getenv("GATEWAY_SENDER"),
			Timeout:       time.Duration(intOr("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
			RatePerSecond: floatOr("GATEWAY_RATE_PER_SECOND", 10),
			Burst:         intOr("GATEWAY_RATE_BURST", 20),
			Retry: RetryConfig{
				MaxAttempts: intOr("GATEWAY_RETRY_MAX_ATTEMPTS", 3),
				BaseDelay:   time.Duration(intOr("GATEWAY_RETRY_BASE_MS", 1000)) * time.Millisecond,
				Multiplier:  floatOr("GATEWAY_RETRY_MULTIPLIER", 2.0),
				MaxDelay:    time.Duration(intOr("GATEWAY_RETRY_MAX_MS", 30000)) * time.Millisecond,
			},
			Breaker: BreakerConfig{
				FailureThreshold: intOr("GATEWAY_BREAKER_THRESHOLD", 5),
				CoolDown:         time.Duration(intOr("GATEWAY_BREAKER_COOLDOWN_SECONDS", 60)) * time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			Interval:  time.Duration(intOr("SCHED_INTERVAL_SECONDS", 30)) * time.Second,
			BatchSize: intOr("SCHED_BATCH_SIZE", 50),
		},
		Queue: QueueConfig{
			MaxAttempts:       intOr("QUEUE_MAX_ATTEMPTS", 5),
			BackoffBase:       time.Duration(intOr("QUEUE_BACKOFF_BASE_SECONDS", 60)) * time.Second,
			BackoffMultiplier: floatOr("QUEUE_BACKOFF_MULTIPLIER", 2.0),
			BackoffMax:        time.Duration(intOr("QUEUE_BACKOFF_MAX_SECONDS", 3600)) * time.Second,
			StuckAfter:        time.Duration(intOr("QUEUE_STUCK_AFTER_SECONDS", 600)) * time.Second,
			RetentionDays:     intOr("QUEUE_RETENTION_DAYS", 30),
			MaxPayloadRunes:   intOr("QUEUE_PAYLOAD_MAX", 4096),
		},
	}

	redisCfg, err := loadRedisConfig()
	collect(err)
	cfg.Redis = redisCfg

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error

	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHED_BATCH_SIZE must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("QUEUE_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Queue.RetentionDays < 1 {
		errs = append(errs, errors.New("QUEUE_RETENTION_DAYS must be >= 1"))
	}
	if cfg.Gateway.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("GATEWAY_RETRY_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Gateway.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("GATEWAY_RETRY_MULTIPLIER must be >= 1"))
	}
	if cfg.Gateway.Breaker.FailureThreshold <= 0 {
		errs = append(errs, errors.New("GATEWAY_BREAKER_THRESHOLD must be > 0"))
	}
	if cfg.Gateway.RatePerSecond <= 0 {
		errs = append(errs, errors.New("GATEWAY_RATE_PER_SECOND must be > 0"))
	}

	return errs
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float for env %s: %s", key, v)
	}
	return f, nil
}
