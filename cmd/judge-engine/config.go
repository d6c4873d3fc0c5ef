package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	"ojcore/internal/common/mq"
	"ojcore/internal/common/storage"
	"ojcore/internal/judge/service"
	"ojcore/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	storeMemory = "memory"
	storeMySQL  = "mysql"

	modePoll = "poll"
	modePush = "push"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// SeedFile is a JSON fixture of problems and contests loaded into the memory store.
	SeedFile string `yaml:"seedFile"`
}

// ExecutionConfig configures the Judge0-compatible execution service.
type ExecutionConfig struct {
	BaseURL        string         `yaml:"baseURL"`
	AuthToken      string         `yaml:"authToken"`
	Languages      map[string]int `yaml:"languages"`
	RequestTimeout time.Duration  `yaml:"requestTimeout"`
	MaxRetries     int            `yaml:"maxRetries"`
	RetryBackoff   time.Duration  `yaml:"retryBackoff"`
	MaxBackoff     time.Duration  `yaml:"maxBackoff"`
}

// ResultConfig selects how execution results come back.
type ResultConfig struct {
	Mode string `yaml:"mode"`
	// CallbackURL is the externally reachable address of PUT /api/v1/callbacks/executions.
	CallbackURL    string        `yaml:"callbackURL"`
	CallbackSecret string        `yaml:"callbackSecret"`
	CallbackTTL    time.Duration `yaml:"callbackTTL"`
	Topic          string        `yaml:"topic"`
	ConsumerGroup  string        `yaml:"consumerGroup"`
	Concurrency    int           `yaml:"concurrency"`
	MaxRetries     int           `yaml:"maxRetries"`

	PollInterval    time.Duration `yaml:"pollInterval"`
	PollConcurrency int64         `yaml:"pollConcurrency"`
	PollBatch       int           `yaml:"pollBatch"`
	PollTimeout     time.Duration `yaml:"pollTimeout"`
	ParkedTTL       time.Duration `yaml:"parkedTTL"`
}

// JudgeConfig holds grading settings.
type JudgeConfig struct {
	DispatchConcurrency int                     `yaml:"dispatchConcurrency"`
	CASRetries          int                     `yaml:"casRetries"`
	MaxSourceBytes      int                     `yaml:"maxSourceBytes"`
	IdempotencyTTL      time.Duration           `yaml:"idempotencyTTL"`
	StatusTTL           time.Duration           `yaml:"statusTTL"`
	StatusEmptyTTL      time.Duration           `yaml:"statusEmptyTTL"`
	FinalTopic          string                  `yaml:"finalTopic"`
	SourceBucket        string                  `yaml:"sourceBucket"`
	SourcePrefix        string                  `yaml:"sourcePrefix"`
	RateLimit           service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts            service.TimeoutConfig   `yaml:"timeouts"`
	Sweep               service.SweepConfig     `yaml:"sweep"`
}

// ContestConfig holds scoring settings.
type ContestConfig struct {
	LockTTL       time.Duration `yaml:"lockTTL"`
	LockWait      time.Duration `yaml:"lockWait"`
	MetaCacheSize int           `yaml:"metaCacheSize"`
	MetaCacheTTL  time.Duration `yaml:"metaCacheTTL"`
}

// AppConfig holds judge-engine configuration. Redis, Kafka and MinIO are optional.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	Logger    logger.Config       `yaml:"logger"`
	Store     StoreConfig         `yaml:"store"`
	Database  db.MySQLConfig      `yaml:"database"`
	Redis     cache.RedisConfig   `yaml:"redis"`
	Kafka     mq.KafkaConfig      `yaml:"kafka"`
	MinIO     storage.MinIOConfig `yaml:"minio"`
	Execution ExecutionConfig     `yaml:"execution"`
	Results   ResultConfig        `yaml:"results"`
	Judge     JudgeConfig         `yaml:"judge"`
	Contest   ContestConfig       `yaml:"contest"`
}

// loadYAML expands ${VAR} references after loading an optional .env file.
func loadYAML(path string, out interface{}) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env failed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = storeMemory
	}
	if cfg.Store.Driver != storeMemory && cfg.Store.Driver != storeMySQL {
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == storeMySQL && cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required for the mysql store")
	}

	if cfg.Execution.BaseURL == "" {
		return nil, fmt.Errorf("execution baseURL is required")
	}
	if len(cfg.Execution.Languages) == 0 {
		cfg.Execution.Languages = map[string]int{"c": 50, "cpp": 54, "java": 62, "python": 71, "go": 60}
	}

	cfg.Results.Mode = strings.ToLower(strings.TrimSpace(cfg.Results.Mode))
	if cfg.Results.Mode == "" {
		cfg.Results.Mode = modePoll
	}
	switch cfg.Results.Mode {
	case modePoll:
	case modePush:
		if cfg.Results.CallbackURL == "" || cfg.Results.CallbackSecret == "" {
			return nil, fmt.Errorf("push mode requires callbackURL and callbackSecret")
		}
	default:
		return nil, fmt.Errorf("unknown result mode %q", cfg.Results.Mode)
	}
	if cfg.Results.Topic == "" {
		cfg.Results.Topic = "judge.execution_results"
	}
	if cfg.Results.ConsumerGroup == "" {
		cfg.Results.ConsumerGroup = "judge-engine"
	}
	if cfg.Results.ParkedTTL == 0 {
		cfg.Results.ParkedTTL = time.Hour
	}

	if cfg.Judge.FinalTopic == "" {
		cfg.Judge.FinalTopic = "judge.status_final"
	}
	if cfg.Judge.StatusTTL == 0 {
		cfg.Judge.StatusTTL = 24 * time.Hour
	}
	if cfg.Judge.StatusEmptyTTL == 0 {
		cfg.Judge.StatusEmptyTTL = 30 * time.Second
	}
	if cfg.Judge.RateLimit.Window == 0 {
		cfg.Judge.RateLimit.Window = time.Minute
	}
	if cfg.Judge.RateLimit.UserMax == 0 {
		cfg.Judge.RateLimit.UserMax = 30
	}
	if cfg.Judge.Timeouts.DB == 0 {
		cfg.Judge.Timeouts.DB = 3 * time.Second
	}
	if cfg.Judge.Timeouts.Cache == 0 {
		cfg.Judge.Timeouts.Cache = time.Second
	}
	if cfg.Judge.Timeouts.Storage == 0 {
		cfg.Judge.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Judge.Timeouts.Dispatch == 0 {
		cfg.Judge.Timeouts.Dispatch = 30 * time.Second
	}
	if cfg.Judge.SourceBucket == "" {
		cfg.Judge.SourceBucket = cfg.MinIO.Bucket
	}
	return &cfg, nil
}

func (c ResultConfig) subscribeOptions() mq.SubscribeOptions {
	opts := mq.SubscribeOptions{
		ConsumerGroup: c.ConsumerGroup,
		Concurrency:   c.Concurrency,
		MaxRetries:    c.MaxRetries,
	}
	opts.SetDefaults()
	return opts
}
