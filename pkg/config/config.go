// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, ObjectStore, AI, Media, Chunking,
// Retrieval, Worker, Pricing, Quota, RateLimit, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	AI          AIConfig          `yaml:"ai"`
	Media       MediaConfig       `yaml:"media"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Worker      WorkerConfig      `yaml:"worker"`
	Pricing     []PriceEntry      `yaml:"pricing"`
	Quota       QuotaConfig       `yaml:"quota"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	JobQueued string `yaml:"jobQueued"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// ObjectStoreConfig points at the S3-compatible bucket holding raw uploads.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// AIConfig configures the OpenAI-compatible provider used for every paid
// external service.
type AIConfig struct {
	BaseURL             string        `yaml:"baseUrl"`
	APIKey              string        `yaml:"apiKey"`
	EmbeddingModel      string        `yaml:"embeddingModel"`
	EmbeddingDimension  int           `yaml:"embeddingDimension"`
	EmbeddingBatchSize  int           `yaml:"embeddingBatchSize"`
	EmbeddingWorkers    int           `yaml:"embeddingWorkers"`
	EmbeddingMaxTokens  int           `yaml:"embeddingMaxTokens"`
	CompletionModel     string        `yaml:"completionModel"`
	CompletionMaxTokens int           `yaml:"completionMaxTokens"`
	Temperature         float64       `yaml:"temperature"`
	VisionModel         string        `yaml:"visionModel"`
	VisionMaxTokens     int           `yaml:"visionMaxTokens"`
	TranscriptionModel  string        `yaml:"transcriptionModel"`
	RequestTimeout      time.Duration `yaml:"requestTimeout"`
	MaxRetries          int           `yaml:"maxRetries"`
}

// MediaConfig holds per-media-type upload ceilings and transcoding settings.
type MediaConfig struct {
	MaxBytes map[string]int64 `yaml:"maxBytes"`
	// MaxExtractedAudio is the speech-to-text input ceiling. Larger audio
	// is re-encoded and extracted video audio must fit under it.
	MaxExtractedAudio   int64  `yaml:"maxExtractedAudio"`
	FFmpegPath          string `yaml:"ffmpegPath"`
	AudioBitrate        string `yaml:"audioBitrate"`
	AudioSampleRate     int    `yaml:"audioSampleRate"`
	TranscodeScratchDir string `yaml:"transcodeScratchDir"`
}

// ChunkingConfig controls the token window used by the chunker.
type ChunkingConfig struct {
	TargetTokens  int    `yaml:"targetTokens"`
	OverlapTokens int    `yaml:"overlapTokens"`
	Encoding      string `yaml:"encoding"`
}

// RetrievalConfig holds query defaults and the query-embedding cache TTL.
type RetrievalConfig struct {
	DefaultTopK      int           `yaml:"defaultTopK"`
	MaxTopK          int           `yaml:"maxTopK"`
	DefaultThreshold float64       `yaml:"defaultThreshold"`
	CacheTTL         time.Duration `yaml:"cacheTTL"`
}

// WorkerConfig controls the sweep loop, stage timeouts and the stale reaper.
type WorkerConfig struct {
	Port         int           `yaml:"port"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Slots        int           `yaml:"slots"`
	StageTimeout time.Duration `yaml:"stageTimeout"`
	StaleAfter   time.Duration `yaml:"staleAfter"`
}

// PriceEntry is one row of the pricing table. Rates are in USD.
type PriceEntry struct {
	Service           string  `yaml:"service"`
	Model             string  `yaml:"model"`
	PerMinute         float64 `yaml:"perMinute"`
	PerThousandInput  float64 `yaml:"perThousandInput"`
	PerThousandOutput float64 `yaml:"perThousandOutput"`
}

// QuotaConfig lists the plans users can be on.
type QuotaConfig struct {
	DefaultPlan                  string                `yaml:"defaultPlan"`
	Plans                        map[string]PlanLimits `yaml:"plans"`
	NotificationThresholdPercent int                   `yaml:"notificationThresholdPercent"`
}

// PlanLimits are monthly maxima. A non-positive value disables that dimension.
type PlanLimits struct {
	MaxAPICalls int64   `yaml:"maxApiCalls"`
	MaxTokens   int64   `yaml:"maxTokens"`
	MaxCost     float64 `yaml:"maxCost"`
}

// RateLimitConfig holds per-endpoint-class windows and role multipliers.
type RateLimitConfig struct {
	Classes         map[string]RateLimitRule `yaml:"classes"`
	RoleMultipliers map[string]float64       `yaml:"roleMultipliers"`
	Backend         string                   `yaml:"backend"`
}

// RateLimitRule allows Limit requests per Window.
type RateLimitRule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. A .env file in the working directory is loaded first when
// present. It returns a Config populated with defaults for any missing values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would break invariants at runtime.
func (c *Config) Validate() error {
	var problems []string
	if c.AI.EmbeddingDimension <= 0 {
		problems = append(problems, "ai.embeddingDimension must be positive")
	}
	if c.AI.EmbeddingBatchSize <= 0 {
		problems = append(problems, "ai.embeddingBatchSize must be positive")
	}
	if c.Chunking.TargetTokens <= 0 {
		problems = append(problems, "chunking.targetTokens must be positive")
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		problems = append(problems, "chunking.overlapTokens must be in [0, targetTokens)")
	}
	if c.AI.EmbeddingMaxTokens > 0 && c.Chunking.TargetTokens > c.AI.EmbeddingMaxTokens {
		problems = append(problems, "chunking.targetTokens exceeds ai.embeddingMaxTokens")
	}
	if c.Retrieval.DefaultThreshold < 0 || c.Retrieval.DefaultThreshold > 1 {
		problems = append(problems, "retrieval.defaultThreshold must be in [0, 1]")
	}
	if _, ok := c.Quota.Plans[c.Quota.DefaultPlan]; !ok {
		problems = append(problems, fmt.Sprintf("quota.defaultPlan %q is not defined", c.Quota.DefaultPlan))
	}
	priced := make(map[string]bool, len(c.Pricing))
	for _, p := range c.Pricing {
		priced[p.Service+"/"+p.Model] = true
	}
	for service, model := range map[string]string{
		"embedding":     c.AI.EmbeddingModel,
		"completion":    c.AI.CompletionModel,
		"vision":        c.AI.VisionModel,
		"transcription": c.AI.TranscriptionModel,
	} {
		if !priced[service+"/"+model] {
			problems = append(problems, fmt.Sprintf("no price for %s model %q", service, model))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  90 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "mediarag",
			User:            "mediarag",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "mediarag-workers",
			Topics: KafkaTopics{
				JobQueued: "processing.job-queued",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "media",
		},
		AI: AIConfig{
			BaseURL:             "https://api.openai.com/v1",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimension:  1536,
			EmbeddingBatchSize:  100,
			EmbeddingWorkers:    4,
			EmbeddingMaxTokens:  8191,
			CompletionModel:     "gpt-4",
			CompletionMaxTokens: 1000,
			Temperature:         0.7,
			VisionModel:         "gpt-4o",
			VisionMaxTokens:     1500,
			TranscriptionModel:  "whisper-1",
			RequestTimeout:      2 * time.Minute,
			MaxRetries:          3,
		},
		Media: MediaConfig{
			MaxBytes: map[string]int64{
				"document": 10 << 20,
				"audio":    100 << 20,
				"video":    500 << 20,
				"image":    20 << 20,
			},
			MaxExtractedAudio: 25 << 20,
			FFmpegPath:        "ffmpeg",
			AudioBitrate:      "128k",
			AudioSampleRate:   44100,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  500,
			OverlapTokens: 50,
			Encoding:      "cl100k_base",
		},
		Retrieval: RetrievalConfig{
			DefaultTopK:      10,
			MaxTopK:          50,
			DefaultThreshold: 0.1,
			CacheTTL:         10 * time.Minute,
		},
		Worker: WorkerConfig{
			Port:         8081,
			PollInterval: 15 * time.Second,
			Slots:        1,
			StageTimeout: 10 * time.Minute,
			StaleAfter:   30 * time.Minute,
		},
		Pricing: []PriceEntry{
			{Service: "transcription", Model: "whisper-1", PerMinute: 0.006},
			{Service: "vision", Model: "gpt-4o", PerThousandInput: 0.005, PerThousandOutput: 0.015},
			{Service: "embedding", Model: "text-embedding-3-small", PerThousandInput: 0.00002},
			{Service: "embedding", Model: "text-embedding-3-large", PerThousandInput: 0.00013},
			{Service: "embedding", Model: "text-embedding-ada-002", PerThousandInput: 0.0001},
			{Service: "completion", Model: "gpt-4", PerThousandInput: 0.03, PerThousandOutput: 0.06},
			{Service: "completion", Model: "gpt-4o", PerThousandInput: 0.005, PerThousandOutput: 0.015},
			{Service: "completion", Model: "gpt-4o-mini", PerThousandInput: 0.00015, PerThousandOutput: 0.0006},
			{Service: "completion", Model: "gpt-3.5-turbo", PerThousandInput: 0.001, PerThousandOutput: 0.002},
		},
		Quota: QuotaConfig{
			DefaultPlan: "free",
			Plans: map[string]PlanLimits{
				"free": {MaxAPICalls: 1000, MaxTokens: 1_000_000, MaxCost: 5},
				"pro":  {MaxAPICalls: 20000, MaxTokens: 20_000_000, MaxCost: 100},
			},
			NotificationThresholdPercent: 80,
		},
		RateLimit: RateLimitConfig{
			Backend: "redis",
			Classes: map[string]RateLimitRule{
				"auth":   {Limit: 5, Window: time.Minute},
				"ai":     {Limit: 10, Window: time.Minute},
				"upload": {Limit: 5, Window: 5 * time.Minute},
				"admin":  {Limit: 30, Window: time.Minute},
				"api":    {Limit: 60, Window: time.Minute},
			},
			RoleMultipliers: map[string]float64{
				"user":        1,
				"admin":       3,
				"super_admin": 10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads MR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("MR_SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv("MR_SERVER_ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = strings.Split(v, ",")
	}
	setString("MR_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("MR_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("MR_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("MR_POSTGRES_USER", &cfg.Postgres.User)
	setString("MR_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("MR_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("MR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MR_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	setString("MR_REDIS_ADDR", &cfg.Redis.Addr)
	setString("MR_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("MR_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	setString("MR_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKey)
	setString("MR_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretKey)
	setString("MR_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket)
	setString("MR_AI_BASE_URL", &cfg.AI.BaseURL)
	setString("MR_AI_API_KEY", &cfg.AI.APIKey)
	if cfg.AI.APIKey == "" {
		setString("OPENAI_API_KEY", &cfg.AI.APIKey)
	}
	setString("MR_AI_EMBEDDING_MODEL", &cfg.AI.EmbeddingModel)
	setInt("MR_AI_EMBEDDING_DIMENSION", &cfg.AI.EmbeddingDimension)
	setString("MR_AI_COMPLETION_MODEL", &cfg.AI.CompletionModel)
	setString("MR_MEDIA_FFMPEG_PATH", &cfg.Media.FFmpegPath)
	setInt("MR_WORKER_PORT", &cfg.Worker.Port)
	setInt("MR_WORKER_SLOTS", &cfg.Worker.Slots)
	setString("MR_RATELIMIT_BACKEND", &cfg.RateLimit.Backend)
	setString("MR_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("MR_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("MR_METRICS_PORT", &cfg.Metrics.Port)
}
