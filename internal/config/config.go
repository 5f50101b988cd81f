package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type QueueConfig struct {
	Backend        string        `yaml:"backend"` // redis | memory
	Attempts       int           `yaml:"attempts"`
	BackoffDelayMS int64         `yaml:"backoff_delay_ms"`
	Lease          time.Duration `yaml:"lease"`
	ClaimWait      time.Duration `yaml:"claim_wait"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	MaintainEvery  time.Duration `yaml:"maintain_every"`
	Concurrency    struct {
		OCR           int `yaml:"ocr"`
		Analyze       int `yaml:"analyze"`
		ImageGenerate int `yaml:"image_generate"`
	} `yaml:"concurrency"`
}

type PipelineConfig struct {
	AnalysisDelay  time.Duration `yaml:"analysis_delay"`  // delay before the AI job after OCR
	DedupTTL       time.Duration `yaml:"dedup_ttl"`       // RequestAnalysis dedup key lifetime
	StageLockTTL   time.Duration `yaml:"stage_lock_ttl"`  // per-attempt analysis lock
	PollingWindow  time.Duration `yaml:"polling_window"`  // after this an unfinished attempt is stalled
	PromptVersion  string        `yaml:"prompt_version"`  // recorded in feedback metadata
	Binarize       bool          `yaml:"binarize"`        // threshold OCR input
	BinarizeCutoff uint8         `yaml:"binarize_cutoff"` // 0..255
}

type AIConfig struct {
	Providers       []string      `yaml:"providers"` // evaluation order: gemini, openai, noop
	GeminiKey       string        `yaml:"gemini_key"`
	GeminiURL       string        `yaml:"gemini_url"`
	GeminiModel     string        `yaml:"gemini_model"`
	OpenAIKey       string        `yaml:"openai_key"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	OpenAIModel     string        `yaml:"openai_model"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent evaluator calls
	Timeout         time.Duration `yaml:"timeout"`          // per provider
}

type OCRConfig struct {
	Providers   []string      `yaml:"providers"` // vision, gemini
	VisionKey   string        `yaml:"vision_key"`
	VisionURL   string        `yaml:"vision_url"`
	GeminiModel string        `yaml:"gemini_model"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ImageGenConfig struct {
	Endpoints   []string      `yaml:"endpoints"` // HTTP text-to-image endpoints tried first
	APIKey      string        `yaml:"api_key"`
	APIKeyName  string        `yaml:"api_key_header"`
	ImagenModel string        `yaml:"imagen_model"` // empty disables Imagen
	Timeout     time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Root         string        `yaml:"root"`
	PublicPrefix string        `yaml:"public_prefix"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	JWTSecret       string        `yaml:"jwt_secret"`
	RateLimit       int           `yaml:"rate_limit"` // mutating requests per window per user
	RateWindow      time.Duration `yaml:"rate_window"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	AI       AIConfig       `yaml:"ai"`
	OCR      OCRConfig      `yaml:"ocr"`
	ImageGen ImageGenConfig `yaml:"imagegen"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`

	Runtime RuntimeConfig `yaml:"-"`
}

// secrets are read from the environment and win over the file.
type secrets struct {
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	RedisPass   string `env:"REDIS_PASSWORD"`
	GeminiKey   string `env:"GEMINI_API_KEY"`
	OpenAIKey   string `env:"OPENAI_API_KEY"`
	VisionKey   string `env:"GOOGLE_VISION_API_KEY"`
	ImageGenKey string `env:"IMAGEGEN_API_KEY"`
	JWTSecret   string `env:"JWT_SECRET"`
}

// to help with testing
var envProcess = envconfig.Process

// LoadConfig reads the YAML file at path (a missing file is allowed in dev
// mode), applies environment overrides and defaults, and validates.
func LoadConfig(ctx context.Context, path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s secrets
	if err := envProcess(ctx, &s); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applySecrets(s)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) applySecrets(s secrets) {
	override(&c.Database.URL, s.DatabaseURL)
	override(&c.Redis.URL, s.RedisURL)
	override(&c.Redis.Password, s.RedisPass)
	override(&c.AI.GeminiKey, s.GeminiKey)
	override(&c.AI.OpenAIKey, s.OpenAIKey)
	override(&c.OCR.VisionKey, s.VisionKey)
	override(&c.ImageGen.APIKey, s.ImageGenKey)
	override(&c.HTTP.JWTSecret, s.JWTSecret)
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "pipeline"
	}

	q := &c.Queue
	if q.Backend == "" {
		q.Backend = "redis"
		if c.Runtime.Dev && c.Redis.URL == "" {
			q.Backend = "memory"
		}
	}
	if q.Attempts <= 0 {
		q.Attempts = 3
	}
	if q.BackoffDelayMS <= 0 {
		q.BackoffDelayMS = 2000
	}
	q.Lease = orDuration(q.Lease, 5*time.Minute)
	q.ClaimWait = orDuration(q.ClaimWait, time.Second)
	q.JobTimeout = orDuration(q.JobTimeout, 2*time.Minute)
	q.MaintainEvery = orDuration(q.MaintainEvery, 5*time.Second)
	if q.Concurrency.OCR <= 0 {
		q.Concurrency.OCR = 2
	}
	if q.Concurrency.Analyze <= 0 {
		q.Concurrency.Analyze = 1
	}
	if q.Concurrency.ImageGenerate <= 0 {
		q.Concurrency.ImageGenerate = 1
	}

	p := &c.Pipeline
	p.AnalysisDelay = orDuration(p.AnalysisDelay, time.Second)
	p.DedupTTL = orDuration(p.DedupTTL, 10*time.Minute)
	p.StageLockTTL = orDuration(p.StageLockTTL, 3*time.Minute)
	p.PollingWindow = orDuration(p.PollingWindow, 5*time.Minute)
	if p.PromptVersion == "" {
		p.PromptVersion = "1.0"
	}
	if p.BinarizeCutoff == 0 {
		p.BinarizeCutoff = 128
	}

	if len(c.AI.Providers) == 0 {
		c.AI.Providers = []string{"gemini", "openai"}
	}
	if c.AI.GeminiModel == "" {
		c.AI.GeminiModel = "gemini-1.5-flash"
	}
	if c.AI.OpenAIModel == "" {
		c.AI.OpenAIModel = "gpt-4o-mini"
	}
	if c.AI.MaxOutputTokens <= 0 {
		c.AI.MaxOutputTokens = 2048
	}
	if c.AI.ConcurrentLimit <= 0 {
		c.AI.ConcurrentLimit = 4
	}
	c.AI.Timeout = orDuration(c.AI.Timeout, 45*time.Second)

	if len(c.OCR.Providers) == 0 {
		c.OCR.Providers = []string{"vision", "gemini"}
	}
	if c.OCR.VisionURL == "" {
		c.OCR.VisionURL = "https://vision.googleapis.com/v1/images:annotate"
	}
	if c.OCR.GeminiModel == "" {
		c.OCR.GeminiModel = c.AI.GeminiModel
	}
	c.OCR.Timeout = orDuration(c.OCR.Timeout, 30*time.Second)

	if c.ImageGen.APIKeyName == "" {
		c.ImageGen.APIKeyName = "x-freepik-api-key"
	}
	c.ImageGen.Timeout = orDuration(c.ImageGen.Timeout, 60*time.Second)

	if c.Storage.Root == "" {
		c.Storage.Root = "./uploads"
	}
	if c.Storage.PublicPrefix == "" {
		c.Storage.PublicPrefix = "/uploads"
	}
	c.Storage.FetchTimeout = orDuration(c.Storage.FetchTimeout, 15*time.Second)

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimit <= 0 {
		c.HTTP.RateLimit = 30
	}
	c.HTTP.RateWindow = orDuration(c.HTTP.RateWindow, time.Minute)
	c.HTTP.ShutdownTimeout = orDuration(c.HTTP.ShutdownTimeout, 15*time.Second)
}

// Minimal validation. Dev mode runs on in-memory backends and needs no
// external services.
func (c *Config) validate() error {
	var problems []string
	switch c.Queue.Backend {
	case "redis", "memory":
	default:
		problems = append(problems, "queue.backend must be redis or memory")
	}
	if !c.Runtime.Dev {
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required")
		}
		if c.Queue.Backend == "redis" && c.Redis.URL == "" {
			problems = append(problems, "redis.url is required")
		}
		if c.HTTP.JWTSecret == "" {
			problems = append(problems, "http.jwt_secret is required")
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
