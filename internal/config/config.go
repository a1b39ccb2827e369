package config

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
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	SinkAMQP        = "amqp"
)

type Config struct {
	Port string

	DatabaseURL string
	RedisURL    string
	AMQPURL     string

	QueueBackend string
	FailedSink   string

	WorkerCount      int
	MaxAttempts      int
	LeaseTimeout     time.Duration
	InferenceTimeout time.Duration
	ReapInterval     time.Duration
	PollInterval     time.Duration
	DefaultPriority  int
	HistorySize      int

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	Mem0URL         string
	AstrologyAPIURL string

	TelegramToken         string
	TelegramAPIURL        string
	TelegramWebhookSecret string
	TelegramSendRPS       float64

	AdminToken string

	LogLevel  string
	LogFormat string
}

// Load reads the dotenv files (missing files are fine) and then the process environment.
func Load(envFiles ...string) (Config, error) {
	_ = godotenv.Load(envFiles...)
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from an arbitrary lookup; tests pass a map-backed func.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	cfg := Config{
		Port: p.str("PORT", "8080"),

		DatabaseURL: p.str("DATABASE_URL", ""),
		RedisURL:    p.str("REDIS_URL", ""),
		AMQPURL:     p.str("AMQP_URL", ""),

		QueueBackend: strings.ToLower(p.str("QUEUE_BACKEND", BackendPostgres)),
		FailedSink:   strings.ToLower(p.str("FAILED_SINK", "")),

		WorkerCount:      p.int("WORKER_COUNT", 1),
		MaxAttempts:      p.int("MAX_ATTEMPTS", 3),
		LeaseTimeout:     p.dur("LEASE_TIMEOUT", 2*time.Minute),
		InferenceTimeout: p.dur("INFERENCE_TIMEOUT", 90*time.Second),
		ReapInterval:     p.dur("REAP_INTERVAL", 5*time.Second),
		PollInterval:     p.dur("POLL_INTERVAL", 2*time.Second),
		DefaultPriority:  p.int("DEFAULT_PRIORITY", 5),
		HistorySize:      p.int("HISTORY_SIZE", 10),

		OpenAIKey:     p.str("OPENAI_API_KEY", ""),
		OpenAIBaseURL: p.str("OPENAI_BASE_URL", ""),
		OpenAIModel:   p.str("OPENAI_MODEL", ""),

		Mem0URL:         p.str("MEM0_URL", ""),
		AstrologyAPIURL: p.str("ASTROLOGY_API_URL", ""),

		TelegramToken:         p.str("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:        p.str("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramWebhookSecret: p.str("TELEGRAM_WEBHOOK_SECRET", ""),
		TelegramSendRPS:       p.float("TELEGRAM_SEND_RPS", 25),

		AdminToken: p.str("ADMIN_TOKEN", ""),

		LogLevel:  p.str("LOG_LEVEL", "info"),
		LogFormat: p.str("LOG_FORMAT", "json"),
	}
	if cfg.FailedSink == "" {
		cfg.FailedSink = cfg.QueueBackend
	}

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	if c.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", c.MaxAttempts))
	}
	if c.DefaultPriority < 1 || c.DefaultPriority > 10 {
		errs = append(errs, fmt.Errorf("DEFAULT_PRIORITY must be within 1..10, got %d", c.DefaultPriority))
	}
	if c.LeaseTimeout <= 0 {
		errs = append(errs, errors.New("LEASE_TIMEOUT must be positive"))
	}
	// the worker has to finish (or give up) before its lease is handed to someone else
	if c.InferenceTimeout <= 0 || c.InferenceTimeout >= c.LeaseTimeout {
		errs = append(errs, fmt.Errorf("INFERENCE_TIMEOUT (%s) must be positive and below LEASE_TIMEOUT (%s)",
			c.InferenceTimeout, c.LeaseTimeout))
	}
	if c.ReapInterval <= 0 || c.PollInterval <= 0 {
		errs = append(errs, errors.New("REAP_INTERVAL and POLL_INTERVAL must be positive"))
	}
	if c.HistorySize < 0 {
		errs = append(errs, errors.New("HISTORY_SIZE must not be negative"))
	}

	switch c.QueueBackend {
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}
	switch c.FailedSink {
	case BackendPostgres, BackendMemory:
	case SinkAMQP:
		if c.AMQPURL == "" {
			errs = append(errs, errors.New("AMQP_URL is required for FAILED_SINK=amqp"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FAILED_SINK %q", c.FailedSink))
	}
	if (c.QueueBackend == BackendPostgres || c.FailedSink == BackendPostgres) && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}

	return errors.Join(errs...)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (p *parser) dur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
