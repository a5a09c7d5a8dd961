package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/bobarin/captionreel/internal/logx"
)

const (
	DispatchInline = "inline"
	DispatchQueue  = "queue"
)

type Config struct {
	// Telegram
	BotToken     string `env:"BOT_TOKEN"`
	DispatchMode string `env:"DISPATCH_MODE" envDefault:"inline"` // inline|queue

	// Server
	APIPort            string `env:"API_PORT" envDefault:"8080"`
	BackendAPIKey      string `env:"BACKEND_API_KEY"`      // empty = no auth, dev mode
	CorsAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"` // comma-separated, empty = *

	// Redis
	RedisURL  string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	QueueName string `env:"QUEUE_NAME" envDefault:"video_jobs"`

	// Database (optional render ledger)
	DatabaseURL string `env:"DATABASE_URL"`

	// Delivery endpoint; "/process" is appended
	DeliveryURL string `env:"DELIVERY_URL"`

	// Sessions
	SessionTimeout       time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`

	// Rendering
	TempDir              string        `env:"TEMP_DIR" envDefault:"/tmp/captionreel"`
	CaptionFontPath      string        `env:"CAPTION_FONT_PATH"` // empty = built-in bold sans
	RenderTimeout        time.Duration `env:"RENDER_TIMEOUT" envDefault:"5m"`
	DownloadTimeout      time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"30s"`
	ProbeTimeout         time.Duration `env:"PROBE_TIMEOUT" envDefault:"15s"`
	SubmitTimeout        time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"30s"`
	MaxConcurrentRenders int           `env:"MAX_CONCURRENT_RENDERS" envDefault:"2"`

	// Railway deployment control
	RailwayAPIToken      string `env:"RAILWAY_API_TOKEN"`
	RailwayAPIURL        string `env:"RAILWAY_API_URL" envDefault:"https://backboard.railway.app/graphql/v2"`
	RailwayServiceID     string `env:"RAILWAY_SERVICE_ID"`
	RailwayEnvironmentID string `env:"RAILWAY_ENVIRONMENT_ID"`

	// Queue polling
	PollRetryAttempts int           `env:"POLL_RETRY_ATTEMPTS" envDefault:"3"`
	PollBaseDelay     time.Duration `env:"POLL_BASE_DELAY" envDefault:"1s"`
	PollMaxDelay      time.Duration `env:"POLL_MAX_DELAY" envDefault:"10s"`

	// Caption suggestions (optional)
	SuggestProvider string `env:"SUGGEST_PROVIDER" envDefault:"openai"` // openai|gemini
	OpenAIKey       string `env:"OPENAI_API_KEY"`
	OpenAIModel     string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	GeminiKey       string `env:"GEMINI_API_KEY"`
	GeminiModel     string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile   string `env:"LOG_FILE"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.DispatchMode = strings.ToLower(strings.TrimSpace(cfg.DispatchMode))
	cfg.SuggestProvider = strings.ToLower(strings.TrimSpace(cfg.SuggestProvider))

	if cfg.MaxConcurrentRenders < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_RENDERS must be at least 1")
	}
	if cfg.RenderTimeout <= 0 {
		return nil, fmt.Errorf("RENDER_TIMEOUT must be positive")
	}
	return cfg, nil
}

// ValidateBot checks the settings the conversational front end needs.
func (c *Config) ValidateBot() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	switch c.DispatchMode {
	case DispatchInline:
		if c.DeliveryURL == "" {
			return fmt.Errorf("DELIVERY_URL is required in inline dispatch mode")
		}
	case DispatchQueue:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in queue dispatch mode")
		}
	default:
		return fmt.Errorf("DISPATCH_MODE must be %q or %q, got %q", DispatchInline, DispatchQueue, c.DispatchMode)
	}
	if c.SessionTimeout <= 0 || c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT and SESSION_SWEEP_INTERVAL must be positive")
	}
	return nil
}

// ValidateWorker checks the settings a queue-draining worker needs.
func (c *Config) ValidateWorker() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required to resolve file ids")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.DeliveryURL == "" {
		return fmt.Errorf("DELIVERY_URL is required")
	}
	if c.PollRetryAttempts < 0 {
		return fmt.Errorf("POLL_RETRY_ATTEMPTS must not be negative")
	}
	return nil
}

// DeploymentControlConfigured reports whether the worker can stop itself.
func (c *Config) DeploymentControlConfigured() bool {
	return c.RailwayAPIToken != "" && c.RailwayServiceID != ""
}

// ProcessURL is the delivery endpoint that receives finished renders.
func (c *Config) ProcessURL() string {
	return strings.TrimRight(c.DeliveryURL, "/") + "/process"
}

// CorsOrigins splits CorsAllowedOrigins, defaulting to "*".
func (c *Config) CorsOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CorsAllowedOrigins, ",") {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (c *Config) Log(service string) logx.Config {
	return logx.Config{
		Service:      service,
		Level:        c.LogLevel,
		Format:       c.LogFormat,
		FilePath:     c.LogFile,
		FileCompress: true,
	}
}
