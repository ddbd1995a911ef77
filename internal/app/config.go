package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-assistant/internal/llm"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ASSISTANT_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage   StorageConfig
	Model     ModelConfig
	Agent     AgentConfig
	Events    EventsConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StorageConfig selects where the catalog, carts and orders live.
type StorageConfig struct {
	Driver      string `default:"postgres" usage:"Storage driver: postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ASSISTANT_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// SeedFile replaces the embedded catalog of the memory driver.
	SeedFile string `usage:"Catalog JSON file (optionally .gz) for the memory driver" flag:"seed-file"`
}

// ModelConfig points at a chat completions endpoint.
type ModelConfig struct {
	BaseURL string        `default:"https://api.openai.com/v1" usage:"Chat completions API base URL" flag:"model-base-url"`
	APIKey  string        `usage:"Model API key (ASSISTANT_MODEL_API_KEY or OPENAI_API_KEY)" flag:"model-api-key"`
	Name    string        `default:"gpt-4o-mini" usage:"Model name" flag:"model-name"`
	Timeout time.Duration `default:"60s" usage:"Model request timeout" flag:"model-timeout"`
}

// AgentConfig bounds the tool loop.
type AgentConfig struct {
	MaxIterations int `default:"8" usage:"Max model calls per chat turn" flag:"max-iterations"`
}

// EventsConfig enables order events. Empty AMQPURL disables publishing.
type EventsConfig struct {
	AMQPURL string `usage:"RabbitMQ URL for order events" flag:"amqp-url"`
}

// RateLimitConfig controls the sliding window rate limiters.
type RateLimitConfig struct {
	Max        int           `default:"100" usage:"Max requests per client IP per window"`
	Window     time.Duration `default:"1m"  usage:"Rate limit window duration"`
	ChatMax    int           `default:"20"  usage:"Max chat messages per user per window" flag:"chat-max"`
	ChatWindow time.Duration `default:"1m"  usage:"Chat rate limit window duration" flag:"chat-window"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ASSISTANT",
		Files:     []string{"config.yaml", "/etc/kart-assistant/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the application configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = getenv("DATABASE_URL")
	}
	if c.Model.APIKey == "" {
		c.Model.APIKey = getenv("OPENAI_API_KEY")
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = llm.DefaultBaseURL
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set ASSISTANT_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Model.APIKey == "" {
		return errors.New("model API key is required: set ASSISTANT_MODEL_API_KEY or OPENAI_API_KEY")
	}
	if c.Agent.MaxIterations <= 0 {
		return errors.Errorf("max iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	return nil
}
