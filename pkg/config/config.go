package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port            string        `env:"PORT" env-default:"8081"`
		GRPCPort        string        `env:"GRPC_PORT" env-default:"9091"`
		Env             string        `env:"APP_ENV" env-default:"development"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`
	}

	Database struct {
		Driver   string        `env:"DB_DRIVER" env-default:"postgres"`
		Host     string        `env:"DB_HOST" env-default:"localhost"`
		Port     string        `env:"DB_PORT" env-default:"5432"`
		User     string        `env:"DB_USER" env-default:"postgres"`
		Password string        `env:"DB_PASSWORD" env-default:"postgres"`
		Name     string        `env:"DB_NAME" env-default:"storyforge"`
		SSLMode  string        `env:"DB_SSL_MODE" env-default:"disable"`
		MaxConns int           `env:"DB_MAX_CONNS" env-default:"20"`
		Retries  uint          `env:"DB_CONNECT_RETRIES" env-default:"5"`
		Timeout  time.Duration `env:"DB_TIMEOUT" env-default:"5s"`
	}

	Security struct {
		RateLimit      float64  `env:"RATE_LIMIT" env-default:"5"`
		RateLimitBurst int      `env:"RATE_LIMIT_BURST" env-default:"10"`
		AllowedOrigins []string `env:"ALLOWED_ORIGINS" env-default:"*" env-separator:","`
		TrustedProxies []string `env:"TRUSTED_PROXIES" env-default:"127.0.0.1" env-separator:","`
		MaxBodySize    int64    `env:"MAX_BODY_SIZE" env-default:"10485760"`
	}

	Logging struct {
		Level  string `env:"LOG_LEVEL" env-default:"info"`
		Format string `env:"LOG_FORMAT" env-default:"json"`
	}

	// Gateway tunes outbound chat-completion calls.
	Gateway struct {
		RequestTimeout   time.Duration `env:"AI_REQUEST_TIMEOUT" env-default:"30s"`
		ConnectTimeout   time.Duration `env:"AI_STREAM_CONNECT_TIMEOUT" env-default:"60s"`
		IdleTimeout      time.Duration `env:"AI_STREAM_IDLE_TIMEOUT" env-default:"120s"`
		Retries          uint          `env:"AI_RETRIES" env-default:"2"`
		RetryDelay       time.Duration `env:"AI_RETRY_DELAY" env-default:"300ms"`
		BreakerThreshold int           `env:"AI_BREAKER_THRESHOLD" env-default:"5"`
		BreakerTimeout   time.Duration `env:"AI_BREAKER_TIMEOUT" env-default:"30s"`
	}

	Redis struct {
		Enabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
		Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" env-default:"0"`
	}

	Cache struct {
		TTL         time.Duration `env:"CACHE_TTL" env-default:"5m"`
		MaxSize     int           `env:"CACHE_MAX_SIZE" env-default:"1000"`
		PurgeWindow time.Duration `env:"CACHE_PURGE_WINDOW" env-default:"10m"`
	}

	Vault struct {
		Enabled bool   `env:"VAULT_ENABLED" env-default:"false"`
		Addr    string `env:"VAULT_ADDR" env-default:"http://localhost:8200"`
		Token   string `env:"VAULT_TOKEN"`
		Path    string `env:"VAULT_SECRET_PATH" env-default:"storyforge"`
	}

	Features struct {
		EnableWebSockets  bool   `env:"ENABLE_WEBSOCKETS" env-default:"true"`
		EnableTracing     bool   `env:"ENABLE_TRACING" env-default:"false"`
		OpenAPISchemaPath string `env:"OPENAPI_SCHEMA_PATH"`
	}
}

var (
	instance *Config
	loadErr  error
	once     sync.Once
)

// Load reads .env (if present) and the process environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// New creates the singleton Config instance from the environment.
// A malformed variable is reported once; Get then panics on it.
func New() (*Config, error) {
	once.Do(func() {
		instance, loadErr = Load()
	})
	return instance, loadErr
}

// Get returns the singleton Config instance
func Get() *Config {
	cfg, err := New()
	if err != nil {
		panic(err)
	}
	return cfg
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}
