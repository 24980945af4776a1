package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

var ErrInvalidConfig = errors.New("Invalid config")

type Config struct {
	// RequestTimeout bounds how long outbound calls wait for a response, 0 waits forever
	RequestTimeout time.Duration `env:"TETHER_REQUEST_TIMEOUT,default=30s"`

	// MaxFrameSize bounds inbound frame payloads, 0 is unbounded
	MaxFrameSize uint32 `env:"TETHER_MAX_FRAME_SIZE,default=16777216"`

	ReadBufferSize int `env:"TETHER_READ_BUFFER_SIZE,default=16384"`

	DebugHTTP bool   `env:"TETHER_DEBUG_HTTP"`
	LogLevel  string `env:"TETHER_LOG_LEVEL,default=info"`

	// Trace logs every read and write on every connection
	Trace bool `env:"TETHER_TRACE"`

	// RateLimit is the number of inbound calls per second served, 0 disables limiting
	RateLimit float64 `env:"TETHER_RATE_LIMIT"`
	RateBurst int     `env:"TETHER_RATE_BURST,default=100"`
}

// LoadConfig reads .env.local, when there is one, then the environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("Failed to load .env.local: %w", err)
	}

	return LoadConfigFrom(ctx, envconfig.OsLookuper())
}

func LoadConfigFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: TETHER_REQUEST_TIMEOUT must not be negative", ErrInvalidConfig)
	}

	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: TETHER_READ_BUFFER_SIZE must be positive", ErrInvalidConfig)
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("%w: TETHER_RATE_LIMIT must not be negative", ErrInvalidConfig)
	}

	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("%w: TETHER_RATE_BURST must be positive when rate limiting", ErrInvalidConfig)
	}

	return nil
}
