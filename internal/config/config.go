package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN        string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL        string `env:"RABBITMQ_URL,required=true"`
	RedisURL           string `env:"REDIS_URL,required=true"`
	InstallerBaseURL   string `env:"INSTALLER_BASE_URL,required=true"`
	InventoryBaseURL   string `env:"INVENTORY_BASE_URL,required=true"`
	PollMaxRuntimeMin  int    `env:"POLL_MAX_RUNTIME_MIN,default=120"`
	PollWarmupSec      int    `env:"POLL_WARMUP_SEC,default=3"`
	PollSteadySec      int    `env:"POLL_STEADY_SEC,default=10"`
	PollHandleAttempts int    `env:"POLL_HANDLE_ATTEMPTS,default=10"`
	DBMaxOpenConns     int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns     int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	APIPort            int    `env:"API_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) PollMaxRuntime() time.Duration {
	return time.Duration(c.PollMaxRuntimeMin) * time.Minute
}

func (c *Config) PollWarmupInterval() time.Duration {
	return time.Duration(c.PollWarmupSec) * time.Second
}

func (c *Config) PollSteadyInterval() time.Duration {
	return time.Duration(c.PollSteadySec) * time.Second
}
