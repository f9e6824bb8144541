package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`

	GatewayBaseURL   string `env:"GATEWAY_BASE_URL" envDefault:"http://mock-gateway:8081"`
	GatewayKeyID     string `env:"GATEWAY_KEY_ID,required"`
	GatewayKeySecret string `env:"GATEWAY_KEY_SECRET,required"`
	WebhookSecret    string `env:"WEBHOOK_SECRET,required"`

	GatewayTimeoutS   int `env:"GATEWAY_TIMEOUT_S" envDefault:"5"`
	GatewayMaxRetries int `env:"GATEWAY_MAX_RETRIES" envDefault:"3"`

	HoldDurationM      int     `env:"HOLD_DURATION_M" envDefault:"15"`
	ReconcileIntervalS int     `env:"RECONCILE_INTERVAL_S" envDefault:"60"`
	WebhookGraceS      int     `env:"WEBHOOK_GRACE_S" envDefault:"30"`
	SweepBatchSize     int     `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
	MaxSweepAttempts   int     `env:"MAX_SWEEP_ATTEMPTS" envDefault:"5"`
	CASMaxRetries      int     `env:"CAS_MAX_RETRIES" envDefault:"5"`
	ConvenienceFeePct  float64 `env:"CONVENIENCE_FEE_PCT" envDefault:"0.035"`

	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string `env:"APP_ENV" envDefault:"production"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) HoldDuration() time.Duration {
	return time.Duration(c.HoldDurationM) * time.Minute
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalS) * time.Second
}

func (c *Config) WebhookGrace() time.Duration {
	return time.Duration(c.WebhookGraceS) * time.Second
}
