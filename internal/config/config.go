package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN        string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL        string `env:"RABBITMQ_URL,required=true"`
	RedisURL           string `env:"REDIS_URL,required=true"`
	MailGatewayURL     string `env:"MAIL_GATEWAY_URL,required=true"`
	TrackingBaseURL    string `env:"TRACKING_BASE_URL,required=true"`
	LandingURL         string `env:"LANDING_URL,default=https://example.com"`
	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency  int    `env:"WORKER_CONCURRENCY,default=8"`
	APIPort            int    `env:"API_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
	BroadcastTimeoutMS int    `env:"BROADCAST_TIMEOUT_MS,default=1000"`
	ObserverBuffer     int    `env:"OBSERVER_BUFFER,default=16"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
