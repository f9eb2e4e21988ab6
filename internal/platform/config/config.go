package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Host      string `env:"HOST" default:"0.0.0.0"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	EchoToSender            bool          `env:"RELAY_ECHO_TO_SENDER" default:"false"`
	DeliveryTimeout         time.Duration `env:"RELAY_DELIVERY_TIMEOUT" default:"5s"`
	MaxConcurrentDeliveries int           `env:"RELAY_MAX_CONCURRENT_DELIVERIES" default:"0"`
	SendBuffer              int           `env:"RELAY_SEND_BUFFER" default:"16"`
	MaxMessageBytes         int64         `env:"RELAY_MAX_MESSAGE_BYTES" default:"1048576"`
	WriteTimeout            time.Duration `env:"RELAY_WRITE_TIMEOUT" default:"10s"`
	PingInterval            time.Duration `env:"RELAY_PING_INTERVAL" default:"30s"`
	PongTimeout             time.Duration `env:"RELAY_PONG_TIMEOUT" default:"60s"`

	AllowedOrigins          string  `env:"ALLOWED_ORIGINS"`
	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`

	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" default:"relay:messages"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Origins splits ALLOWED_ORIGINS into its entries. An empty result allows any origin.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// BridgeEnabled reports whether the cross-instance Redis bridge should run.
func (c *Config) BridgeEnabled() bool {
	return c.RedisURL != ""
}

func validate(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"RELAY_DELIVERY_TIMEOUT", cfg.DeliveryTimeout},
		{"RELAY_WRITE_TIMEOUT", cfg.WriteTimeout},
		{"RELAY_PING_INTERVAL", cfg.PingInterval},
		{"RELAY_PONG_TIMEOUT", cfg.PongTimeout},
		{"SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if cfg.PongTimeout <= cfg.PingInterval {
		return errors.New("RELAY_PONG_TIMEOUT must be longer than RELAY_PING_INTERVAL")
	}

	limits := map[string]int{
		"RELAY_SEND_BUFFER":         cfg.SendBuffer,
		"MAX_WEBSOCKET_CONNECTIONS": cfg.MaxWebSocketConnections,
		"MAX_CONNECTIONS_PER_IP":    cfg.MaxConnectionsPerIP,
		"CONNECTION_BURST":          cfg.ConnectionBurst,
	}
	for name, value := range limits {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, value)
		}
	}

	if cfg.MaxConcurrentDeliveries < 0 {
		return fmt.Errorf("RELAY_MAX_CONCURRENT_DELIVERIES must not be negative, got %d", cfg.MaxConcurrentDeliveries)
	}
	if cfg.MaxMessageBytes < 1 {
		return fmt.Errorf("RELAY_MAX_MESSAGE_BYTES must be at least 1, got %d", cfg.MaxMessageBytes)
	}
	if cfg.ConnectionRate <= 0 {
		return fmt.Errorf("CONNECTION_RATE must be positive, got %g", cfg.ConnectionRate)
	}
	if cfg.RedisURL != "" && cfg.RedisChannel == "" {
		return errors.New("REDIS_CHANNEL is required when REDIS_URL is set")
	}

	return nil
}
