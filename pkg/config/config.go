package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultDashboardPassword is used when no password is configured.
const DefaultDashboardPassword = "admin"

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path             string        `yaml:"path"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		SendQueueSize    int           `yaml:"send_queue_size"`
		MaxMessageSize   int64         `yaml:"max_message_size"`
		MaxDecodeErrors  int           `yaml:"max_decode_errors"`
		MessageLogSize   int           `yaml:"message_log_size"`
		LatencyWindow    int           `yaml:"latency_window"`
		PreviewLength    int           `yaml:"preview_length"`
		AllowedOrigins   []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Pairing struct {
		Roles   []string            `yaml:"roles"`
		Aliases map[string]string   `yaml:"aliases"`
		Pairs   []map[string]string `yaml:"pairs"`
		Strict  bool                `yaml:"strict"`
	} `yaml:"pairing"`

	Dashboard struct {
		Password   string        `yaml:"password"`
		JWTSecret  string        `yaml:"jwt_secret"`
		SessionTTL time.Duration `yaml:"session_ttl"`
		CookieName string        `yaml:"cookie_name"`
	} `yaml:"dashboard"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		// DirectorySync is how often connection summaries are mirrored to
		// Redis. Entries expire after three missed syncs.
		DirectorySync time.Duration `yaml:"directory_sync"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Path == "" || c.Signal.Path[0] != '/' {
		return fmt.Errorf("signal.path must start with '/'")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendQueueSize <= 0 {
		return fmt.Errorf("signal.send_queue_size must be > 0")
	}
	if c.Signal.MaxMessageSize < 0 {
		return fmt.Errorf("signal.max_message_size must be >= 0")
	}
	if c.Signal.MaxDecodeErrors < 0 {
		return fmt.Errorf("signal.max_decode_errors must be >= 0")
	}
	if c.Signal.MessageLogSize <= 0 {
		return fmt.Errorf("signal.message_log_size must be > 0")
	}
	if c.Signal.LatencyWindow <= 0 {
		return fmt.Errorf("signal.latency_window must be > 0")
	}

	// Pairing
	if len(c.Pairing.Roles) < 2 {
		return fmt.Errorf("pairing.roles must list at least two roles")
	}
	for i, pair := range c.Pairing.Pairs {
		if pair["a"] == "" || pair["b"] == "" {
			return fmt.Errorf("pairing.pairs[%d] must set both a and b", i)
		}
	}

	// Dashboard
	if c.Dashboard.Password == "" {
		return fmt.Errorf("dashboard.password must not be empty")
	}
	if c.Dashboard.JWTSecret == "" {
		return fmt.Errorf("dashboard.jwt_secret must not be empty")
	}
	if c.Dashboard.SessionTTL <= 0 {
		return fmt.Errorf("dashboard.session_ttl must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.DirectorySync <= 0 {
			return fmt.Errorf("redis.directory_sync must be > 0 when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":80"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 5 * time.Second
	cfg.Signal.PongTimeout = 15 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.HandshakeTimeout = 10 * time.Second
	cfg.Signal.SendQueueSize = 256
	cfg.Signal.MaxMessageSize = 4 << 20 // a 512x512 RGBA frame is 1 MiB
	cfg.Signal.MaxDecodeErrors = 10
	cfg.Signal.MessageLogSize = 100
	cfg.Signal.LatencyWindow = 50
	cfg.Signal.PreviewLength = 200
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Pairing.Roles = []string{"wearable", "robot"}
	cfg.Pairing.Aliases = map[string]string{"spectacles": "wearable"}

	cfg.Dashboard.Password = DefaultDashboardPassword
	cfg.Dashboard.JWTSecret = "change-me-in-production"
	cfg.Dashboard.SessionTTL = 12 * time.Hour
	cfg.Dashboard.CookieName = "broker_session"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.DirectorySync = 5 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "pairing-broker"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 200
	cfg.RateLimiting.WebSocket.Burst = 400
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Address = ":" + port
	}
	if addr := os.Getenv("BROKER_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("BROKER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if password := os.Getenv("DASHBOARD_PASSWORD"); password != "" {
		c.Dashboard.Password = password
	}
	if password := os.Getenv("BROKER_DASHBOARD_PASSWORD"); password != "" {
		c.Dashboard.Password = password
	}
	if secret := os.Getenv("BROKER_JWT_SECRET"); secret != "" {
		c.Dashboard.JWTSecret = secret
	}
	if addr := os.Getenv("BROKER_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
