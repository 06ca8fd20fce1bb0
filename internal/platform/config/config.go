package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Role selects which parts of the relay a process runs.
type Role string

const (
	RoleAll    Role = "all"
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// Config is the full process configuration, read from the environment.
type Config struct {
	Role      Role `env:"RELAY_ROLE" env-default:"all"`
	Server    Server
	Postgres  PostgresConfig
	Redis     RedisConfig
	Broadcast BroadcastConfig
	Kafka     KafkaConfig
	Dispatch  DispatchConfig
	Providers ProvidersConfig
	RateLimit RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string        `env:"RELAY_ADDR" env-default:":8080"`
	ShutdownTimeout   time.Duration `env:"RELAY_SHUTDOWN_TIMEOUT" env-default:"10s"`
	RequestTimeout    time.Duration `env:"RELAY_REQUEST_TIMEOUT" env-default:"30s"`
	JWTSigningKey     string        `env:"JWT_SIGNING_KEY" env-default:"dev-secret-key-change-in-production"`
	JWTIssuer         string        `env:"JWT_ISSUER" env-default:"relay"`
	AdminToken        string        `env:"ADMIN_API_TOKEN"`
	PublishAllowedIPs []string      `env:"PUBLISH_ALLOWED_IPS" env-separator:","`
	AllowedOrigins    []string      `env:"WS_ALLOWED_ORIGINS" env-separator:","`
	LogLevel          string        `env:"LOG_LEVEL" env-default:"info"`
}

// PostgresConfig points at the event, inbox and audit database. An empty URL
// selects the in-memory stores.
type PostgresConfig struct {
	URL          string        `env:"DATABASE_URL"`
	MaxOpenConns int           `env:"DATABASE_MAX_OPEN_CONNS" env-default:"20"`
	MaxIdleConns int           `env:"DATABASE_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLife  time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" env-default:"30m"`
	Migrate      bool          `env:"DATABASE_MIGRATE" env-default:"true"`
}

// RedisConfig backs the job queue and, optionally, the broadcast layer. An
// empty URL selects the in-memory queue.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" env-default:"20"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" env-default:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" env-default:"3s"`
	QueuePrefix  string        `env:"REDIS_QUEUE_PREFIX" env-default:"relay:jobs"`
}

// BroadcastConfig selects the publish/subscribe transport for groups.
type BroadcastConfig struct {
	Backend string `env:"BROADCAST_BACKEND" env-default:"memory"` // memory, redis, nats
	NATSURL string `env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
}

// KafkaConfig enables the audit outbox relay. Empty brokers disable it.
type KafkaConfig struct {
	Brokers       []string      `env:"KAFKA_BROKERS" env-separator:","`
	TopicPrefix   string        `env:"KAFKA_AUDIT_TOPIC_PREFIX" env-default:"relay.audit"`
	ConsumerGroup string        `env:"KAFKA_AUDIT_CONSUMER_GROUP" env-default:"relay-audit-materializer"`
	RelayInterval time.Duration `env:"KAFKA_OUTBOX_INTERVAL" env-default:"1s"`
	RelayBatch    int           `env:"KAFKA_OUTBOX_BATCH" env-default:"100"`
}

// DispatchConfig holds the worker pool and the retry policy defaults.
type DispatchConfig struct {
	Concurrency       int           `env:"DISPATCH_CONCURRENCY" env-default:"8"`
	MaxRetries        int           `env:"DISPATCH_MAX_RETRIES" env-default:"3"`
	RetryBackoff      time.Duration `env:"DISPATCH_RETRY_BACKOFF" env-default:"5s"`
	RetryBackoffMax   time.Duration `env:"DISPATCH_RETRY_BACKOFF_MAX" env-default:"10m"`
	RetryJitter       bool          `env:"DISPATCH_RETRY_JITTER" env-default:"false"`
	SchedulerInterval time.Duration `env:"DISPATCH_SCHEDULER_INTERVAL" env-default:"500ms"`
	AuditBuffer       int           `env:"AUDIT_ASYNC_BUFFER" env-default:"1024"`
}

// RateLimitConfig bounds publish calls and WebSocket handshakes per client IP
// inside a sliding window. A limit of 0 disables it. Windows are shared through
// Redis when REDIS_URL is set.
type RateLimitConfig struct {
	PublishLimit int           `env:"PUBLISH_RATE_LIMIT" env-default:"600"`
	ConnectLimit int           `env:"WS_CONNECT_RATE_LIMIT" env-default:"60"`
	Window       time.Duration `env:"RATE_LIMIT_WINDOW" env-default:"1m"`
	RedisPrefix  string        `env:"RATE_LIMIT_REDIS_PREFIX" env-default:"relay:ratelimit"`
}

// ProvidersConfig configures the email and SMS providers behind send_mail and send_sms.
type ProvidersConfig struct {
	SMTPHost         string        `env:"SMTP_HOST"`
	SMTPPort         string        `env:"SMTP_PORT" env-default:"587"`
	SMTPUser         string        `env:"SMTP_USER"`
	SMTPPass         string        `env:"SMTP_PASS"`
	SMTPFrom         string        `env:"SMTP_FROM"`
	TermiiBaseURL    string        `env:"TERMII_BASE_URL" env-default:"https://api.ng.termii.com"`
	TermiiAPIKey     string        `env:"TERMII_API_KEY"`
	TermiiSender     string        `env:"TERMII_SENDER" env-default:"Relay"`
	TwilioBaseURL    string        `env:"TWILIO_BASE_URL" env-default:"https://api.twilio.com"`
	TwilioAccountSID string        `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string        `env:"TWILIO_AUTH_TOKEN"`
	TwilioSender     string        `env:"TWILIO_SENDER"`
	SMSCountryPrefix string        `env:"SMS_COUNTRY_PREFIX" env-default:"+234"`
	HTTPTimeout      time.Duration `env:"PROVIDER_HTTP_TIMEOUT" env-default:"10s"`
	BreakerFailures  int           `env:"PROVIDER_BREAKER_FAILURES" env-default:"5"`
	BreakerCooldown  time.Duration `env:"PROVIDER_BREAKER_COOLDOWN" env-default:"30s"`
}

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Role {
	case RoleAll, RoleAPI, RoleWorker:
	default:
		return fmt.Errorf("config error: unknown RELAY_ROLE %q", c.Role)
	}
	switch c.Broadcast.Backend {
	case "memory", "redis", "nats":
	default:
		return fmt.Errorf("config error: unknown BROADCAST_BACKEND %q", c.Broadcast.Backend)
	}
	if c.Broadcast.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("config error: BROADCAST_BACKEND=redis requires REDIS_URL")
	}
	if c.Role != RoleAll {
		// api and worker processes share the queue, the event records and
		// the broadcast groups; none of these may be process-local
		if c.Redis.URL == "" {
			return fmt.Errorf("config error: RELAY_ROLE=%s requires REDIS_URL", c.Role)
		}
		if c.Postgres.URL == "" {
			return fmt.Errorf("config error: RELAY_ROLE=%s requires DATABASE_URL", c.Role)
		}
		if c.Broadcast.Backend == "memory" {
			return fmt.Errorf("config error: RELAY_ROLE=%s requires BROADCAST_BACKEND=redis or nats", c.Role)
		}
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("config error: DISPATCH_MAX_RETRIES must not be negative")
	}
	return nil
}

// RunsAPI reports whether the HTTP boundary runs in this process.
func (c Config) RunsAPI() bool { return c.Role == RoleAll || c.Role == RoleAPI }

// RunsWorker reports whether dispatch workers run in this process.
func (c Config) RunsWorker() bool { return c.Role == RoleAll || c.Role == RoleWorker }
