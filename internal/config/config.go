package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks missing or invalid startup configuration. It is fatal.
var ErrConfig = errors.New("configuration error")

type Config struct {
	Server    ServerConfig             `yaml:"server"`
	CORS      CORSConfig               `yaml:"cors"`
	Admission AdmissionConfig          `yaml:"admission"`
	Auth      AuthConfig               `yaml:"auth"`
	Dedup     DedupConfig              `yaml:"dedup"`
	Broker    BrokerConfig             `yaml:"broker"`
	Buffer    BufferConfig             `yaml:"buffer"`
	Backends  map[string]BackendConfig `yaml:"backends"`
	Forwarder ForwarderConfig          `yaml:"forwarder"`
	Logging   LoggingConfig            `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type CORSConfig struct {
	AllowedOrigin string `yaml:"allowed_origin"`
}

type AdmissionConfig struct {
	RequestsPerSecond int           `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ConcurrencyLimit  int           `yaml:"concurrency_limit"`
	QueueSize         int           `yaml:"queue_size"`
	QueueTimeout      time.Duration `yaml:"queue_timeout"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenLifetime time.Duration `yaml:"token_lifetime"`
	CookieName    string        `yaml:"cookie_name"`
}

type DedupConfig struct {
	Store      string                     `yaml:"store"` // "memory", "redis", "postgres" or "dynamodb"
	Timeout    time.Duration              `yaml:"timeout"`
	Redis      RedisConfig                `yaml:"redis"`
	Postgres   PostgresConfig             `yaml:"postgres"`
	DynamoDB   DynamoDBConfig             `yaml:"dynamodb"`
	Namespaces map[string]NamespaceConfig `yaml:"namespaces"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	URL string `yaml:"url"`
}

type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

// NamespaceConfig is the dedup key pool for one telemetry format
type NamespaceConfig struct {
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

type BrokerConfig struct {
	Kind           string            `yaml:"kind"` // "amqp", "mqtt" or "memory"
	PublishTimeout time.Duration     `yaml:"publish_timeout"`
	AMQP           AMQPConfig        `yaml:"amqp"`
	MQTT           MQTTConfig        `yaml:"mqtt"`
	Topics         map[string]string `yaml:"topics"`
}

type AMQPConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

type BufferConfig struct {
	Type   string        `yaml:"type"` // "ring" or "sliding_window"
	Size   int           `yaml:"size"`
	MaxAge time.Duration `yaml:"max_age"`
}

// BackendConfig addresses one backend RPC service
type BackendConfig struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type ForwarderConfig struct {
	Backend   string        `yaml:"backend"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

func Load(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfig, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrConfig, err)
		}
	}

	if err := config.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	return config, nil
}

func (c *Config) setDefaults() {
	c.Server.Port = 8000
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 30 * time.Second
	c.Server.MaxBodyBytes = 64 << 10

	c.CORS.AllowedOrigin = "http://localhost:3000"

	c.Admission.RequestsPerSecond = 100
	c.Admission.Burst = 100
	c.Admission.ConcurrencyLimit = 500
	c.Admission.QueueSize = 100
	c.Admission.QueueTimeout = time.Second

	c.Auth.TokenLifetime = 360 * time.Second
	c.Auth.CookieName = "token"

	c.Dedup.Store = "memory"
	c.Dedup.Timeout = 2 * time.Second
	c.Dedup.Redis.Addr = "localhost:6379"
	c.Dedup.DynamoDB.Table = "telemetry-dedup"
	c.Dedup.Namespaces = map[string]NamespaceConfig{
		"adsb":    {Prefix: "tlm:adsb", TTL: 2 * time.Second},
		"mavlink": {Prefix: "tlm:mav", TTL: 2 * time.Second},
		"netrid":  {Prefix: "tlm:netrid", TTL: 10 * time.Second},
		"basic":   {Prefix: "tlm:basic", TTL: 10 * time.Second},
	}

	c.Broker.Kind = "memory"
	c.Broker.PublishTimeout = 2 * time.Second
	c.Broker.AMQP.URL = "amqp://localhost:5672"
	c.Broker.AMQP.ConnectTimeout = 5 * time.Second
	c.Broker.MQTT.Broker = "tcp://localhost:1883"
	c.Broker.MQTT.ClientID = "svc-telemetry"
	c.Broker.MQTT.QoS = 1
	c.Broker.Topics = map[string]string{
		"adsb":    "adsb",
		"mavlink": "mavlink",
		"netrid":  "netrid",
		"basic":   "basic",
	}

	c.Buffer.Type = "ring"
	c.Buffer.Size = 1000
	c.Buffer.MaxAge = 30 * time.Second

	c.Backends = map[string]BackendConfig{}

	c.Forwarder.Backend = "gis"
	c.Forwarder.Interval = time.Second
	c.Forwarder.BatchSize = 100
	c.Forwarder.Workers = 3
	c.Forwarder.Timeout = 5 * time.Second

	c.Logging.Level = "info"
	c.Logging.Format = "text"
}

// envInt parses an integer variable. Unset leaves *dst alone.
func envInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, value)
	}
	*dst = n
	return nil
}

func (c *Config) loadFromEnv() error {
	if err := envInt("PORT", &c.Server.Port); err != nil {
		return err
	}

	if origin := os.Getenv("CORS_ALLOWED_ORIGIN"); origin != "" {
		c.CORS.AllowedOrigin = origin
	}

	if os.Getenv("REST_REQUEST_LIMIT_PER_SECOND") != "" {
		if err := envInt("REST_REQUEST_LIMIT_PER_SECOND", &c.Admission.RequestsPerSecond); err != nil {
			return err
		}
		c.Admission.Burst = c.Admission.RequestsPerSecond
	}

	if err := envInt("REST_CONCURRENCY_LIMIT_PER_SERVICE", &c.Admission.ConcurrencyLimit); err != nil {
		return err
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Dedup.Redis.Addr = addr
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Dedup.Postgres.URL = url
	}

	if url := os.Getenv("AMQP_URL"); url != "" {
		c.Broker.AMQP.URL = url
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.Broker.MQTT.Broker = broker
	}

	if err := envInt("BUFFER_SIZE", &c.Buffer.Size); err != nil {
		return err
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	// <NAME>_HOST_GRPC / <NAME>_PORT_GRPC, e.g. GIS_HOST_GRPC
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		var name, field string
		switch {
		case strings.HasSuffix(key, "_HOST_GRPC"):
			name, field = strings.TrimSuffix(key, "_HOST_GRPC"), "host"
		case strings.HasSuffix(key, "_PORT_GRPC"):
			name, field = strings.TrimSuffix(key, "_PORT_GRPC"), "port"
		default:
			continue
		}
		if name == "" || value == "" {
			continue
		}
		name = strings.ToLower(name)
		backend := c.Backends[name]
		if field == "host" {
			backend.Host = value
		} else {
			backend.Port = value
		}
		c.Backends[name] = backend
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if c.CORS.AllowedOrigin == "" {
		return fmt.Errorf("cors allowed origin cannot be empty")
	}

	if c.Admission.RequestsPerSecond < 1 {
		return fmt.Errorf("requests per second must be at least 1")
	}

	if c.Admission.Burst < 1 {
		return fmt.Errorf("burst must be at least 1")
	}

	if c.Admission.ConcurrencyLimit < 1 {
		return fmt.Errorf("concurrency limit must be at least 1")
	}

	if c.Admission.QueueSize < 0 {
		return fmt.Errorf("admission queue size cannot be negative")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret must be set")
	}

	if c.Auth.TokenLifetime <= 0 {
		return fmt.Errorf("token lifetime must be positive")
	}

	switch c.Dedup.Store {
	case "memory":
	case "redis":
		if c.Dedup.Redis.Addr == "" {
			return fmt.Errorf("redis dedup store needs an address")
		}
	case "postgres":
		if c.Dedup.Postgres.URL == "" {
			return fmt.Errorf("postgres dedup store needs a url")
		}
	case "dynamodb":
		if c.Dedup.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb dedup store needs a table")
		}
	default:
		return fmt.Errorf("dedup store must be 'memory', 'redis', 'postgres' or 'dynamodb'")
	}

	for _, format := range []string{"adsb", "mavlink", "netrid", "basic"} {
		ns, ok := c.Dedup.Namespaces[format]
		if !ok {
			return fmt.Errorf("dedup namespace %q is missing", format)
		}
		if ns.Prefix == "" || ns.TTL <= 0 {
			return fmt.Errorf("dedup namespace %q needs a prefix and a positive ttl", format)
		}
		if c.Broker.Topics[format] == "" {
			return fmt.Errorf("broker topic for %q is missing", format)
		}
	}

	switch c.Broker.Kind {
	case "memory":
	case "amqp":
		if c.Broker.AMQP.URL == "" {
			return fmt.Errorf("amqp broker needs a url")
		}
	case "mqtt":
		if c.Broker.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker needs an address")
		}
	default:
		return fmt.Errorf("broker kind must be 'amqp', 'mqtt' or 'memory'")
	}

	if c.Buffer.Type != "ring" && c.Buffer.Type != "sliding_window" {
		return fmt.Errorf("buffer type must be 'ring' or 'sliding_window'")
	}

	if c.Buffer.Size < 1 {
		return fmt.Errorf("buffer size must be at least 1")
	}

	if c.Buffer.Type == "sliding_window" && c.Buffer.MaxAge <= 0 {
		return fmt.Errorf("sliding window buffer needs a positive max age")
	}

	for name, backend := range c.Backends {
		if backend.Host == "" || backend.Port == "" {
			return fmt.Errorf("backend %q needs both host and port", name)
		}
	}

	if c.Forwarder.Interval <= 0 || c.Forwarder.BatchSize < 1 || c.Forwarder.Workers < 1 {
		return fmt.Errorf("forwarder interval, batch size and workers must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be 'debug', 'info', 'warn' or 'error'")
	}

	return nil
}
