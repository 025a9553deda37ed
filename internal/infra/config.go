package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации сервиса.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Users     UsersConfig     `mapstructure:"users"`
	AgentKeys AgentKeysConfig `mapstructure:"agent_keys"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub между инстансами и кэш).
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig: HS256 с секретом по умолчанию, RS256 если заданы ключи.
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte

	// Администратор, создаваемый при пустом хранилище пользователей
	BootstrapAdmin BootstrapAdmin `mapstructure:"bootstrap_admin"`
}

type BootstrapAdmin struct {
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// UsersConfig: storage = file | postgres.
type UsersConfig struct {
	Storage string `mapstructure:"storage"`
	Path    string `mapstructure:"path"`
}

// AgentKeysConfig: storage = file | postgres. Ключи агентов для X-Agent-Key.
type AgentKeysConfig struct {
	Storage string `mapstructure:"storage"`
	Path    string `mapstructure:"path"`
}

// AuditConfig: storage = memory | file | sqlite | postgres.
type AuditConfig struct {
	Storage         string        `mapstructure:"storage"`
	Path            string        `mapstructure:"path"`
	BufferSize      int           `mapstructure:"buffer_size"`
	BatchSize       int           `mapstructure:"batch_size"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"` // cron, пусто — без расписания
	CleanupOnStart  bool          `mapstructure:"cleanup_on_start"`
	LogAPICalls     bool          `mapstructure:"log_api_calls"` // api.call на каждый запрос
}

type StreamConfig struct {
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
}

// GatewayConfig описывает вызовы CLI шлюза и защиту от его деградации.
type GatewayConfig struct {
	Binary         string        `mapstructure:"binary"`
	UseMock        bool          `mapstructure:"use_mock"`
	StatusTimeout  time.Duration `mapstructure:"status_timeout"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	MessageTimeout time.Duration `mapstructure:"message_timeout"`
	ConfigTimeout  time.Duration `mapstructure:"config_timeout"`

	// Настройки Circuit Breaker для CLI шлюза
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`

	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
	ReadAttempts uint          `mapstructure:"read_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

type CacheConfig struct {
	AgentsTTL time.Duration `mapstructure:"agents_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path — явный файл (флаг --config); пустой — поиск config.yaml в . и ./configs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = defaultAuditPath(cfg.Audit.Storage)
	}

	// Сначала PEM прямо из ENV (Docker/K8s), затем файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UsesPostgres — хотя бы одно хранилище в Postgres.
func (c *Config) UsesPostgres() bool {
	return c.Audit.Storage == "postgres" || c.Users.Storage == "postgres" || c.AgentKeys.Storage == "postgres"
}

func defaultAuditPath(storage string) string {
	switch storage {
	case "sqlite":
		return "data/audit.db"
	case "file":
		return "data/audit-logs.json"
	default:
		return ""
	}
}

// Validate проверяет сочетания настроек, которые viper проверить не может.
func (c *Config) Validate() error {
	switch c.Audit.Storage {
	case "memory", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("audit.storage: unknown backend %q", c.Audit.Storage)
	}
	switch c.Users.Storage {
	case "file", "postgres":
	default:
		return fmt.Errorf("users.storage: unknown backend %q", c.Users.Storage)
	}
	switch c.AgentKeys.Storage {
	case "file", "postgres":
	default:
		return fmt.Errorf("agent_keys.storage: unknown backend %q", c.AgentKeys.Storage)
	}
	if c.UsesPostgres() && c.Database.URL == "" {
		return errors.New("database.url is required for postgres storage")
	}
	if c.Auth.JWTSecret == "" && len(c.Auth.PublicKey) == 0 {
		return errors.New("auth: either jwt_secret or public key must be configured")
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit.retention_days must be positive, got %d", c.Audit.RetentionDays)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 70*time.Second) // Дольше самого долгого вызова шлюза
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Пустые дефолты нужны, чтобы AutomaticEnv видел ключи при Unmarshal
	v.SetDefault("database.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.private_key_path", "")
	v.SetDefault("auth.bootstrap_admin.username", "")
	v.SetDefault("auth.bootstrap_admin.email", "")
	v.SetDefault("auth.bootstrap_admin.password", "")

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("users.storage", "file")
	v.SetDefault("users.path", "data/users.json")

	v.SetDefault("agent_keys.storage", "file")
	v.SetDefault("agent_keys.path", "data/agent-keys.json")

	v.SetDefault("audit.storage", "file")
	v.SetDefault("audit.path", "") // Зависит от audit.storage, см. defaultAuditPath
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 1*time.Second)
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.cleanup_schedule", "@daily")
	v.SetDefault("audit.cleanup_on_start", false)
	v.SetDefault("audit.log_api_calls", false)

	v.SetDefault("stream.ping_interval", 30*time.Second)
	v.SetDefault("stream.heartbeat_interval", 30*time.Second)
	v.SetDefault("stream.write_timeout", 10*time.Second)
	v.SetDefault("stream.send_buffer", 256)
	v.SetDefault("stream.max_message_size", 64*1024)

	v.SetDefault("gateway.binary", "openclaw")
	v.SetDefault("gateway.use_mock", false)
	v.SetDefault("gateway.status_timeout", 5*time.Second)
	v.SetDefault("gateway.health_timeout", 2*time.Second)
	v.SetDefault("gateway.message_timeout", 60*time.Second)
	v.SetDefault("gateway.config_timeout", 5*time.Second)
	v.SetDefault("gateway.cb_max_requests", 3)
	v.SetDefault("gateway.cb_interval", 5*time.Second)
	v.SetDefault("gateway.cb_timeout", 30*time.Second)
	v.SetDefault("gateway.cb_failures", 5)
	v.SetDefault("gateway.rate_limit", 10)
	v.SetDefault("gateway.rate_burst", 5)
	v.SetDefault("gateway.read_attempts", 3)
	v.SetDefault("gateway.retry_delay", 200*time.Millisecond)

	v.SetDefault("cache.agents_ttl", 5*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
}

// loadKeyResource: ключ из ENV (PEM целиком), иначе файл по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
