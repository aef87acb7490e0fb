package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed view of everything the server reads from viper.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Argon2     Argon2Config
	Credits    CreditsConfig
	Generation GenerationConfig
	Audit      AuditConfig
	Reaper     ReaperConfig
	Admin      AdminConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	// Driver selects the collection store backend: file, postgres or redis.
	Driver string
	Dir    string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey   string
	ExpiryHours int
}

type Argon2Config struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength int
}

// CreditsConfig holds the price table and the batch discount tiers.
type CreditsConfig struct {
	SignupGrant int64
	MaxQuantity int
	UnitCosts   map[string]int64
	Tiers       []DiscountTier
}

// DiscountTier prices every unit from FromUnit onwards (1-based) at Percent
// of the category's unit cost, until the next tier starts.
type DiscountTier struct {
	FromUnit int
	Percent  int64
}

type GenerationConfig struct {
	Provider   string
	APIURL     string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	// SimulatedDelay is used by the template provider only.
	SimulatedDelay time.Duration
}

type AuditConfig struct {
	Capacity int
}

type ReaperConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
}

// AdminConfig lists the emails that register with the admin role.
type AdminConfig struct {
	Emails []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DefaultUnitCosts is the built-in price table, keyed by category.
func DefaultUnitCosts() map[string]int64 {
	return map[string]int64{
		"social_post":         5,
		"blog_article":        20,
		"email_campaign":      8,
		"ad_copy":             6,
		"promotional":         10,
		"product_description": 7,
	}
}

// DefaultTiers prices units 1-2 at full cost, 3-5 at half and 6+ at 40%.
func DefaultTiers() []DiscountTier {
	return []DiscountTier{
		{FromUnit: 1, Percent: 100},
		{FromUnit: 3, Percent: 50},
		{FromUnit: 6, Percent: 40},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dir", "./data")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "creditforge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret_key", "")
	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("argon2.time", 1)
	v.SetDefault("argon2.memory", 64*1024)
	v.SetDefault("argon2.threads", 4)
	v.SetDefault("argon2.key_length", 32)
	v.SetDefault("argon2.salt_length", 16)

	v.SetDefault("credits.signup_grant", 50)
	v.SetDefault("credits.max_quantity", 20)

	v.SetDefault("generation.provider", "template")
	v.SetDefault("generation.api_url", "https://api.openai.com/v1")
	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("generation.timeout", 30*time.Second)
	v.SetDefault("generation.max_retries", 1)
	v.SetDefault("generation.simulated_delay", 1500*time.Millisecond)

	v.SetDefault("audit.capacity", 100)

	v.SetDefault("reaper.interval", time.Minute)
	v.SetDefault("reaper.max_age", 10*time.Minute)

	v.SetDefault("admin.emails", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

var envBindings = map[string]string{
	"server.port":                "PORT",
	"storage.driver":             "STORAGE_DRIVER",
	"storage.dir":                "STORAGE_DIR",
	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"redis.host":                 "REDIS_HOST",
	"redis.port":                 "REDIS_PORT",
	"redis.password":             "REDIS_PASSWORD",
	"redis.db":                   "REDIS_DB",
	"jwt.secret_key":             "JWT_SECRET_KEY",
	"jwt.expiry_hours":           "JWT_EXPIRY_HOURS",
	"argon2.time":                "ARGON2_TIME",
	"argon2.memory":              "ARGON2_MEMORY",
	"argon2.threads":             "ARGON2_THREADS",
	"argon2.key_length":          "ARGON2_KEY_LENGTH",
	"argon2.salt_length":         "ARGON2_SALT_LENGTH",
	"credits.signup_grant":       "CREDITS_SIGNUP_GRANT",
	"credits.max_quantity":       "CREDITS_MAX_QUANTITY",
	"generation.provider":        "GENERATION_PROVIDER",
	"generation.api_url":         "GENERATION_API_URL",
	"generation.api_key":         "GENERATION_API_KEY",
	"generation.model":           "GENERATION_MODEL",
	"generation.timeout":         "GENERATION_TIMEOUT",
	"generation.max_retries":     "GENERATION_MAX_RETRIES",
	"generation.simulated_delay": "GENERATION_SIMULATED_DELAY",
	"audit.capacity":             "AUDIT_CAPACITY",
	"reaper.interval":            "REAPER_INTERVAL",
	"reaper.max_age":             "REAPER_MAX_AGE",
	"admin.emails":               "ADMIN_EMAILS",
	"log.level":                  "LOG_LEVEL",
	"log.format":                 "LOG_FORMAT",
}

// Load reads .env (when present) and the environment into a Config.
// A missing .env file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	readErr := v.ReadInConfig()

	cfg := FromViper(v)
	return cfg, readErr
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
			Dir:    v.GetString("storage.dir"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey:   v.GetString("jwt.secret_key"),
			ExpiryHours: v.GetInt("jwt.expiry_hours"),
		},
		Argon2: Argon2Config{
			Time:       v.GetUint32("argon2.time"),
			Memory:     v.GetUint32("argon2.memory"),
			Threads:    uint8(v.GetUint("argon2.threads")),
			KeyLength:  v.GetUint32("argon2.key_length"),
			SaltLength: v.GetInt("argon2.salt_length"),
		},
		Credits: CreditsConfig{
			SignupGrant: v.GetInt64("credits.signup_grant"),
			MaxQuantity: v.GetInt("credits.max_quantity"),
			UnitCosts:   DefaultUnitCosts(),
			Tiers:       DefaultTiers(),
		},
		Generation: GenerationConfig{
			Provider:       strings.ToLower(v.GetString("generation.provider")),
			APIURL:         v.GetString("generation.api_url"),
			APIKey:         v.GetString("generation.api_key"),
			Model:          v.GetString("generation.model"),
			Timeout:        v.GetDuration("generation.timeout"),
			MaxRetries:     v.GetInt("generation.max_retries"),
			SimulatedDelay: v.GetDuration("generation.simulated_delay"),
		},
		Audit: AuditConfig{
			Capacity: v.GetInt("audit.capacity"),
		},
		Reaper: ReaperConfig{
			Interval: v.GetDuration("reaper.interval"),
			MaxAge:   v.GetDuration("reaper.max_age"),
		},
		Admin: AdminConfig{
			Emails: splitList(v.GetString("admin.emails")),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	// Price overrides, e.g. CREDITS_PRICE_BLOG_ARTICLE=25.
	for category := range cfg.Credits.UnitCosts {
		key := "credits.price." + category
		_ = v.BindEnv(key, "CREDITS_PRICE_"+strings.ToUpper(category))
		if v.IsSet(key) {
			cfg.Credits.UnitCosts[category] = v.GetInt64(key)
		}
	}

	// The collaborator is not idempotent: never retry more than once.
	if cfg.Generation.MaxRetries > 1 {
		cfg.Generation.MaxRetries = 1
	}
	if cfg.Generation.MaxRetries < 0 {
		cfg.Generation.MaxRetries = 0
	}
	if cfg.Audit.Capacity <= 0 {
		cfg.Audit.Capacity = 100
	}

	return cfg
}

// MinJWTSecretLength is the shortest HS256 signing secret the server accepts.
const MinJWTSecretLength = 32

var ErrWeakJWTSecret = errors.New("jwt secret missing or too short")

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	secret := strings.TrimSpace(c.JWT.SecretKey)
	if secret == "" {
		return fmt.Errorf("%w: set JWT_SECRET_KEY", ErrWeakJWTSecret)
	}
	if len(secret) < MinJWTSecretLength {
		return fmt.Errorf("%w: need at least %d characters, got %d", ErrWeakJWTSecret, MinJWTSecretLength, len(secret))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
