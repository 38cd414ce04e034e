package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env       string `mapstructure:"HVN_ENV"`
	HTTPAddr  string `mapstructure:"HVN_HTTP_ADDR"`
	PublicURL string `mapstructure:"HVN_PUBLIC_ORIGIN"`

	Database  DBConfig         `mapstructure:",squash"`
	Cache     CacheConfig      `mapstructure:",squash"`
	Security  SecurityConfig   `mapstructure:",squash"`
	OpenAI    OpenAIConfig     `mapstructure:",squash"`
	Unsplash  UnsplashConfig   `mapstructure:",squash"`
	Lofty     LoftyConfig      `mapstructure:",squash"`
	Trends    TrendsConfig     `mapstructure:",squash"`
	Mail      MailConfig       `mapstructure:",squash"`
	Content   ContentConfig    `mapstructure:",squash"`
	Scheduler SchedulerConfig  `mapstructure:",squash"`
}

type DBConfig struct {
	Type        string `mapstructure:"HVN_DB_TYPE"` // "memory", "postgres"
	PostgresDSN string `mapstructure:"HVN_POSTGRES_DSN"`
	MaxConns    int32  `mapstructure:"HVN_DB_MAX_CONNS"`
}

type CacheConfig struct {
	Backend         string        `mapstructure:"HVN_CACHE_BACKEND"` // "memory", "redis"
	RedisURL        string        `mapstructure:"HVN_REDIS_URL"`
	LandingTTL      time.Duration `mapstructure:"HVN_LANDING_CACHE_TTL"`
	ImageTTL        time.Duration `mapstructure:"HVN_IMAGE_CACHE_TTL"`
	JanitorInterval time.Duration `mapstructure:"HVN_CACHE_JANITOR_INTERVAL"`
}

type SecurityConfig struct {
	RateLimitRPM       int           `mapstructure:"HVN_RATE_LIMIT_RPM"`
	LeadRatePerMinute  int           `mapstructure:"HVN_LEAD_RATE_LIMIT_PER_MIN"`
	CORSAllowedOrigins []string      `mapstructure:"HVN_CORS_ALLOWED_ORIGINS"`
	JWTSecret          string        `mapstructure:"HVN_JWT_SECRET"`
	SessionTTL         time.Duration `mapstructure:"HVN_SESSION_TTL"`
	CronSecret         string        `mapstructure:"HVN_CRON_SECRET"`
	AdminEmails        []string      `mapstructure:"HVN_ADMIN_EMAILS"`
}

type OpenAIConfig struct {
	APIKey         string        `mapstructure:"HVN_OPENAI_API_KEY"`
	BaseURL        string        `mapstructure:"HVN_OPENAI_BASE_URL"`
	Model          string        `mapstructure:"HVN_OPENAI_MODEL"`
	EmbeddingModel string        `mapstructure:"HVN_OPENAI_EMBEDDING_MODEL"`
	Timeout        time.Duration `mapstructure:"HVN_OPENAI_TIMEOUT"`
}

type UnsplashConfig struct {
	AccessKey string `mapstructure:"HVN_UNSPLASH_ACCESS_KEY"`
	BaseURL   string `mapstructure:"HVN_UNSPLASH_BASE_URL"`
}

type LoftyConfig struct {
	APIKey        string `mapstructure:"HVN_LOFTY_API_KEY"`
	BaseURL       string `mapstructure:"HVN_LOFTY_BASE_URL"`
	WebhookSecret string `mapstructure:"HVN_LOFTY_WEBHOOK_SECRET"`
}

type TrendsConfig struct {
	Geo     string `mapstructure:"HVN_TRENDS_GEO"`
	FeedURL string `mapstructure:"HVN_TRENDS_FEED_URL"`
}

type MailConfig struct {
	Host     string `mapstructure:"HVN_SMTP_HOST"`
	Port     int    `mapstructure:"HVN_SMTP_PORT"`
	User     string `mapstructure:"HVN_SMTP_USER"`
	Password string `mapstructure:"HVN_SMTP_PASSWORD"`
	From     string `mapstructure:"HVN_SMTP_FROM"`
	FromName string `mapstructure:"HVN_SMTP_FROM_NAME"`
	UseTLS   bool   `mapstructure:"HVN_SMTP_TLS"`
}

type ContentConfig struct {
	GenerateOnRequest bool `mapstructure:"HVN_LANDING_GENERATE_ON_REQUEST"`
	RelatedProperties int  `mapstructure:"HVN_POST_RELATED_PROPERTIES"`
}

type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"HVN_SCHEDULER_ENABLED"`
	PublishCron   string `mapstructure:"HVN_CRON_PUBLISH"`
	FollowupsCron string `mapstructure:"HVN_CRON_FOLLOWUPS"`
	TrendsCron    string `mapstructure:"HVN_CRON_TRENDS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
		filepath.Join("..", "..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HVN_ENV", "dev")
	v.SetDefault("HVN_HTTP_ADDR", ":8080")
	v.SetDefault("HVN_PUBLIC_ORIGIN", "http://localhost:3000")
	v.SetDefault("HVN_DB_TYPE", "memory")
	v.SetDefault("HVN_POSTGRES_DSN", "")
	v.SetDefault("HVN_DB_MAX_CONNS", 5)
	v.SetDefault("HVN_CACHE_BACKEND", "memory")
	v.SetDefault("HVN_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("HVN_LANDING_CACHE_TTL", "6h")
	v.SetDefault("HVN_IMAGE_CACHE_TTL", "24h")
	v.SetDefault("HVN_CACHE_JANITOR_INTERVAL", "30s")
	v.SetDefault("HVN_RATE_LIMIT_RPM", 600)
	v.SetDefault("HVN_LEAD_RATE_LIMIT_PER_MIN", 5)
	v.SetDefault("HVN_CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("HVN_JWT_SECRET", "")
	v.SetDefault("HVN_SESSION_TTL", "720h")
	v.SetDefault("HVN_CRON_SECRET", "")
	v.SetDefault("HVN_ADMIN_EMAILS", "")
	v.SetDefault("HVN_OPENAI_API_KEY", "")
	v.SetDefault("HVN_OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("HVN_OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("HVN_OPENAI_EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("HVN_OPENAI_TIMEOUT", "60s")
	v.SetDefault("HVN_UNSPLASH_ACCESS_KEY", "")
	v.SetDefault("HVN_UNSPLASH_BASE_URL", "https://api.unsplash.com")
	v.SetDefault("HVN_LOFTY_API_KEY", "")
	v.SetDefault("HVN_LOFTY_BASE_URL", "https://api.lofty.com/v1.0")
	v.SetDefault("HVN_LOFTY_WEBHOOK_SECRET", "")
	v.SetDefault("HVN_TRENDS_GEO", "US")
	v.SetDefault("HVN_TRENDS_FEED_URL", "https://trends.google.com/trending/rss")
	v.SetDefault("HVN_SMTP_HOST", "")
	v.SetDefault("HVN_SMTP_PORT", 587)
	v.SetDefault("HVN_SMTP_USER", "")
	v.SetDefault("HVN_SMTP_PASSWORD", "")
	v.SetDefault("HVN_SMTP_FROM", "hello@havenly.homes")
	v.SetDefault("HVN_SMTP_FROM_NAME", "Havenly")
	v.SetDefault("HVN_SMTP_TLS", true)
	v.SetDefault("HVN_LANDING_GENERATE_ON_REQUEST", false)
	v.SetDefault("HVN_POST_RELATED_PROPERTIES", 5)
	v.SetDefault("HVN_SCHEDULER_ENABLED", false)
	v.SetDefault("HVN_CRON_PUBLISH", "*/5 * * * *")
	v.SetDefault("HVN_CRON_FOLLOWUPS", "0 * * * *")
	v.SetDefault("HVN_CRON_TRENDS", "0 6 * * *")
}

func Load() (*Config, error) {
	loadDotEnvFiles()
	return LoadFrom(viper.New())
}

// LoadFrom reads configuration from the environment into v. Tests pass a fresh
// viper instance so global state does not leak between cases.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// Comma-separated lists
	for _, key := range []string{"HVN_CORS_ALLOWED_ORIGINS", "HVN_ADMIN_EMAILS"} {
		v.Set(key, splitList(v.GetString(key)))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))

	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 5
	}
	if c.Database.MaxConns > 10 {
		c.Database.MaxConns = 10
	}
	for i, email := range c.Security.AdminEmails {
		c.Security.AdminEmails[i] = strings.ToLower(email)
	}
	// Dev runs without secrets; the values are never used in prod (see validate).
	if c.Security.JWTSecret == "" && c.IsDev() {
		c.Security.JWTSecret = "dev-only-insecure-secret"
	}
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid HVN_ENV %q (must be dev, test, or prod)", c.Env)
	}
	switch c.Database.Type {
	case "memory":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("HVN_POSTGRES_DSN is required when HVN_DB_TYPE=postgres")
		}
	default:
		return fmt.Errorf("invalid HVN_DB_TYPE %q (must be memory or postgres)", c.Database.Type)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("HVN_REDIS_URL is required when HVN_CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid HVN_CACHE_BACKEND %q (must be memory or redis)", c.Cache.Backend)
	}
	if c.IsProd() {
		if c.Security.JWTSecret == "" {
			return fmt.Errorf("HVN_JWT_SECRET is required in prod")
		}
		if c.Security.CronSecret == "" {
			return fmt.Errorf("HVN_CRON_SECRET is required in prod")
		}
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "test"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// IsAdminEmail reports whether email is listed in HVN_ADMIN_EMAILS.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, admin := range c.Security.AdminEmails {
		if admin == email {
			return true
		}
	}
	return false
}

func (c *MailConfig) Enabled() bool {
	return c.Host != ""
}
