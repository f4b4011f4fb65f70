package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	School       SchoolConfig
	Bulletins    BulletinConfig
	Notification NotificationConfig
	Providers    ProvidersConfig
	Signing      SigningConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchoolConfig is stamped on every bulletin document.
type SchoolConfig struct {
	Name    string
	Address string
	Phone   string
	Motto   string
}

// BulletinConfig holds the workflow policy and document cache tuning.
type BulletinConfig struct {
	AllowGapsT1              bool
	AllowGapsT2              bool
	AllowGapsT3              bool
	RequireCompleteOnApprove bool
	DocumentTTL              time.Duration
	RenderTokenSecret        string
	RenderTokenTTL           time.Duration
}

// NotificationConfig bounds the dispatcher worker pool and per-send timeout.
type NotificationConfig struct {
	Workers          int
	SendTimeout      time.Duration
	DefaultLanguage  string
	BulkQueueWorkers int
	BulkResultTTL    time.Duration
	BulkQueueRetries int
	BulkQueueDelay   time.Duration
}

// ProvidersConfig carries outbound channel credentials. Empty values fall back to console providers.
type ProvidersConfig struct {
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SMSGatewayURL     string
	SMSGatewayToken   string
	SMSSenderID       string
	WhatsAppAPIURL    string
	WhatsAppAPIToken  string
}

// SigningConfig bounds the bulk signing pool.
type SigningConfig struct {
	Workers int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET"), Issuer: v.GetString("JWT_ISSUER")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.School = SchoolConfig{
		Name:    v.GetString("SCHOOL_NAME"),
		Address: v.GetString("SCHOOL_ADDRESS"),
		Phone:   v.GetString("SCHOOL_PHONE"),
		Motto:   v.GetString("SCHOOL_MOTTO"),
	}

	cfg.Bulletins = BulletinConfig{
		AllowGapsT1:              v.GetBool("BULLETIN_ALLOW_GAPS_T1"),
		AllowGapsT2:              v.GetBool("BULLETIN_ALLOW_GAPS_T2"),
		AllowGapsT3:              v.GetBool("BULLETIN_ALLOW_GAPS_T3"),
		RequireCompleteOnApprove: v.GetBool("BULLETIN_REQUIRE_COMPLETE_ON_APPROVE"),
		DocumentTTL:              parseDuration(v.GetString("BULLETIN_DOCUMENT_TTL"), 24*time.Hour),
		RenderTokenSecret:        v.GetString("BULLETIN_RENDER_TOKEN_SECRET"),
		RenderTokenTTL:           parseDuration(v.GetString("BULLETIN_RENDER_TOKEN_TTL"), 30*time.Minute),
	}

	cfg.Notification = NotificationConfig{
		Workers:          v.GetInt("NOTIFY_WORKERS"),
		SendTimeout:      parseDuration(v.GetString("NOTIFY_SEND_TIMEOUT"), 15*time.Second),
		DefaultLanguage:  strings.ToLower(v.GetString("NOTIFY_DEFAULT_LANGUAGE")),
		BulkQueueWorkers: v.GetInt("NOTIFY_BULK_QUEUE_WORKERS"),
		BulkResultTTL:    parseDuration(v.GetString("NOTIFY_BULK_RESULT_TTL"), 24*time.Hour),
		BulkQueueRetries: v.GetInt("NOTIFY_BULK_QUEUE_RETRIES"),
		BulkQueueDelay:   parseDuration(v.GetString("NOTIFY_BULK_QUEUE_DELAY"), 5*time.Second),
	}

	cfg.Providers = ProvidersConfig{
		SendGridAPIKey:    v.GetString("SENDGRID_API_KEY"),
		SendGridFromEmail: v.GetString("SENDGRID_FROM_EMAIL"),
		SendGridFromName:  v.GetString("SENDGRID_FROM_NAME"),
		SMSGatewayURL:     v.GetString("SMS_GATEWAY_URL"),
		SMSGatewayToken:   v.GetString("SMS_GATEWAY_TOKEN"),
		SMSSenderID:       v.GetString("SMS_SENDER_ID"),
		WhatsAppAPIURL:    v.GetString("WHATSAPP_API_URL"),
		WhatsAppAPIToken:  v.GetString("WHATSAPP_API_TOKEN"),
	}

	cfg.Signing = SigningConfig{Workers: v.GetInt("SIGNING_WORKERS")}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_bulletins")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHOOL_NAME", "")
	v.SetDefault("SCHOOL_ADDRESS", "")
	v.SetDefault("SCHOOL_PHONE", "")
	v.SetDefault("SCHOOL_MOTTO", "")

	v.SetDefault("BULLETIN_ALLOW_GAPS_T1", true)
	v.SetDefault("BULLETIN_ALLOW_GAPS_T2", true)
	v.SetDefault("BULLETIN_ALLOW_GAPS_T3", false)
	v.SetDefault("BULLETIN_REQUIRE_COMPLETE_ON_APPROVE", false)
	v.SetDefault("BULLETIN_DOCUMENT_TTL", "24h")
	v.SetDefault("BULLETIN_RENDER_TOKEN_SECRET", "dev_render_secret")
	v.SetDefault("BULLETIN_RENDER_TOKEN_TTL", "30m")

	v.SetDefault("NOTIFY_WORKERS", 8)
	v.SetDefault("NOTIFY_SEND_TIMEOUT", "15s")
	v.SetDefault("NOTIFY_DEFAULT_LANGUAGE", "fr")
	v.SetDefault("NOTIFY_BULK_QUEUE_WORKERS", 1)
	v.SetDefault("NOTIFY_BULK_RESULT_TTL", "24h")
	v.SetDefault("NOTIFY_BULK_QUEUE_RETRIES", 2)
	v.SetDefault("NOTIFY_BULK_QUEUE_DELAY", "5s")

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("SENDGRID_FROM_EMAIL", "no-reply@school.local")
	v.SetDefault("SENDGRID_FROM_NAME", "School Bulletins")
	v.SetDefault("SMS_GATEWAY_URL", "")
	v.SetDefault("SMS_GATEWAY_TOKEN", "")
	v.SetDefault("SMS_SENDER_ID", "SCHOOL")
	v.SetDefault("WHATSAPP_API_URL", "")
	v.SetDefault("WHATSAPP_API_TOKEN", "")

	v.SetDefault("SIGNING_WORKERS", 4)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
