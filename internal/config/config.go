package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"

	BotModePolling = "polling"
	BotModeWebhook = "webhook"

	ActivationAuto   = "auto"
	ActivationManual = "manual"

	StateBackendMemory = "memory"
	StateBackendRedis  = "redis"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken      string
	BotMode       string
	PublicBaseURL string
	AdminID       int64

	DBDriver    string
	DatabaseDSN string

	FreeUsesLimit    int
	SubscriptionDays int

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAITextModel  string
	OpenAIImageModel string
	RequestTimeout   time.Duration

	CryptoPayAPIKey          string
	CryptoPayBaseURL         string
	CryptoPayAsset           string
	CryptoPayAmount          string
	CryptoPayVerifySignature bool
	PaymentActivationMode    string

	HTTPListenAddr string
	AdminUsername  string
	AdminPassword  string

	DataDir  string
	LogDir   string
	LogLevel string

	ImagePromptTimeout time.Duration
	BroadcastDelay     time.Duration
	SweepInterval      time.Duration
	Location           *time.Location

	StateBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitMQURL string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
// Only the settings every command needs are validated here; see RequireRuntime.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultOpenAIBaseURL = "https://api.openai.com/v1"
	const defaultCryptoPayBaseURL = "https://pay.crypt.bot/api"

	cfg := Config{
		BotMode:                  strings.ToLower(getEnv("BOT_MODE", BotModePolling)),
		PublicBaseURL:            strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		DBDriver:                 strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DatabaseDSN:              getEnv("DATABASE_DSN", "users.db"),
		FreeUsesLimit:            getInt("FREE_USES_LIMIT", 10),
		SubscriptionDays:         getInt("SUBSCRIPTION_DAYS", 30),
		OpenAIBaseURL:            normalizeBaseURL(getEnv("OPENAI_BASE_URL", defaultOpenAIBaseURL), defaultOpenAIBaseURL),
		OpenAITextModel:          getEnv("OPENAI_TEXT_MODEL", "gpt-3.5-turbo"),
		OpenAIImageModel:         getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),
		RequestTimeout:           time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		CryptoPayBaseURL:         normalizeBaseURL(getEnv("CRYPTOPAY_BASE_URL", defaultCryptoPayBaseURL), defaultCryptoPayBaseURL),
		CryptoPayAsset:           getEnv("CRYPTOPAY_ASSET", "USDT"),
		CryptoPayAmount:          getEnv("CRYPTOPAY_AMOUNT", "1.00"),
		CryptoPayVerifySignature: getBool("CRYPTOPAY_VERIFY_SIGNATURE", false),
		PaymentActivationMode:    strings.ToLower(getEnv("PAYMENT_ACTIVATION_MODE", ActivationAuto)),
		HTTPListenAddr:           getEnv("HTTP_LISTEN_ADDR", ":8080"),
		AdminUsername:            getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:            getEnv("ADMIN_PASSWORD", "change-me"),
		DataDir:                  getEnv("DATA_DIR", "data"),
		LogDir:                   getEnv("LOG_DIR", "."),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		ImagePromptTimeout:       time.Second * time.Duration(getInt("IMAGE_PROMPT_TIMEOUT_SECONDS", 60)),
		BroadcastDelay:           time.Millisecond * time.Duration(getInt("BROADCAST_DELAY_MS", 100)),
		SweepInterval:            time.Minute * time.Duration(getInt("SWEEP_INTERVAL_MINUTES", 60)),
		StateBackend:             strings.ToLower(getEnv("STATE_BACKEND", StateBackendMemory)),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  getInt("REDIS_DB", 0),
		RabbitMQURL:              os.Getenv("RABBITMQ_URL"),
		S3Endpoint:               getEnv("S3_ENDPOINT", ""),
		S3Region:                 os.Getenv("S3_REGION"),
		S3AccessKey:              os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:              os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                 os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:          os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:           getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:                 getEnv("S3_PREFIX", "images"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.AdminID = getInt64("ADMIN_ID", 0)
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.CryptoPayAPIKey = os.Getenv("CRYPTOPAY_API_KEY")

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "Local"))
	if err != nil {
		return Config{}, fmt.Errorf("load timezone: %w", err)
	}
	cfg.Location = loc

	var missing []string
	if cfg.AdminID == 0 {
		missing = append(missing, "ADMIN_ID")
	}
	if cfg.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch cfg.DBDriver {
	case DriverSQLite, DriverMySQL:
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
	switch cfg.PaymentActivationMode {
	case ActivationAuto, ActivationManual:
	default:
		return Config{}, fmt.Errorf("unsupported PAYMENT_ACTIVATION_MODE: %s", cfg.PaymentActivationMode)
	}
	switch cfg.StateBackend {
	case StateBackendMemory, StateBackendRedis:
	default:
		return Config{}, fmt.Errorf("unsupported STATE_BACKEND: %s", cfg.StateBackend)
	}

	return cfg, nil
}

// RequireRuntime checks the credentials the long-running bot needs.
func (c Config) RequireRuntime() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.CryptoPayAPIKey == "" {
		missing = append(missing, "CRYPTOPAY_API_KEY")
	}
	switch c.BotMode {
	case BotModePolling:
	case BotModeWebhook:
		if c.PublicBaseURL == "" {
			missing = append(missing, "PUBLIC_BASE_URL")
		}
	default:
		return fmt.Errorf("unsupported BOT_MODE: %s", c.BotMode)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// S3Enabled reports whether generated images should be archived to object storage.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3PublicBaseURL != ""
}

// normalizeBaseURL adds a scheme when it is missing and drops the trailing slash.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		host, rest, _ := strings.Cut(parsed.Path, "/")
		parsed.Host = host
		parsed.Path = ""
		if rest != "" {
			parsed.Path = "/" + rest
		}
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile overloads the first env file found. Running without one is fine:
// containers usually pass the environment directly.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
