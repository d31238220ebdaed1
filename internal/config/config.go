package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type Config struct {
	// Database
	PostgresDSN   string
	RedisURL      string
	MigrationsDir string

	// Bot
	BotToken       string
	BotInternalURL string
	InternalAPIKey string
	LogGroupChatID int64 // 0 disables log group notifications

	// Escrow
	FeePercent            decimal.Decimal
	UPIID                 string
	PayeeName             string
	ActionTokenTTL        time.Duration
	DefaultDeliveryWindow time.Duration

	// Expiry sweep
	ExpirySweepInterval time.Duration
	ExpirySweepBatch    int

	// Admin
	AdminTelegramIDs []int64

	// Auth
	WebAppSecret   string
	JWTSecret      string
	JWTExpiration  time.Duration
	InitDataMaxAge time.Duration

	// Server
	APIPort          string
	RateLimitPerMin  int
	ConfigFileLoaded string
}

// Load parses --config from args and builds the Config. Values come from,
// lowest to highest precedence: defaults, the YAML file, .env, environment.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("escrow", pflag.ContinueOnError)
	path := fs.StringP("config", "c", os.Getenv("CONFIG_FILE"), "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return LoadFile(*path)
}

// MustLoad is Load for main packages.
func MustLoad(log *zap.Logger) *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}
	return cfg
}

func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	f := defaultFile()
	if path != "" {
		if err := f.read(path); err != nil {
			return nil, err
		}
	}

	fee, err := decimal.NewFromString(getEnv("FEE_PERCENT", f.Bot.FeePercent.String()))
	if err != nil {
		return nil, fmt.Errorf("FEE_PERCENT: %w", err)
	}

	cfg := &Config{
		PostgresDSN:   getEnv("POSTGRES_DSN", f.Database.PostgresDSN),
		RedisURL:      getEnv("REDIS_URL", f.Database.RedisURL),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		BotToken:       getEnv("BOT_TOKEN", f.Bot.Token),
		BotInternalURL: getEnv("BOT_INTERNAL_URL", f.Bot.InternalURL),
		InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),
		LogGroupChatID: getEnvInt64("LOG_GROUP_ID", f.Bot.LogGroupID),

		FeePercent:            fee,
		UPIID:                 getEnv("UPI_ID", f.Bot.UPIID),
		PayeeName:             getEnv("PAYEE_NAME", f.Bot.PayeeName),
		ActionTokenTTL:        time.Duration(getEnvInt("ACTION_TOKEN_TTL_SECONDS", f.Security.ActionTokenTTLSeconds)) * time.Second,
		DefaultDeliveryWindow: time.Duration(getEnvInt("DELIVERY_WINDOW_HOURS", f.Bot.DeliveryWindowHours)) * time.Hour,

		ExpirySweepInterval: time.Duration(getEnvInt("EXPIRY_SWEEP_INTERVAL_SECONDS", f.Worker.ExpirySweepIntervalSeconds)) * time.Second,
		ExpirySweepBatch:    getEnvInt("EXPIRY_SWEEP_BATCH", f.Worker.ExpirySweepBatch),

		AdminTelegramIDs: f.Bot.AdminIDs,

		WebAppSecret:   getEnv("WEBAPP_SECRET", ""),
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		JWTExpiration:  time.Duration(getEnvInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,
		InitDataMaxAge: time.Duration(getEnvInt("INIT_DATA_MAX_AGE_SECONDS", 300)) * time.Second,

		APIPort:          getEnv("API_PORT", "3000"),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		ConfigFileLoaded: path,
	}

	if ids := os.Getenv("ADMIN_TELEGRAM_IDS"); ids != "" {
		cfg.AdminTelegramIDs = parseIDList(ids)
	}
	if cfg.WebAppSecret == "" && cfg.BotToken != "" {
		cfg.WebAppSecret = cfg.BotToken
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var hundred = decimal.NewFromInt(100)

func (c *Config) check() error {
	var errs []error
	if c.FeePercent.IsNegative() || c.FeePercent.GreaterThanOrEqual(hundred) {
		errs = append(errs, fmt.Errorf("fee percent must be in [0, 100), got %s", c.FeePercent))
	}
	if c.ActionTokenTTL <= 0 {
		errs = append(errs, errors.New("action token ttl must be positive"))
	}
	if c.DefaultDeliveryWindow <= 0 {
		errs = append(errs, errors.New("delivery window must be positive"))
	}
	if c.ExpirySweepInterval <= 0 {
		errs = append(errs, errors.New("expiry sweep interval must be positive"))
	}
	if c.UPIID == "" {
		errs = append(errs, errors.New("upi id is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminTelegramIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// Validate logs settings that are legal but unsafe for production.
func (c *Config) Validate(log *zap.Logger) {
	if c.BotToken == "" {
		log.Warn("BOT_TOKEN is not set")
	}
	if c.JWTSecret == "change-me-in-production" {
		log.Warn("JWT_SECRET is default, change in production")
	}
	if c.InternalAPIKey == "" {
		log.Warn("INTERNAL_API_KEY is not set, /internal routes are disabled")
	}
	if len(c.AdminTelegramIDs) == 0 {
		log.Warn("no admin telegram ids configured, FUNDED and dispute resolution are unreachable")
	}
	if c.LogGroupChatID == 0 {
		log.Info("log group notifications disabled")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseIDList(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
