package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvFileVar names the environment variable pointing at an optional dotenv file.
const EnvFileVar = "PAWPAL_ENV_FILE"

const defaultTokenTTL = 7 * 24 * time.Hour

type Config struct {
	Port            string
	Environment     string
	DatabaseDriver  string
	DatabaseURL     string
	JWTSecret       string
	TokenTTL        time.Duration
	CORSOrigins     string
	LogLevel        string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
	LoginRate       int64
	RegisterRate    int64
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"ENVIRONMENT":              "development",
	"DATABASE_DRIVER":          "sqlite3",
	"DATABASE_URL":             "./data/pawpal.db",
	"JWT_SECRET":               "your-secret-key-change-in-production",
	"JWT_EXPIRES_IN":           "7d",
	"CORS_ORIGINS":             "*",
	"LOG_LEVEL":                "info",
	"VAPID_PUBLIC_KEY":         "",
	"VAPID_PRIVATE_KEY":        "",
	"VAPID_SUBSCRIBER":         "mailto:push@pawpal.local",
	"LOGIN_RATE_PER_MINUTE":    "5",
	"REGISTER_RATE_PER_MINUTE": "2",
}

// Load reads configuration from the environment, layered over the dotenv
// file named by PAWPAL_ENV_FILE when set. Environment variables win.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path, ok := os.LookupEnv(EnvFileVar); ok && strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	ttl, err := ParseTTL(v.GetString("JWT_EXPIRES_IN"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:            v.GetString("PORT"),
		Environment:     v.GetString("ENVIRONMENT"),
		DatabaseDriver:  v.GetString("DATABASE_DRIVER"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		TokenTTL:        ttl,
		CORSOrigins:     v.GetString("CORS_ORIGINS"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		VAPIDPublicKey:  v.GetString("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: v.GetString("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: v.GetString("VAPID_SUBSCRIBER"),
		LoginRate:       parseRate(v.GetString("LOGIN_RATE_PER_MINUTE"), 5),
		RegisterRate:    parseRate(v.GetString("REGISTER_RATE_PER_MINUTE"), 2),
	}, nil
}

// ParseTTL accepts Go durations ("168h") and whole days ("7d").
// An empty value means the default of seven days.
func ParseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultTokenTTL, nil
	}

	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid JWT_EXPIRES_IN %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid JWT_EXPIRES_IN %q", raw)
	}
	return d, nil
}

func parseRate(s string, fallback int64) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}
