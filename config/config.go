// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram struct {
		Token string
	}
	DB struct {
		Host         string
		Port         string
		User         string
		Password     string
		DBName       string
		SSLMode      string
		MaxOpenConns int
		MaxIdleConns int
		ConnLifetime time.Duration
	}
	Weather struct {
		APIKey  string
		BaseURL string
		Units   string
		Lang    string
		Timeout time.Duration
	}
	Report struct {
		// MaxChars is the transport message-size guard: a comparison
		// report longer than this is replaced by a notice, never cut.
		MaxChars int
	}
	Session struct {
		TTL           time.Duration
		SweepInterval time.Duration
	}
	Server struct {
		Port string
	}
	ShutdownTimeout time.Duration
}

// Load loads the configuration
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetConfigType("json")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.weather-bot")

	// Set default values
	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 10)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)
	v.SetDefault("Weather.BaseURL", "https://api.openweathermap.org/data/2.5/forecast")
	v.SetDefault("Weather.Units", "metric")
	v.SetDefault("Weather.Lang", "en")
	v.SetDefault("Weather.Timeout", 10*time.Second)
	v.SetDefault("Report.MaxChars", 4000)
	v.SetDefault("Session.TTL", 30*time.Minute)
	v.SetDefault("Session.SweepInterval", 5*time.Minute)

	// Enable environment variables to override config values
	v.AutomaticEnv()

	err := v.ReadInConfig()

	// No config file: assemble the config from environment variables only.
	if err != nil {
		cfg := &Config{}

		cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
		cfg.DB.Host = getEnvOr("DB_HOST", "localhost")
		cfg.DB.Port = getEnvOr("DB_PORT", "5432")
		cfg.DB.User = getEnvOr("DB_USER", "postgres")
		cfg.DB.Password = getEnvOr("DB_PASSWORD", "postgres")
		cfg.DB.DBName = getEnvOr("DB_NAME", "weather_bot")
		cfg.DB.SSLMode = getEnvOr("DB_SSL_MODE", "disable")
		cfg.DB.MaxOpenConns = 20
		cfg.DB.MaxIdleConns = 10
		cfg.DB.ConnLifetime = 5 * time.Minute
		cfg.Weather.APIKey = os.Getenv("OWM_API_KEY")
		cfg.Weather.BaseURL = getEnvOr("OWM_BASE_URL", "https://api.openweathermap.org/data/2.5/forecast")
		cfg.Weather.Units = getEnvOr("OWM_UNITS", "metric")
		cfg.Weather.Lang = getEnvOr("OWM_LANG", "en")
		cfg.Weather.Timeout = 10 * time.Second
		cfg.Report.MaxChars = getEnvIntOr("REPORT_MAX_CHARS", 4000)
		cfg.Session.TTL = 30 * time.Minute
		cfg.Session.SweepInterval = 5 * time.Minute
		cfg.Server.Port = getEnvOr("SERVER_PORT", "8080")
		cfg.ShutdownTimeout = 10 * time.Second

		return cfg, nil
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			envValue := os.Getenv(envVar)
			if envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Helper function to get environment variable with default value
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOr(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
