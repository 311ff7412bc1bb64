package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string
	TempRoot        string
	SessionPrefix   string
	SessionTitle    string
	SessionBanner   string
	SettleDelay     time.Duration
	ResponseTimeout time.Duration
	LinkTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxSessions     int
	LogLevel        string
	LibLogLevel     string
	DeviceName      string
	PairDisplayName string
	QRSize          int
	PrintQR         bool
}

// SetDefaults registers every key with its default so AutomaticEnv can pick it up.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("TEMP_ROOT", os.TempDir())
	v.SetDefault("SESSION_PREFIX", "RED-X~")
	v.SetDefault("SESSION_TITLE", "*✅ RED-X SESSION ID*")
	v.SetDefault("SESSION_BANNER", "")
	v.SetDefault("SETTLE_DELAY", 5*time.Second)
	v.SetDefault("RESPONSE_TIMEOUT", 30*time.Second)
	v.SetDefault("LINK_TIMEOUT", 3*time.Minute)
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("MAX_SESSIONS", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LIB_LOG_LEVEL", "silent")
	v.SetDefault("DEVICE_NAME", "Red X Pair")
	v.SetDefault("PAIR_DISPLAY_NAME", "Chrome (macOS)")
	v.SetDefault("QR_SIZE", 256)
	v.SetDefault("PRINT_QR", false)
}

// Load reads configuration from the environment, after loading envFile when it exists.
// A missing env file is not an error.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	SetDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:            v.GetString("PORT"),
		TempRoot:        v.GetString("TEMP_ROOT"),
		SessionPrefix:   v.GetString("SESSION_PREFIX"),
		SessionTitle:    v.GetString("SESSION_TITLE"),
		SessionBanner:   v.GetString("SESSION_BANNER"),
		SettleDelay:     v.GetDuration("SETTLE_DELAY"),
		ResponseTimeout: v.GetDuration("RESPONSE_TIMEOUT"),
		LinkTimeout:     v.GetDuration("LINK_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		MaxSessions:     v.GetInt("MAX_SESSIONS"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LibLogLevel:     v.GetString("LIB_LOG_LEVEL"),
		DeviceName:      v.GetString("DEVICE_NAME"),
		PairDisplayName: v.GetString("PAIR_DISPLAY_NAME"),
		QRSize:          v.GetInt("QR_SIZE"),
		PrintQR:         v.GetBool("PRINT_QR"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port == "":
		return errors.New("PORT must not be empty")
	case c.TempRoot == "":
		return errors.New("TEMP_ROOT must not be empty")
	case c.SettleDelay < 0:
		return errors.New("SETTLE_DELAY must not be negative")
	case c.ResponseTimeout <= 0:
		return errors.New("RESPONSE_TIMEOUT must be positive")
	case c.LinkTimeout <= 0:
		return errors.New("LINK_TIMEOUT must be positive")
	case c.ShutdownTimeout <= 0:
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	case c.MaxSessions < 0:
		return errors.New("MAX_SESSIONS must not be negative")
	case c.QRSize <= 0:
		return errors.New("QR_SIZE must be positive")
	}
	return nil
}
