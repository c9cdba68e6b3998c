package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	AllowedOrigin string        `mapstructure:"allowed_origin"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	Secret        string        `mapstructure:"secret"`

	// Credentials for the managed-media-relay token endpoint.
	RTCAppID          string        `mapstructure:"rtc_app_id"`
	RTCAppCertificate string        `mapstructure:"rtc_app_certificate"`
	RTCTokenTTL       time.Duration `mapstructure:"rtc_token_ttl"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults
// when the file is absent. PORT from the environment wins over both.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 3001)
	v.SetDefault("allowed_origin", "http://localhost:5173")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "jamroom-dev-secret")
	v.SetDefault("rtc_app_id", "")
	v.SetDefault("rtc_app_certificate", "")
	v.SetDefault("rtc_token_ttl", "3600s")

	_ = v.BindEnv("port", "PORT")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("origin", cfg.AllowedOrigin).Msg("effective config")
	return &cfg, nil
}
