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
	StaticPath    string        `mapstructure:"static_path"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	Secret        string        `mapstructure:"secret"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	NotifyWorkers int           `mapstructure:"notify_workers"`
	JoinLimit     int           `mapstructure:"join_limit"`
	JoinInterval  time.Duration `mapstructure:"join_interval"`
	Backpressure  string        `mapstructure:"backpressure"`
	ICEServers    []string      `mapstructure:"ice_servers"`
	MetricsPath   string        `mapstructure:"metrics_path"`
}

// Load reads config/config.<env>.yaml. An empty env falls back to
// CONFIG_ENV, then to "dev". A missing file yields the defaults.
func Load(env string) (*Config, error) {
	if env == "" {
		env = os.Getenv("CONFIG_ENV")
	}
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("notify_workers", 8)
	v.SetDefault("join_limit", 5)
	v.SetDefault("join_interval", "10s")
	v.SetDefault("backpressure", "kick")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("metrics_path", "/metrics")

	v.SetEnvPrefix("relay")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}
