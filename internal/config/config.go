package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Poll       PollConfig       `mapstructure:"poll"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Bus        BusConfig        `mapstructure:"bus"`
	Validation ValidationConfig `mapstructure:"validation"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type PollConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	BaseInterval    time.Duration `mapstructure:"base_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	GenericFactor   float64       `mapstructure:"generic_factor"`
	RateLimitFactor float64       `mapstructure:"rate_limit_factor"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

type StreamConfig struct {
	URL                  string        `mapstructure:"url"`
	Token                string        `mapstructure:"token"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectBase        time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax         time.Duration `mapstructure:"reconnect_max"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
}

type BusConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

type ValidationConfig struct {
	EndingSoonMinutes     int           `mapstructure:"ending_soon_minutes"`
	EndingCriticalMinutes int           `mapstructure:"ending_critical_minutes"`
	MinBidSpacing         time.Duration `mapstructure:"min_bid_spacing"`
	FrequencyWindow       time.Duration `mapstructure:"frequency_window"`
	FrequencyLimit        int           `mapstructure:"frequency_limit"`
	LargeAmountCents      int64         `mapstructure:"large_amount_cents"`
	JumpPercent           float64       `mapstructure:"jump_percent"`
	BalanceWarnPercent    float64       `mapstructure:"balance_warn_percent"`
}

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("poll.base_url", "http://localhost:9090")
	viper.SetDefault("poll.token", "")
	viper.SetDefault("poll.base_interval", 3*time.Second)
	viper.SetDefault("poll.max_interval", 2*time.Minute)
	viper.SetDefault("poll.generic_factor", 1.5)
	viper.SetDefault("poll.rate_limit_factor", 2.0)
	viper.SetDefault("poll.request_timeout", 10*time.Second)
	viper.SetDefault("stream.url", "ws://localhost:9090/stream")
	viper.SetDefault("stream.token", "")
	viper.SetDefault("stream.max_reconnect_attempts", 5)
	viper.SetDefault("stream.reconnect_base", time.Second)
	viper.SetDefault("stream.reconnect_max", 30*time.Second)
	viper.SetDefault("stream.handshake_timeout", 10*time.Second)
	viper.SetDefault("bus.history_size", 50)
	viper.SetDefault("validation.ending_soon_minutes", 15)
	viper.SetDefault("validation.ending_critical_minutes", 5)
	viper.SetDefault("validation.min_bid_spacing", 5*time.Second)
	viper.SetDefault("validation.frequency_window", time.Minute)
	viper.SetDefault("validation.frequency_limit", 10)
	viper.SetDefault("validation.large_amount_cents", 1000000)
	viper.SetDefault("validation.jump_percent", 50.0)
	viper.SetDefault("validation.balance_warn_percent", 90.0)

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/auction-livesync/")

	// Environment variable support
	viper.AutomaticEnv()

	// Environment variable mappings
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("poll.base_url", "POLL_BASE_URL")
	viper.BindEnv("poll.token", "POLL_TOKEN")
	viper.BindEnv("poll.base_interval", "POLL_BASE_INTERVAL")
	viper.BindEnv("poll.max_interval", "POLL_MAX_INTERVAL")
	viper.BindEnv("stream.url", "STREAM_URL")
	viper.BindEnv("stream.token", "STREAM_TOKEN")
	viper.BindEnv("stream.max_reconnect_attempts", "STREAM_MAX_RECONNECT_ATTEMPTS")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, continue with defaults and environment variables
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Poll: %s every %s, Stream: %s",
		c.Server.Host,
		c.Server.Port,
		c.Poll.BaseURL,
		c.Poll.BaseInterval,
		c.Stream.URL,
	)
}
