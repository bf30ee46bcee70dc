package config

import (
	"time"

	"github.com/spf13/viper"
)

type SocketCfg struct {
	URL                  string `mapstructure:"url"`
	HandshakeTimeoutSecs int    `mapstructure:"handshake_timeout_seconds"`
}

type APICfg struct {
	BaseURL             string `mapstructure:"base_url"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	RetryMaxElapsedSecs int    `mapstructure:"retry_max_elapsed_seconds"`
}

type ChatCfg struct {
	PinLimit        int     `mapstructure:"pin_limit"`
	TypingPerSecond float64 `mapstructure:"typing_per_second"`
}

type Config struct {
	UserID      string    `mapstructure:"user_id"`
	UserName    string    `mapstructure:"user_name"`
	AuthToken   string    `mapstructure:"auth_token"`
	Development bool      `mapstructure:"development"`
	Socket      SocketCfg `mapstructure:"socket"`
	API         APICfg    `mapstructure:"api"`
	Chat        ChatCfg   `mapstructure:"chat"`
	// Derived
	HandshakeTimeout time.Duration
	APITimeout       time.Duration
	RetryMaxElapsed  time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvPrefix("APP")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Socket.HandshakeTimeoutSecs == 0 {
		cfg.Socket.HandshakeTimeoutSecs = 10
	}
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 15
	}
	if cfg.API.RetryMaxElapsedSecs == 0 {
		cfg.API.RetryMaxElapsedSecs = 30
	}
	if cfg.Chat.PinLimit == 0 {
		cfg.Chat.PinLimit = 5
	}
	if cfg.Chat.TypingPerSecond == 0 {
		cfg.Chat.TypingPerSecond = 1
	}
	cfg.HandshakeTimeout = time.Duration(cfg.Socket.HandshakeTimeoutSecs) * time.Second
	cfg.APITimeout = time.Duration(cfg.API.TimeoutSeconds) * time.Second
	cfg.RetryMaxElapsed = time.Duration(cfg.API.RetryMaxElapsedSecs) * time.Second
	return &cfg, nil
}
