package config

import (
	"time"

	"github.com/spf13/viper"
)

// CtlConfig contains all configuration for the schedctl operator tool.
type CtlConfig struct {
	Server  ServerConfig  `mapstructure:"server"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Submit  SubmitConfig  `mapstructure:"submit"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig describes how schedctl reaches the scheduler REST API.
type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
	Backoff time.Duration `mapstructure:"backoff"`
}

type SubmitConfig struct {
	Parallel int `mapstructure:"parallel"`
}

// LoadCtl loads the schedctl configuration from the given path.
// If configPath is empty, it looks for schedctl.yaml in the config/ directory.
// Environment variables with SCHEDCTL_ prefix override config file values.
func LoadCtl(configPath string) (*CtlConfig, error) {
	v := viper.New()

	v.SetDefault("server.url", "http://localhost:5000")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.retries", 3)
	v.SetDefault("server.backoff", 500*time.Millisecond)
	v.SetDefault("submit.parallel", 4)
	setBrokerDefaults(v)
	v.SetDefault("broker.host", "localhost")
	setLoggingDefaults(v)
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	var cfg CtlConfig
	if err := load(v, configPath, "schedctl", "SCHEDCTL", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
