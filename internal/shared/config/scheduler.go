package config

import (
	"time"

	"github.com/spf13/viper"
)

// SchedulerConfig contains all configuration for the scheduler service.
type SchedulerConfig struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig contains REST API server configuration.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoadScheduler loads the scheduler configuration from the given path.
// If configPath is empty, it looks for scheduler.yaml in the config/ directory.
// Environment variables with SCHEDULER_ prefix override config file values,
// and AMQP_HOSTNAME is honoured for the broker host.
func LoadScheduler(configPath string) (*SchedulerConfig, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":5000")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	setBrokerDefaults(v)
	setLoggingDefaults(v)

	_ = v.BindEnv("broker.host", "SCHEDULER_BROKER_HOST", "AMQP_HOSTNAME")

	var cfg SchedulerConfig
	if err := load(v, configPath, "scheduler", "SCHEDULER", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
